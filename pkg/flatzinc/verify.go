package flatzinc

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Verification errors.
var (
	ErrOrderingMismatch  = errors.New("substituted list does not match ordering")
	ErrNotAPermutation   = errors.New("ordering is not a permutation of the search variables")
	ErrUnexpectedChanges = errors.New("substitution changed text outside the search list")
)

// maxDiffReport bounds the diff excerpt attached to ErrUnexpectedChanges.
const maxDiffReport = 512

// VerifySubstitution checks that mutated is original with only the search
// list replaced by ordering, and that ordering permutes the original variables.
func VerifySubstitution(original, mutated string, ordering []string) error {
	got := ExtractVariables(mutated)
	if !slices.Equal(got, ordering) {
		return fmt.Errorf("%w: got %v, want %v", ErrOrderingMismatch, got, ordering)
	}

	want := ExtractVariables(original)
	sortedWant := slices.Sorted(slices.Values(want))
	sortedGot := slices.Sorted(slices.Values(got))

	if !slices.Equal(sortedWant, sortedGot) {
		return fmt.Errorf("%w: %d variables, ordering has %d", ErrNotAPermutation, len(want), len(got))
	}

	maskedOriginal, err := maskList(original)
	if err != nil {
		return err
	}

	maskedMutated, err := maskList(mutated)
	if err != nil {
		return err
	}

	if maskedOriginal == maskedMutated {
		return nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(maskedOriginal, maskedMutated, false))

	report := dmp.DiffPrettyText(diffs)
	if len(report) > maxDiffReport {
		report = report[:maxDiffReport] + "..."
	}

	return fmt.Errorf("%w:\n%s", ErrUnexpectedChanges, report)
}

// maskList replaces the search list with an empty placeholder.
func maskList(text string) (string, error) {
	start, end, err := listSpan(text)
	if err != nil {
		return "", err
	}

	return text[:start] + "[]" + text[end:], nil
}

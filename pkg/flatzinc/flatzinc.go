// Package flatzinc reads and rewrites the variable list of a FlatZinc
// int_search annotation.
package flatzinc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoSearchAnnotation is returned when the text carries no int_search annotation.
var ErrNoSearchAnnotation = errors.New("no int_search annotation")

// ErrArrayNotDeclared is returned when the search annotation names an array
// whose declaration cannot be found.
var ErrArrayNotDeclared = errors.New("search array not declared")

// InputOrder is the variable-selection strategy that makes the solver branch in list order.
const InputOrder = "input_order"

var (
	// searchPattern captures the first int_search argument: an inline list or an array name.
	searchPattern = regexp.MustCompile(`(?s)solve\s*::\s*int_search\s*\(\s*(\[.*?\]|[A-Za-z_][A-Za-z0-9_]*)\s*,`)

	// strategyPattern captures the variable-selection argument of int_search.
	strategyPattern = regexp.MustCompile(
		`(?s)(solve\s*::\s*int_search\s*\(\s*(?:\[.*?\]|[A-Za-z_][A-Za-z0-9_]*)\s*,\s*)([A-Za-z_][A-Za-z0-9_]*)`)

	tokenPattern = regexp.MustCompile(`\b[\w\[\]]+\b`)
)

// arrayPattern matches the declaration of a named array and captures its literal list.
func arrayPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`array\s*\[[^\]]*\]\s*of\s+(?:var\s+)?[^:;]+:\s*` +
		regexp.QuoteMeta(name) + `\b[^=;]*=\s*(\[[^\]]*\])`)
}

// listSpan locates the byte range of the variable list the search annotation
// refers to: the inline list itself, or the literal of the named array.
func listSpan(text string) (start, end int, err error) {
	m := searchPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return 0, 0, ErrNoSearchAnnotation
	}

	arg := text[m[2]:m[3]]
	if strings.HasPrefix(arg, "[") {
		return m[2], m[3], nil
	}

	d := arrayPattern(arg).FindStringSubmatchIndex(text)
	if d == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrArrayNotDeclared, arg)
	}

	return d[2], d[3], nil
}

// ExtractVariables returns the search variables in annotation order.
// Text without a search annotation yields an empty result.
func ExtractVariables(text string) []string {
	start, end, err := listSpan(text)
	if err != nil {
		return []string{}
	}

	list := strings.ReplaceAll(text[start:end], "\n", "")
	inner := list[1 : len(list)-1]

	tokens := tokenPattern.FindAllString(inner, -1)
	if tokens == nil {
		return []string{}
	}

	return tokens
}

// FormatList renders an ordering as a FlatZinc list literal.
func FormatList(ordering []string) string {
	return "[" + strings.Join(ordering, ",") + "]"
}

// SubstituteVariables replaces the search variable list with ordering and
// leaves every other byte of text untouched.
func SubstituteVariables(text string, ordering []string) (string, error) {
	start, end, err := listSpan(text)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.Grow(len(text) + len(ordering))
	b.WriteString(text[:start])
	b.WriteString(FormatList(ordering))
	b.WriteString(text[end:])

	return b.String(), nil
}

// EnsureInputOrderAnnotation sets the variable-selection strategy of the
// search annotation to input_order. Text without an annotation is returned as is.
func EnsureInputOrderAnnotation(text string) string {
	m := strategyPattern.FindStringSubmatchIndex(text)
	if m == nil || text[m[4]:m[5]] == InputOrder {
		return text
	}

	return text[:m[4]] + InputOrder + text[m[5]:]
}

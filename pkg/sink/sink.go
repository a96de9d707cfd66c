// Package sink writes results into a parquet dataset partitioned by problem
// id and reads back the ids it already holds.
package sink

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

const (
	dirPerm         = 0o750
	partitionPrefix = "problem_id="
	partExtension   = ".parquet"
	tmpSuffix       = ".tmp"
	idColumn        = "id"
	partTimeLayout  = "150405.000000"
)

// ErrMissingIDColumn is returned for part files without an id column.
var ErrMissingIDColumn = errors.New("part file has no id column")

// Sink is a directory of parquet part files in problem_id=<id> partitions.
// Write is intended for a single caller; reads may run concurrently with it.
type Sink struct {
	root string
	seq  atomic.Int64
	now  func() time.Time
}

// Open prepares the dataset directory, creating it when missing.
func Open(root string) (*Sink, error) {
	mkdirErr := os.MkdirAll(root, dirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create sink dir: %w", mkdirErr)
	}

	s := &Sink{root: root, now: time.Now}

	parts, err := s.parts()
	if err != nil {
		return nil, err
	}

	s.seq.Store(int64(len(parts)))

	return s, nil
}

// Root returns the dataset directory.
func (s *Sink) Root() string {
	return s.root
}

// PartitionDir returns the directory holding a problem's part files.
func (s *Sink) PartitionDir(problemID string) string {
	return filepath.Join(s.root, partitionPrefix+url.PathEscape(problemID))
}

// Write appends results as one new part file per problem.
func (s *Sink) Write(ctx context.Context, results []experiment.Result) error {
	groups := make(map[string][]experiment.Result)
	for _, r := range results {
		groups[r.ProblemID] = append(groups[r.ProblemID], r)
	}

	problems := make([]string, 0, len(groups))
	for p := range groups {
		problems = append(problems, p)
	}

	slices.Sort(problems)

	for _, problem := range problems {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		writeErr := s.writePart(problem, groups[problem])
		if writeErr != nil {
			return writeErr
		}
	}

	return nil
}

func (s *Sink) writePart(problem string, rows []experiment.Result) error {
	dir := s.PartitionDir(problem)

	mkdirErr := os.MkdirAll(dir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create partition %s: %w", problem, mkdirErr)
	}

	name := fmt.Sprintf("part-%06d-%s%s", s.seq.Add(1), s.now().Format(partTimeLayout), partExtension)
	path := filepath.Join(dir, name)

	writeErr := parquet.WriteFile(path+tmpSuffix, rows)
	if writeErr != nil {
		_ = os.Remove(path + tmpSuffix)

		return fmt.Errorf("write part %s: %w", name, writeErr)
	}

	renameErr := os.Rename(path+tmpSuffix, path)
	if renameErr != nil {
		return fmt.Errorf("commit part %s: %w", name, renameErr)
	}

	return nil
}

// parts lists every committed part file in the dataset.
func (s *Sink) parts() ([]string, error) {
	var paths []string

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.HasSuffix(path, partExtension) {
			paths = append(paths, path)
		}

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("list sink parts: %w", walkErr)
	}

	return paths, nil
}

// Count returns the number of result rows in the dataset.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	parts, err := s.parts()
	if err != nil {
		return 0, err
	}

	var total int64

	for _, path := range parts {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return 0, ctxErr
		}

		n, countErr := withPartFile(path, func(pf *parquet.File) (int64, error) {
			return pf.NumRows(), nil
		})
		if countErr != nil {
			return 0, countErr
		}

		total += n
	}

	return total, nil
}

// IDs returns every job id present in the dataset, ascending.
func (s *Sink) IDs(ctx context.Context) ([]int64, error) {
	parts, err := s.parts()
	if err != nil {
		return nil, err
	}

	var ids []int64

	for _, path := range parts {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, ctxErr
		}

		_, readErr := withPartFile(path, func(pf *parquet.File) (int64, error) {
			var readIDsErr error

			ids, readIDsErr = appendIDs(ids, pf)

			return 0, readIDsErr
		})
		if readErr != nil {
			return nil, readErr
		}
	}

	slices.SortFunc(ids, cmp.Compare[int64])

	return ids, nil
}

// ReadAll loads every result in the dataset. Intended for tests and small datasets.
func (s *Sink) ReadAll(ctx context.Context) ([]experiment.Result, error) {
	parts, err := s.parts()
	if err != nil {
		return nil, err
	}

	var out []experiment.Result

	for _, path := range parts {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, ctxErr
		}

		rows, readErr := parquet.ReadFile[experiment.Result](path)
		if readErr != nil {
			return nil, fmt.Errorf("read part %s: %w", path, readErr)
		}

		out = append(out, rows...)
	}

	slices.SortFunc(out, func(a, b experiment.Result) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

func withPartFile(path string, fn func(*parquet.File) (int64, error)) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open part: %w", err)
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return 0, fmt.Errorf("stat part: %w", statErr)
	}

	pf, openErr := parquet.OpenFile(f, info.Size())
	if openErr != nil {
		return 0, fmt.Errorf("open parquet %s: %w", path, openErr)
	}

	return fn(pf)
}

// appendIDs reads only the id column of a part file.
func appendIDs(ids []int64, pf *parquet.File) ([]int64, error) {
	leaf, ok := pf.Schema().Lookup(idColumn)
	if !ok {
		return nil, ErrMissingIDColumn
	}

	for _, rg := range pf.RowGroups() {
		pages := rg.ColumnChunks()[leaf.ColumnIndex].Pages()

		var err error

		ids, err = readPages(ids, pages)

		closeErr := pages.Close()
		if err != nil {
			return nil, err
		}

		if closeErr != nil {
			return nil, fmt.Errorf("close pages: %w", closeErr)
		}
	}

	return ids, nil
}

func readPages(ids []int64, pages parquet.Pages) ([]int64, error) {
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}

		if err != nil {
			return nil, fmt.Errorf("read id page: %w", err)
		}

		values := make([]parquet.Value, page.NumValues())

		n, readErr := page.Values().ReadValues(values)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read id values: %w", readErr)
		}

		for _, v := range values[:n] {
			ids = append(ids, v.Int64())
		}
	}
}

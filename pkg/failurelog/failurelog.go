// Package failurelog records the ids of failed jobs, one per line.
package failurelog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultName is the failure log file name inside the output directory.
const DefaultName = "failed_jobs.txt"

const (
	filePerm = 0o600
	dirPerm  = 0o750
)

// Log is an append-only list of failed job ids.
// The file is opened for every append and closed right after, so a crash
// never loses an acknowledged failure.
type Log struct {
	path string
}

// New creates a failure log at path. The file is created on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append records one failed job id.
func (l *Log) Append(id int64) error {
	mkdirErr := os.MkdirAll(filepath.Dir(l.path), dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create failure log dir: %w", mkdirErr)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}

	_, writeErr := f.WriteString(strconv.FormatInt(id, 10) + "\n")
	closeErr := f.Close()

	if joined := errors.Join(writeErr, closeErr); joined != nil {
		return fmt.Errorf("append failure %d: %w", id, joined)
	}

	return nil
}

// IDs reads back every recorded id in append order. A missing file yields none.
func (l *Log) IDs() ([]int64, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	defer f.Close()

	var ids []int64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		id, parseErr := strconv.ParseInt(line, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("parse failure log line %q: %w", line, parseErr)
		}

		ids = append(ids, id)
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("read failure log: %w", scanErr)
	}

	return ids, nil
}

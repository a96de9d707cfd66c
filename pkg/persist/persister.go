package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const filePerm = 0o600

// Path returns the file a document with basename is stored in.
func Path(dir, basename string, codec Codec) string {
	return filepath.Join(dir, basename+codec.Extension())
}

// SaveState writes state to dir/basename<ext>. The file is written to a
// temporary name first and renamed, so readers never see a partial document.
func SaveState(dir, basename string, codec Codec, state any) error {
	path := Path(dir, basename, codec)

	tmp, err := os.CreateTemp(dir, basename+".*.tmp")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	encodeErr := codec.Encode(tmp, state)
	chmodErr := tmp.Chmod(filePerm)
	closeErr := tmp.Close()

	if joined := errors.Join(encodeErr, chmodErr, closeErr); joined != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("encode state: %w", joined)
	}

	renameErr := os.Rename(tmp.Name(), path)
	if renameErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("commit state file: %w", renameErr)
	}

	return nil
}

// LoadState decodes dir/basename<ext> into state, which must be a pointer.
func LoadState(dir, basename string, codec Codec, state any) error {
	file, err := os.Open(Path(dir, basename, codec))
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	decodeErr := codec.Decode(file, state)
	if decodeErr != nil {
		return fmt.Errorf("decode state: %w", decodeErr)
	}

	return nil
}

// Persister binds a basename and codec to one state type.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister for documents named basename.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{basename: basename, codec: codec}
}

// Path returns the document path inside dir.
func (p *Persister[T]) Path(dir string) string {
	return Path(dir, p.basename, p.codec)
}

// Save writes state into dir.
func (p *Persister[T]) Save(dir string, state *T) error {
	return SaveState(dir, p.basename, p.codec, state)
}

// Load reads the document from dir.
func (p *Persister[T]) Load(dir string) (*T, error) {
	var state T

	err := LoadState(dir, p.basename, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Package checkpoint snapshots the output dataset into compressed archives
// and tracks run metadata next to them.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/varorder/pkg/persist"
)

// MetadataVersion is the current run metadata format version.
const MetadataVersion = 1

const (
	dirPerm      = 0o750
	metadataName = "run"
	backupPrefix = "backup_"
)

// Sentinel errors for run validation.
var (
	ErrWorkloadMismatch = errors.New("workload mismatch")
	ErrOutputMismatch   = errors.New("output dir mismatch")
)

// Metadata describes one run and the archives taken during it.
type Metadata struct {
	Version   int      `json:"version"`
	RunID     string   `json:"run_id"`
	Workload  string   `json:"workload"`
	OutputDir string   `json:"output_dir"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Target    int64    `json:"target"`
	Processed int64    `json:"processed"`
	Failed    int64    `json:"failed"`
	Sequence  int      `json:"sequence"`
	Archives  []string `json:"archives"`
}

// Manager writes archives and metadata for one run under BaseDir/RunID.
type Manager struct {
	BaseDir string
	RunID   string
	// Keep bounds the number of archives retained; zero keeps all.
	Keep int

	logger    *slog.Logger
	persister *persist.Persister[Metadata]
	meta      *Metadata
}

// NewManager creates a checkpoint manager for a run.
func NewManager(baseDir, runID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		BaseDir:   baseDir,
		RunID:     runID,
		logger:    logger,
		persister: persist.NewPersister[Metadata](metadataName, persist.NewJSONCodec()),
	}
}

// CheckpointDir returns the directory holding this run's archives.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.RunID)
}

// MetadataPath returns the path to the run metadata file.
func (m *Manager) MetadataPath() string {
	return m.persister.Path(m.CheckpointDir())
}

// Exists reports whether metadata for this run exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes every archive and the metadata of this run.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.CheckpointDir())
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	m.meta = nil

	return nil
}

// Begin records the start of a run.
func (m *Manager) Begin(workload, outputDir string, target int64) error {
	mkdirErr := os.MkdirAll(m.CheckpointDir(), dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create checkpoint dir: %w", mkdirErr)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	m.meta = &Metadata{
		Version:   MetadataVersion,
		RunID:     m.RunID,
		Workload:  workload,
		OutputDir: outputDir,
		CreatedAt: now,
		UpdatedAt: now,
		Target:    target,
	}

	return m.save()
}

// Archive snapshots srcDir into the next backup archive and updates the metadata
// with the run's progress. The archive appears atomically under its final name.
func (m *Manager) Archive(ctx context.Context, srcDir string, processed, failed int64) (string, error) {
	if m.meta == nil {
		beginErr := m.Begin("", srcDir, 0)
		if beginErr != nil {
			return "", beginErr
		}
	}

	name := fmt.Sprintf("%s%d%s", backupPrefix, m.meta.Sequence+1, archiveExtension)
	path := filepath.Join(m.CheckpointDir(), name)

	f, err := os.OpenFile(path+tmpSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	writeErr := writeArchive(ctx, srcDir, f)
	closeErr := f.Close()

	if joined := errors.Join(writeErr, closeErr); joined != nil {
		_ = os.Remove(path + tmpSuffix)

		return "", joined
	}

	renameErr := os.Rename(path+tmpSuffix, path)
	if renameErr != nil {
		return "", fmt.Errorf("commit archive: %w", renameErr)
	}

	m.meta.Sequence++
	m.meta.Archives = append(m.meta.Archives, name)
	m.meta.Processed = processed
	m.meta.Failed = failed

	pruneErr := m.prune()
	if pruneErr != nil {
		return "", pruneErr
	}

	saveErr := m.save()
	if saveErr != nil {
		return "", saveErr
	}

	m.logger.InfoContext(ctx, "checkpoint archived",
		slog.String("archive", path),
		slog.Int64("processed", processed))

	return path, nil
}

// Finish records the final progress of the run.
func (m *Manager) Finish(processed, failed int64) error {
	if m.meta == nil {
		return nil
	}

	m.meta.Processed = processed
	m.meta.Failed = failed

	return m.save()
}

func (m *Manager) prune() error {
	if m.Keep <= 0 || len(m.meta.Archives) <= m.Keep {
		return nil
	}

	drop := m.meta.Archives[:len(m.meta.Archives)-m.Keep]
	for _, name := range drop {
		removeErr := os.Remove(filepath.Join(m.CheckpointDir(), name))
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("prune archive %s: %w", name, removeErr)
		}
	}

	m.meta.Archives = slices.Clone(m.meta.Archives[len(drop):])

	return nil
}

func (m *Manager) save() error {
	m.meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	err := m.persister.Save(m.CheckpointDir(), m.meta)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// LoadMetadata reads the run metadata from disk.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	meta, err := m.persister.Load(m.CheckpointDir())
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	return meta, nil
}

// Validate checks that the stored run belongs to the given workload and output.
func (m *Manager) Validate(workload, outputDir string) error {
	meta, err := m.LoadMetadata()
	if err != nil {
		return err
	}

	if meta.Workload != workload {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrWorkloadMismatch, meta.Workload, workload)
	}

	if meta.OutputDir != outputDir {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrOutputMismatch, meta.OutputDir, outputDir)
	}

	return nil
}

// Archives lists the archive files currently present for this run, oldest first.
func (m *Manager) Archives() ([]string, error) {
	entries, err := os.ReadDir(m.CheckpointDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	var out []string

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), archiveExtension) {
			out = append(out, filepath.Join(m.CheckpointDir(), e.Name()))
		}
	}

	slices.SortFunc(out, func(a, b string) int { return archiveNumber(a) - archiveNumber(b) })

	return out, nil
}

func archiveNumber(path string) int {
	var n int

	_, err := fmt.Sscanf(filepath.Base(path), backupPrefix+"%d"+archiveExtension, &n)
	if err != nil {
		return 0
	}

	return n
}

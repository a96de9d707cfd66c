package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runState struct {
	RunID     string `json:"run_id" yaml:"run_id"`
	Processed int64  `json:"processed" yaml:"processed"`
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{NewJSONCodec(), NewYAMLCodec()} {
		dir := t.TempDir()
		p := NewPersister[runState]("run", codec)

		require.NoError(t, p.Save(dir, &runState{RunID: "r1", Processed: 5_000_000}))

		loaded, err := p.Load(dir)
		require.NoError(t, err)
		assert.Equal(t, runState{RunID: "r1", Processed: 5_000_000}, *loaded)
		assert.FileExists(t, filepath.Join(dir, "run"+codec.Extension()))

		leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	}
}

func TestPersister_SaveOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[runState]("run", NewJSONCodec())

	require.NoError(t, p.Save(dir, &runState{Processed: 1}))
	require.NoError(t, p.Save(dir, &runState{Processed: 2}))

	loaded, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Processed)

	info, err := os.Stat(p.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())
}

func TestPersister_Errors(t *testing.T) {
	t.Parallel()

	p := NewPersister[runState]("missing", NewJSONCodec())

	_, err := p.Load(t.TempDir())
	require.Error(t, err)

	err = p.Save(filepath.Join(t.TempDir(), "nonexistent"), &runState{})
	require.Error(t, err)
}

func TestJSONCodec_Compact(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, (&JSONCodec{}).Encode(&buf, runState{RunID: "x"}))
	assert.Equal(t, "{\"run_id\":\"x\",\"processed\":0}\n", buf.String())
}

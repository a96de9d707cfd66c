package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply_FillsUnsetFields(t *testing.T) {
	Version, Commit, Date = "dev", unknown, unknown

	t.Cleanup(func() { Version, Commit, Date = "dev", unknown, unknown })

	apply(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: settingRevision, Value: "0123456789abcdef0123"},
			{Key: settingTime, Value: "2024-05-01T10:00:00Z"},
		},
	})

	assert.Equal(t, "v1.2.3", Version)
	assert.Equal(t, "0123456789ab", Commit)
	assert.Equal(t, "2024-05-01T10:00:00Z", Date)
}

func TestApply_KeepsLinkerValues(t *testing.T) {
	Version, Commit, Date = "v9.0.0", "abc", "today"

	t.Cleanup(func() { Version, Commit, Date = "dev", unknown, unknown })

	apply(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: settingRevision, Value: "ffff"}},
	})

	assert.Equal(t, "v9.0.0", Version)
	assert.Equal(t, "abc", Commit)
	assert.Equal(t, "today", Date)
}

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_BeforeInit(t *testing.T) {
	saved := Logger
	Logger = nil
	t.Cleanup(func() { Logger = saved })

	assert.NotNil(t, Get())
	assert.Same(t, Get(), Get(), "the fallback logger is shared")
}

func TestInit_WritesLogFile(t *testing.T) {
	saved := Logger
	t.Cleanup(func() { Logger = saved })

	path := filepath.Join(t.TempDir(), "collector.log")
	require.NoError(t, Init("production", path))

	Named("fetcher").Info("Repository failed")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"fetcher"`)
	assert.Contains(t, string(data), "Repository failed")
	assert.Contains(t, string(data), `"timestamp"`)
}

package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWorkDir_EnvOverride(t *testing.T) {
	t.Setenv("WORK_DIR", "/srv/shoptrans")
	assert.Equal(t, "/srv/shoptrans", DefaultWorkDir())
	assert.Equal(t, filepath.Join("/srv/shoptrans", "providers.yaml"), DataPath("providers.yaml"))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))
	assert.DirExists(t, dir)
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/carrica/errors"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 8, c.InitialSlots)
	assert.Equal(t, "main", c.DefaultModule)
	assert.Equal(t, "carrica", c.HostName)
	assert.Equal(t, ".wren", c.LoaderExt)
	require.NoError(t, c.Validate())
}

func TestDecode_TOML(t *testing.T) {
	c, err := Decode([]byte(`
debug = true
initial_slots = 2
loader_preset = "os.filesystem"
loader_root = "scripts"

[[modules]]
name = "util"
source = "class U {}"
`), ".toml")
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, 2, c.InitialSlots)
	assert.Equal(t, PresetFilesystem, c.LoaderPreset)
	assert.Equal(t, "main", c.DefaultModule)
	require.Len(t, c.Modules, 1)
	assert.Equal(t, "util", c.Modules[0].Name)
}

func TestDecode_YAML(t *testing.T) {
	c, err := Decode([]byte(`
host_name: demo
loader_preset: sql
module_store: modules.db
`), "yml")
	require.NoError(t, err)
	assert.Equal(t, "demo", c.HostName)
	assert.Equal(t, "modules.db", c.ModuleStore)
	assert.Equal(t, 8, c.InitialSlots)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"slots too large", "initial_slots = 70000", "toml"},
		{"unknown preset", "loader_preset = \"http\"", "toml"},
		{"sql without store", "loader_preset: sql", "yaml"},
		{"module without source", "[[modules]]\nname = \"x\"", "toml"},
		{"module without name", "[[modules]]\nsource = \"x\"", "toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}

	_, err := Decode([]byte("x"), "json")
	require.Error(t, err)

	_, err = Decode([]byte("= broken"), "toml")
	require.Error(t, err)
}

func TestLoad_ReadsModuleFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.wren"), []byte("class U {}"), 0o600))
	path := filepath.Join(dir, "carrica.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[modules]]
name = "util"
file = "util.wren"
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Modules, 1)
	assert.Equal(t, "class U {}", c.Modules[0].Source)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "initial_slots")
	assert.Contains(t, props, "modules")
}

package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystem(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "math.wren"), []byte("class M {}"), 0o600))

	load := Filesystem(root, ".wren")

	src, err := load("lib.math")
	require.NoError(t, err)
	assert.Equal(t, "class M {}", src)

	_, err = load("lib.missing")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = load("../etc/passwd")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModuleNotFound)
}

func TestFS(t *testing.T) {
	load := FS(fstest.MapFS{
		"a/b.wren": {Data: []byte("var x = 1")},
	}, ".wren")

	src, err := load("a.b")
	require.NoError(t, err)
	assert.Equal(t, "var x = 1", src)

	_, err = load("a.c")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestChain(t *testing.T) {
	load := Chain(nil, Map(map[string]string{"a": "first"}), Map(map[string]string{"a": "second", "b": "b"}))

	src, err := load("a")
	require.NoError(t, err)
	assert.Equal(t, "first", src)

	src, err = load("b")
	require.NoError(t, err)
	assert.Equal(t, "b", src)

	_, err = load("c")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(ctx, filepath.Join(t.TempDir(), "modules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Put(ctx, "util", "class U {}"))
	require.NoError(t, s.Put(ctx, "app", "v1"))
	require.NoError(t, s.Put(ctx, "app", "v2"))

	src, err := s.Func()("app")
	require.NoError(t, err)
	assert.Equal(t, "v2", src)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "util"}, names)

	require.NoError(t, s.Delete(ctx, "util"))
	_, err = s.Get(ctx, "util")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	assert.Error(t, s.Put(ctx, "", "x"))
}

func TestSQLStore_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "m", "src"))
	src, err := s.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "src", src)
}

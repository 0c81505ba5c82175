package profiles

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T, files ...string) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("profile"), 0644))
	}

	cat, err := New(dir, []string{".vrp", ".vsp"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat, dir
}

func TestCatalog_List(t *testing.T) {
	cat, _ := testCatalog(t, "sine.vrp", "random.vsp", "notes.txt")

	list := cat.List()
	require.Len(t, list, 2, "non-profile extensions are excluded")
	assert.Equal(t, "random.vsp", list[0].Name)
	assert.Equal(t, "sine.vrp", list[1].Name)
}

func TestCatalog_Resolve(t *testing.T) {
	cat, dir := testCatalog(t, "sine.vrp", "sweep.vrp")

	t.Run("exact name", func(t *testing.T) {
		path, err := cat.Resolve("sine.vrp")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "sine.vrp"), path)
	})

	t.Run("extension-less name", func(t *testing.T) {
		path, err := cat.Resolve("sweep")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "sweep.vrp"), path)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := cat.Resolve("missing.vrp")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		for _, name := range []string{"../secret.vrp", "a/b.vrp", "..", ""} {
			_, err := cat.Resolve(name)
			assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
		}
	})
}

func TestCatalog_WatchPicksUpNewProfiles(t *testing.T) {
	cat, dir := testCatalog(t, "sine.vrp")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shock.vsp"), []byte("profile"), 0644))

	deadline := time.After(2 * time.Second)
	for {
		if _, err := cat.Resolve("shock.vsp"); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("catalog never picked up the new profile")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNew_MissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), nil, zerolog.Nop())
	assert.Error(t, err)
}

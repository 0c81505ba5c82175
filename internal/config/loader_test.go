package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
		assert.Equal(t, 5, cfg.Instrument.MaxInstances)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vvbridge.json")
		content := `{
			"server": {"host": "0.0.0.0", "port": 8085},
			"instrument": {"max_instances": 2, "retry_attempts": 3}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		loader := NewLoader(path)
		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8085, cfg.Server.Port)
		assert.Equal(t, 2, cfg.Instrument.MaxInstances)
		assert.Equal(t, 3, cfg.Instrument.RetryAttempts)
		// untouched keys keep their defaults
		assert.Equal(t, "VibrationVIEW.Application", cfg.Instrument.ProgID)
		assert.Equal(t, 10, cfg.Instrument.ConnectTimeout)
	})

	t.Run("malformed file fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vvbridge.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

		loader := NewLoader(path)
		_, err := loader.Load()
		assert.Error(t, err)
	})

	t.Run("derives log file from data dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vvbridge.json")
		content := `{"data_dir": "/var/lib/vvbridge"}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		loader := NewLoader(path)
		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/vvbridge", cfg.DataDir)
		assert.Equal(t, filepath.Join("/var/lib/vvbridge", "vvbridge.log"), cfg.Logging.File)
	})
}

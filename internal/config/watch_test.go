package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("share_dir: /srv/one\n"), 0600))
	t.Setenv(configEnvVar, path)
	t.Setenv("MD_SHARE_DIR", "")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, logger, func(cfg *Config) { reloaded <- cfg }))

	require.NoError(t, os.WriteFile(path, []byte("share_dir: /srv/two\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/srv/two", cfg.ShareDir)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	t.Setenv(configEnvVar, filepath.Join(t.TempDir(), "nope", "config.yaml"))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	assert.NoError(t, Watch(context.Background(), logger, func(*Config) {
		t.Error("unexpected reload")
	}))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(configEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MD_SHARE_DIR", "")
	t.Setenv("MD_OUTPUT_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultMaxContentSize, cfg.MaxContentSize)
	assert.Equal(t, DefaultPDFMaxFileSize, cfg.PDFMaxFileSize)
	assert.Equal(t, DefaultMarkitdownPackage, cfg.MarkitdownPackage)
	assert.Equal(t, os.TempDir(), cfg.ResolvedOutputDir())
	assert.False(t, cfg.AllowPrivateNetworks)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
share_dir: /srv/markdown
http_timeout: 30s
deny_domains:
  - example.org
pdf_max_file_size: 1024
`), 0600))

	t.Setenv(configEnvVar, path)
	t.Setenv("MD_SHARE_DIR", "")
	t.Setenv("MD_OUTPUT_DIR", "")
	t.Setenv("HTTP_TIMEOUT", "45")
	t.Setenv("MD_DENY_DOMAINS", "bad.example, worse.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/markdown", cfg.ShareDir)
	assert.Equal(t, "/srv/markdown", cfg.ResolvedOutputDir())
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, int64(1024), cfg.PDFMaxFileSize)
	assert.Equal(t, []string{"example.org", "bad.example", "worse.example"}, cfg.DenyDomains)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("share_dir: [unterminated"), 0600))
	t.Setenv(configEnvVar, path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestResolvedOutputDir(t *testing.T) {
	share := filepath.Join(t.TempDir(), "share")

	tests := []struct {
		name      string
		outputDir string
		shareDir  string
		want      string
		outside   bool
	}{
		{name: "output only", outputDir: "/srv/out", want: "/srv/out"},
		{name: "share only", shareDir: share, want: share},
		{name: "output inside share", outputDir: filepath.Join(share, "converted"), shareDir: share, want: filepath.Join(share, "converted")},
		{name: "output is share", outputDir: share, shareDir: share, want: share},
		{name: "output outside share", outputDir: "/srv/out", shareDir: share, want: share, outside: true},
		{name: "sibling with shared prefix", outputDir: share + "-old", shareDir: share, want: share, outside: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.OutputDir = tt.outputDir
			cfg.ShareDir = tt.shareDir
			assert.Equal(t, tt.want, cfg.ResolvedOutputDir())
			assert.Equal(t, tt.outside, cfg.OutputOutsideShare())
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "notes"), ExpandHome("~/notes"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "relative", ExpandHome("relative"))
}

func TestStateFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.json")

	state := LoadState(path)
	assert.True(t, state.IsStale())

	require.NoError(t, state.SetUV("/usr/local/bin/uv", true))

	reloaded := LoadState(path)
	uv, ok := reloaded.GetUV()
	assert.Equal(t, "/usr/local/bin/uv", uv)
	assert.True(t, ok)
	assert.False(t, reloaded.IsStale())
}

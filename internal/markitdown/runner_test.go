package markitdown

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	paths   map[string]string
	stdout  string
	stderr  string
	err     error
	gotName string
	gotArgs []string
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	if p, ok := f.paths[file]; ok {
		return p, nil
	}
	return "", exec.ErrNotFound
}

func (f *fakeExecutor) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.gotName = name
	f.gotArgs = args
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MarkitdownTimeout = time.Minute
	return cfg
}

func TestConvert_BuildsUVCommand(t *testing.T) {
	cfg := testConfig()
	cfg.MarkitdownArgs = `--keep-data-uris --charset "utf 8"`
	fake := &fakeExecutor{paths: map[string]string{"uv": "/usr/bin/uv"}, stdout: "# Title\n\nBody\n\n"}

	runner, err := NewRunner(cfg, nil, WithExecutor(fake))
	require.NoError(t, err)

	out, err := runner.Convert(context.Background(), "/tmp/in.docx")
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\nBody\n", out)
	assert.Equal(t, "/usr/bin/uv", fake.gotName)
	assert.Equal(t, []string{
		"tool", "run", "--from", "markitdown[all]", "markitdown",
		"--keep-data-uris", "--charset", "utf 8", "/tmp/in.docx",
	}, fake.gotArgs)
}

func TestConvert_UVPathOverride(t *testing.T) {
	cfg := testConfig()
	cfg.UVPath = "/opt/uv/bin/uv"
	fake := &fakeExecutor{paths: map[string]string{"/opt/uv/bin/uv": "/opt/uv/bin/uv", "uv": "/usr/bin/uv"}, stdout: "x"}

	runner, err := NewRunner(cfg, nil, WithExecutor(fake))
	require.NoError(t, err)

	uv, err := runner.UV()
	require.NoError(t, err)
	assert.Equal(t, "/opt/uv/bin/uv", uv)
}

func TestConvert_UVMissing(t *testing.T) {
	cfg := testConfig()
	cfg.UVPath = "/does/not/exist/uv"
	runner, err := NewRunner(cfg, nil, WithExecutor(&fakeExecutor{}))
	require.NoError(t, err)

	_, err = runner.Convert(context.Background(), "/tmp/a.mp3")
	assert.ErrorIs(t, err, ErrUVNotFound)
}

func TestConvert_ExecErrorIncludesStderr(t *testing.T) {
	cause := errors.New("exit status 1")
	fake := &fakeExecutor{
		paths:  map[string]string{"uv": "/usr/bin/uv"},
		stderr: "Traceback...\nmarkitdown._exceptions.UnsupportedFormatException: nope\n",
		err:    cause,
	}
	runner, err := NewRunner(testConfig(), nil, WithExecutor(fake))
	require.NoError(t, err)

	_, err = runner.Convert(context.Background(), "/tmp/a.bin")
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "UnsupportedFormatException: nope")
	assert.Equal(t, "markitdown does not support this file type", execErr.Hint)
}

func TestConvert_EmptyOutput(t *testing.T) {
	fake := &fakeExecutor{paths: map[string]string{"uv": "/usr/bin/uv"}, stdout: "  \n"}
	runner, err := NewRunner(testConfig(), nil, WithExecutor(fake))
	require.NoError(t, err)

	_, err = runner.Convert(context.Background(), "/tmp/a.pdf")
	assert.Error(t, err)
}

func TestNewRunner_InvalidArgs(t *testing.T) {
	cfg := testConfig()
	cfg.MarkitdownArgs = `"unterminated`
	_, err := NewRunner(cfg, nil)
	assert.Error(t, err)
}

func TestProbe_RecordsState(t *testing.T) {
	state := config.LoadState(filepath.Join(t.TempDir(), "state.json"))
	fake := &fakeExecutor{paths: map[string]string{"uv": "/usr/bin/uv"}, stdout: "markitdown 0.1.2\n"}
	runner, err := NewRunner(testConfig(), nil, WithExecutor(fake), WithState(state))
	require.NoError(t, err)

	status, err := runner.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.Equal(t, "markitdown 0.1.2", status.Version)
	assert.Equal(t, []string{"tool", "run", "--from", "markitdown[all]", "markitdown", "--version"}, fake.gotArgs)

	uv, ok := state.GetUV()
	assert.Equal(t, "/usr/bin/uv", uv)
	assert.True(t, ok)
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/converters"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/testutil"
	"github.com/sammcj/mcp-markdownify/internal/tools/conversion"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"":        logrus.WarnLevel,
		"debug":   logrus.DebugLevel,
		" INFO ":  logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"bogus":   logrus.WarnLevel,
	}
	for value, want := range tests {
		t.Setenv("LOG_LEVEL", value)
		assert.Equal(t, want, parseLogLevel(), value)
	}
}

func TestRun_ClosesLogFilesOnFailure(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "debug-*.log")
	require.NoError(t, err)
	debugLogFile.Store(file)
	t.Cleanup(func() { debugLogFile.Store(nil) })

	assert.Equal(t, 1, run([]string{config.AppName, "--no-such-flag"}))

	_, err = file.WriteString("after exit")
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRun_Version(t *testing.T) {
	assert.Equal(t, 0, run([]string{config.AppName, "version"}))
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.AppName, body["server"])
}

func TestRequireBearerToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requireBearerToken("s3cret", next, testutil.CreateTestLogger())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer s3cret", want: http.StatusNoContent},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	open := requireBearerToken("", next, testutil.CreateTestLogger())
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIsValidOrigin(t *testing.T) {
	assert.True(t, isValidOrigin("http://localhost"))
	assert.True(t, isValidOrigin("http://localhost:3000"))
	assert.True(t, isValidOrigin("https://127.0.0.1:8443"))
	assert.False(t, isValidOrigin("http://localhost.evil.com"))
	assert.False(t, isValidOrigin("https://example.com"))
}

func TestIsValidProtocolVersion(t *testing.T) {
	assert.True(t, isValidProtocolVersion("2025-06-18"))
	assert.True(t, isValidProtocolVersion("2024-11-05"))
	assert.False(t, isValidProtocolVersion("1999-01-01"))
}

func TestTimeoutSessionManager(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	manager := NewTimeoutSessionManager(time.Minute, testutil.CreateTestLogger())
	manager.now = func() time.Time { return now }

	id := manager.Generate()
	require.NotEmpty(t, id)
	assert.NotEqual(t, id, manager.Generate())

	terminated, err := manager.Validate(id)
	require.NoError(t, err)
	assert.False(t, terminated)

	// activity refreshes the idle timer
	now = now.Add(50 * time.Second)
	terminated, err = manager.Validate(id)
	require.NoError(t, err)
	assert.False(t, terminated)

	now = now.Add(2 * time.Minute)
	terminated, err = manager.Validate(id)
	require.NoError(t, err)
	assert.True(t, terminated)

	_, err = manager.Validate(id)
	assert.Error(t, err)

	_, err = manager.Validate("")
	assert.Error(t, err)

	other := manager.Generate()
	notAllowed, err := manager.Terminate(other)
	require.NoError(t, err)
	assert.False(t, notAllowed)
	_, err = manager.Validate(other)
	assert.Error(t, err)
}

func TestTimeoutSessionManager_ForgetsAbandonedSessions(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	manager := NewTimeoutSessionManager(time.Minute, testutil.CreateTestLogger())
	manager.now = func() time.Time { return now }

	abandoned := manager.Generate()
	active := manager.Generate()

	now = now.Add(45 * time.Second)
	_, err := manager.Validate(active)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	fresh := manager.Generate()

	assert.NotContains(t, manager.lastSeen, abandoned)
	assert.Contains(t, manager.lastSeen, active)
	assert.Contains(t, manager.lastSeen, fresh)
	assert.Len(t, manager.lastSeen, 2)
}

func TestToolHandler(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	p, err := converters.New(cfg, testutil.CreateTestLogger())
	require.NoError(t, err)
	conversion.SetPipeline(p)
	t.Cleanup(func() { conversion.SetPipeline(nil) })

	path := testutil.WriteFile(t, t.TempDir(), "saved.md", []byte("# Saved\n"))
	handler := toolHandler(markdownify.OpGetMarkdownFile.ToolName(), "stdio", testutil.CreateTestLogger())

	req := mcp.CallToolRequest{}
	req.Params.Name = markdownify.OpGetMarkdownFile.ToolName()
	req.Params.Arguments = map[string]any{"filepath": path}

	result, err := handler(context.Background(), req)
	require.NoError(t, err)

	var decoded markdownify.Result
	require.NoError(t, json.Unmarshal([]byte(testutil.ResultText(t, result)), &decoded))
	assert.Equal(t, "# Saved\n", decoded.Text)

	req.Params.Arguments = map[string]any{"filepath": "/definitely/missing.md"}
	_, err = handler(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool execution failed")

	req.Params.Arguments = "not an object"
	_, err = handler(context.Background(), req)
	assert.Error(t, err)

	_, err = toolHandler("no-such-tool", "stdio", testutil.CreateTestLogger())(context.Background(), req)
	assert.Error(t, err)
}

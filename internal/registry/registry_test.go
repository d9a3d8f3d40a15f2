package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name string
}

func (f *fakeTool) Definition() mcp.Tool {
	return mcp.NewTool(f.name, mcp.WithDescription("fake"))
}

func (f *fakeTool) Execute(_ context.Context, _ *logrus.Logger, _ *sync.Map, _ map[string]any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(f.name), nil
}

func resetRegistry(t *testing.T, disabledEnv string) {
	t.Helper()

	mu.Lock()
	saved := known
	known = make(map[string]tools.Tool)
	mu.Unlock()

	t.Setenv(DisabledToolsEnvVar, disabledEnv)
	Init(logrus.New())

	t.Cleanup(func() {
		mu.Lock()
		known = saved
		disabled = make(map[string]bool)
		mu.Unlock()
	})
}

func TestRegisterAndLookup(t *testing.T) {
	resetRegistry(t, "")

	Register(&fakeTool{name: "pdf-to-markdown"})
	Register(&fakeTool{name: "docx-to-markdown"})

	tool, ok := GetTool("pdf-to-markdown")
	require.True(t, ok)
	assert.Equal(t, "pdf-to-markdown", tool.Definition().Name)

	_, ok = GetTool(" PDF_To_Markdown")
	assert.True(t, ok)

	_, ok = GetTool("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"docx-to-markdown", "pdf-to-markdown"}, EnabledNames())
	assert.Empty(t, Disabled())
	assert.NotNil(t, GetCache())
}

func TestDisabledTools(t *testing.T) {
	resetRegistry(t, " YouTube_To_Markdown , bing-search-to-markdown,,")

	Register(&fakeTool{name: "youtube-to-markdown"})
	Register(&fakeTool{name: "bing-search-to-markdown"})
	Register(&fakeTool{name: "webpage-to-markdown"})

	_, ok := GetTool("youtube-to-markdown")
	assert.False(t, ok)

	enabled := GetEnabledTools()
	assert.Len(t, enabled, 1)
	assert.Contains(t, enabled, "webpage-to-markdown")
	assert.Equal(t, []string{"webpage-to-markdown"}, EnabledNames())
	assert.Equal(t, []string{"bing-search-to-markdown", "youtube-to-markdown"}, Disabled())
}

func TestRegisterReplacesExisting(t *testing.T) {
	resetRegistry(t, "")

	first := &fakeTool{name: "image-to-markdown"}
	second := &fakeTool{name: "image-to-markdown"}
	Register(first)
	Register(second)

	tool, ok := GetTool("image-to-markdown")
	require.True(t, ok)
	assert.Same(t, second, tool)
}

package conversion_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/converters"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/registry"
	"github.com/sammcj/mcp-markdownify/internal/testutil"
	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sammcj/mcp-markdownify/internal/tools/conversion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installPipeline(t *testing.T) {
	t.Helper()

	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	p, err := converters.New(cfg, testutil.CreateTestLogger())
	require.NoError(t, err)

	conversion.SetPipeline(p)
	t.Cleanup(func() { conversion.SetPipeline(nil) })
}

func decodeResult(t *testing.T, text string) markdownify.Result {
	t.Helper()
	var result markdownify.Result
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	return result
}

func TestEveryOperationIsRegistered(t *testing.T) {
	for _, op := range markdownify.AllOperations() {
		tool, ok := registry.GetTool(op.ToolName())
		require.True(t, ok, op.ToolName())

		_, hasHelp := tool.(tools.ExtendedHelpProvider)
		assert.True(t, hasHelp, op.ToolName())
	}
}

func TestDefinition(t *testing.T) {
	tests := []struct {
		op        markdownify.Operation
		sourceArg string
		optional  []string
	}{
		{op: markdownify.OpPDF, sourceArg: "filepath", optional: []string{"pages", "engine"}},
		{op: markdownify.OpXLSX, sourceArg: "filepath", optional: []string{"sheet", "max_rows", "engine"}},
		{op: markdownify.OpYouTube, sourceArg: "url", optional: []string{"language", "timestamps", "transcript"}},
		{op: markdownify.OpBing, sourceArg: "url"},
		{op: markdownify.OpWebpage, sourceArg: "url", optional: []string{"readability"}},
		{op: markdownify.OpGetMarkdownFile, sourceArg: "filepath"},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			def := conversion.New(tt.op).Definition()
			assert.Equal(t, tt.op.ToolName(), def.Name)
			assert.Equal(t, []string{tt.sourceArg}, def.InputSchema.Required)
			assert.Contains(t, def.InputSchema.Properties, tt.sourceArg)
			for _, name := range tt.optional {
				assert.Contains(t, def.InputSchema.Properties, name)
			}
			assert.Len(t, def.InputSchema.Properties, len(tt.optional)+1)
		})
	}
}

func TestParseRequest(t *testing.T) {
	tool := conversion.New(markdownify.OpXLSX)

	req, err := tool.ParseRequest(map[string]any{
		"filepath": "  /tmp/book.xlsx ",
		"sheet":    "Data",
		"max_rows": float64(25),
		"engine":   "Native",
		"ignored":  "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, markdownify.OpXLSX, req.Operation)
	assert.Equal(t, "/tmp/book.xlsx", req.Source)
	assert.Equal(t, map[string]any{"sheet": "Data", "max_rows": 25, "engine": "Native"}, req.Params)
}

func TestParseRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		op   markdownify.Operation
		args map[string]any
		want string
	}{
		{name: "missing source", op: markdownify.OpPDF, args: map[string]any{}, want: "filepath"},
		{name: "blank source", op: markdownify.OpWebpage, args: map[string]any{"url": "  "}, want: "url"},
		{name: "source not a string", op: markdownify.OpPDF, args: map[string]any{"filepath": 7}, want: "filepath"},
		{name: "bool as string", op: markdownify.OpPPTX, args: map[string]any{"filepath": "/a.pptx", "notes": "yes"}, want: "notes must be a boolean"},
		{name: "fractional rows", op: markdownify.OpXLSX, args: map[string]any{"filepath": "/a.xlsx", "max_rows": 2.5}, want: "max_rows"},
		{name: "zero rows", op: markdownify.OpXLSX, args: map[string]any{"filepath": "/a.xlsx", "max_rows": float64(0)}, want: "max_rows"},
		{name: "unknown engine", op: markdownify.OpDOCX, args: map[string]any{"filepath": "/a.docx", "engine": "pandoc"}, want: "engine must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conversion.New(tt.op).ParseRequest(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExecute_ConvertsAndSaves(t *testing.T) {
	installPipeline(t)
	path := testutil.WriteFile(t, t.TempDir(), "deck.pptx", testutil.PPTX(
		testutil.Slide{Title: "Roadmap", Bullets: []string{"Ship it"}, Notes: "secret"},
	))

	result, err := conversion.New(markdownify.OpPPTX).Execute(context.Background(), testutil.CreateTestLogger(), testutil.CreateTestCache(), map[string]any{
		"filepath": path,
		"notes":    false,
	})
	require.NoError(t, err)

	converted := decodeResult(t, testutil.ResultText(t, result))
	assert.Contains(t, converted.Text, "## Slide 1: Roadmap")
	assert.NotContains(t, converted.Text, "secret")

	saved, err := os.ReadFile(converted.Path)
	require.NoError(t, err)
	assert.Equal(t, converted.Text, string(saved))
}

func TestExecute_GetMarkdownFileReturnsIdenticalText(t *testing.T) {
	installPipeline(t)
	logger := testutil.CreateTestLogger()
	path := testutil.WriteFile(t, t.TempDir(), "report.docx", testutil.SampleDOCX())

	first, err := conversion.New(markdownify.OpDOCX).Execute(context.Background(), logger, nil, map[string]any{"filepath": path})
	require.NoError(t, err)
	converted := decodeResult(t, testutil.ResultText(t, first))

	second, err := conversion.New(markdownify.OpGetMarkdownFile).Execute(context.Background(), logger, nil, map[string]any{"filepath": converted.Path})
	require.NoError(t, err)
	read := decodeResult(t, testutil.ResultText(t, second))

	assert.Equal(t, converted.Text, read.Text)
}

func TestExecute_Errors(t *testing.T) {
	installPipeline(t)
	logger := testutil.CreateTestLogger()

	_, err := conversion.New(markdownify.OpPDF).Execute(context.Background(), logger, nil, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameters")

	_, err = conversion.New(markdownify.OpPDF).Execute(context.Background(), logger, nil, map[string]any{"filepath": "/definitely/not/here.pdf"})
	require.Error(t, err)
	var notFound *markdownify.SourceNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

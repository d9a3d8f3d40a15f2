package pdf_test

import (
	"context"
	"testing"

	"github.com/sammcj/mcp-markdownify/internal/converters/pdf"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageSelection(t *testing.T) {
	tests := []struct {
		name      string
		selection string
		maxPage   int
		expected  []int
		expectErr bool
	}{
		{name: "all", selection: "all", maxPage: 3, expected: []int{1, 2, 3}},
		{name: "empty means all", selection: "", maxPage: 2, expected: []int{1, 2}},
		{name: "single page", selection: "2", maxPage: 3, expected: []int{2}},
		{name: "range", selection: "2-4", maxPage: 5, expected: []int{2, 3, 4}},
		{name: "mixed and deduplicated", selection: "5, 1-2, 2", maxPage: 5, expected: []int{1, 2, 5}},
		{name: "out of range", selection: "4", maxPage: 3, expectErr: true},
		{name: "reversed range", selection: "3-1", maxPage: 3, expectErr: true},
		{name: "not a number", selection: "one", maxPage: 3, expectErr: true},
		{name: "only commas", selection: ",,", maxPage: 3, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := pdf.ParsePageSelection(tt.selection, tt.maxPage)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pages)
		})
	}
}

func TestStringsInOperation(t *testing.T) {
	assert.Equal(t, []string{"Hello"}, pdf.StringsInOperation("(Hello) Tj"))
	assert.Equal(t, []string{"a (nested) b"}, pdf.StringsInOperation(`(a \(nested\) b) Tj`))
	assert.Equal(t, []string{"one", "two"}, pdf.StringsInOperation("[(one) -250 (two)] TJ"))
}

func TestStringsInOperation_OctalEscapes(t *testing.T) {
	got := pdf.StringsInOperation(`(\101\102 \251 2024) Tj`)
	require.Len(t, got, 1)
	assert.Equal(t, "AB © 2024", got[0])
}

func TestTextFromContentStream(t *testing.T) {
	content := "BT\n/F1 24 Tf\n72 700 Td\n(Quarterly results) Tj\n0 -30 Td\n(were strong .) Tj\nET\n"
	assert.Equal(t, "Quarterly results were strong.", pdf.TextFromContentStream(content))
}

func TestTextFromContentStream_NoTextOperators(t *testing.T) {
	content := "q\n1 0 0 1 0 0 cm\n0.5 g\nPlain readable words\nQ\n"
	assert.Equal(t, "Plain readable words", pdf.TextFromContentStream(content))
}

func TestConvert_SinglePage(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "hello.pdf", testutil.PDF("Hello PDF World"))

	conv := pdf.New(0, testutil.CreateTestLogger())
	md, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	require.NoError(t, err)

	assert.Contains(t, md, "Hello PDF World")
	assert.NotContains(t, md, "## Page")
}

func TestConvert_PageSelection(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "multi.pdf", testutil.PDF("First page text", "Second page text", "Third page text"))

	conv := pdf.New(0, testutil.CreateTestLogger())

	md, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	require.NoError(t, err)
	assert.Contains(t, md, "## Page 1")
	assert.Contains(t, md, "## Page 3")
	assert.Contains(t, md, "Second page text")

	md, err = conv.Convert(context.Background(), &markdownify.Source{
		Ref:    path,
		Path:   path,
		Params: map[string]any{"pages": "2"},
	})
	require.NoError(t, err)
	assert.Contains(t, md, "## Page 2")
	assert.Contains(t, md, "Second page text")
	assert.NotContains(t, md, "First page text")
	assert.NotContains(t, md, "Third page text")

	_, err = conv.Convert(context.Background(), &markdownify.Source{
		Ref:    path,
		Path:   path,
		Params: map[string]any{"pages": "9"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestConvert_FileSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "big.pdf", testutil.PDF("Hello PDF World"))

	conv := pdf.New(16, testutil.CreateTestLogger())
	_, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum allowed size")
}

func TestConvert_NotAPDF(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "fake.pdf", []byte("this is plain text, not a PDF"))

	conv := pdf.New(0, testutil.CreateTestLogger())
	_, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	assert.Error(t, err)
}

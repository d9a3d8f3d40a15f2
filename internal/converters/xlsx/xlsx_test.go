package xlsx_test

import (
	"context"
	"testing"

	"github.com/sammcj/mcp-markdownify/internal/converters/xlsx"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkbook(t *testing.T) string {
	t.Helper()
	data := testutil.XLSX(t, map[string][][]any{
		"Sales": {
			{"Region", "Q1", "Q2"},
			{"North", 10, 12},
			{"South", 7, "n|a"},
		},
		"Notes": {},
	}, "Sales", "Notes")
	return testutil.WriteFile(t, t.TempDir(), "book.xlsx", data)
}

func TestConvert_Workbook(t *testing.T) {
	path := writeWorkbook(t)

	conv := xlsx.New(testutil.CreateTestLogger())
	md, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	require.NoError(t, err)

	assert.Equal(t,
		"## Sales\n\n"+
			"| Region | Q1 | Q2 |\n| --- | --- | --- |\n| North | 10 | 12 |\n| South | 7 | n\\|a |\n\n"+
			"## Notes\n\n_Empty sheet_\n",
		md)
}

func TestConvert_SingleSheet(t *testing.T) {
	path := writeWorkbook(t)
	conv := xlsx.New(testutil.CreateTestLogger())

	md, err := conv.Convert(context.Background(), &markdownify.Source{
		Ref:    path,
		Path:   path,
		Params: map[string]any{"sheet": "Sales"},
	})
	require.NoError(t, err)
	assert.Contains(t, md, "## Sales")
	assert.NotContains(t, md, "## Notes")

	_, err = conv.Convert(context.Background(), &markdownify.Source{
		Ref:    path,
		Path:   path,
		Params: map[string]any{"sheet": "Missing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestConvert_MaxRows(t *testing.T) {
	path := writeWorkbook(t)
	conv := xlsx.New(testutil.CreateTestLogger())

	md, err := conv.Convert(context.Background(), &markdownify.Source{
		Ref:    path,
		Path:   path,
		Params: map[string]any{"sheet": "Sales", "max_rows": 1},
	})
	require.NoError(t, err)
	assert.Contains(t, md, "| North | 10 | 12 |")
	assert.NotContains(t, md, "South")
	assert.Contains(t, md, "_Showing the first 1 rows._")
}

func TestConvert_NotAWorkbook(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "bad.xlsx", []byte("nope"))

	conv := xlsx.New(testutil.CreateTestLogger())
	_, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	assert.Error(t, err)
}

package pptx_test

import (
	"context"
	"testing"

	"github.com/sammcj/mcp-markdownify/internal/converters/pptx"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDeck(t *testing.T) string {
	t.Helper()
	return testutil.WriteFile(t, t.TempDir(), "deck.pptx", testutil.PPTX(
		testutil.Slide{Title: "Welcome", Bullets: []string{"Point one", "Point two"}, Notes: "Remember to smile"},
		testutil.Slide{Title: "Results", Bullets: []string{"Up and to the right"}},
	))
}

func TestConvert_Presentation(t *testing.T) {
	path := writeDeck(t)

	conv := pptx.New(testutil.CreateTestLogger())
	md, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	require.NoError(t, err)

	assert.Equal(t,
		"## Slide 1: Welcome\n\nPoint one\nPoint two\n\n### Notes\n\nRemember to smile\n\n"+
			"## Slide 2: Results\n\nUp and to the right\n",
		md)
}

func TestConvert_WithoutNotes(t *testing.T) {
	path := writeDeck(t)

	conv := pptx.New(testutil.CreateTestLogger())
	md, err := conv.Convert(context.Background(), &markdownify.Source{
		Ref:    path,
		Path:   path,
		Params: map[string]any{"notes": false},
	})
	require.NoError(t, err)

	assert.Contains(t, md, "## Slide 1: Welcome")
	assert.NotContains(t, md, "Remember to smile")
}

func TestConvert_NotAPresentation(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "doc.pptx", testutil.SampleDOCX())

	conv := pptx.New(testutil.CreateTestLogger())
	_, err := conv.Convert(context.Background(), &markdownify.Source{Ref: path, Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a PowerPoint presentation")
}

func TestParseShapes_TableAndImage(t *testing.T) {
	slide := []byte(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
	xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>
<p:sp><p:nvSpPr><p:cNvPr id="2" name="Footer"/><p:nvPr><p:ph type="ftr"/></p:nvPr></p:nvSpPr>
<p:txBody><a:p><a:r><a:t>Confidential</a:t></a:r></a:p></p:txBody></p:sp>
<p:pic><p:nvPicPr><p:cNvPr id="4" name="Picture" descr="A bar chart"/></p:nvPicPr></p:pic>
<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="5" name="Table"/></p:nvGraphicFramePr>
<a:graphic><a:graphicData><a:tbl>
<a:tr><a:tc><a:txBody><a:p><a:r><a:t>Name</a:t></a:r></a:p></a:txBody></a:tc><a:tc><a:txBody><a:p><a:r><a:t>Score</a:t></a:r></a:p></a:txBody></a:tc></a:tr>
<a:tr><a:tc><a:txBody><a:p><a:r><a:t>Ada</a:t></a:r></a:p></a:txBody></a:tc><a:tc><a:txBody><a:p><a:r><a:t>10</a:t></a:r></a:p></a:txBody></a:tc></a:tr>
</a:tbl></a:graphicData></a:graphic></p:graphicFrame>
</p:spTree></p:cSld></p:sld>`)

	blocks, err := pptx.ParseShapes(slide)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "A bar chart", blocks[0].ImageAlt)
	assert.Equal(t, [][]string{{"Name", "Score"}, {"Ada", "10"}}, blocks[1].Table)
}

func TestRender(t *testing.T) {
	md := pptx.Render([]pptx.Slide{
		{Number: 1, Blocks: []pptx.Block{{Table: [][]string{{"a", "b"}, {"1", "2"}}}}},
		{Number: 2, Title: "Pictures", Blocks: []pptx.Block{{ImageAlt: "logo"}}, Notes: "hidden"},
	}, false)

	assert.Equal(t,
		"## Slide 1\n\n| a | b |\n| --- | --- |\n| 1 | 2 |\n\n## Slide 2: Pictures\n\n![logo](image)\n",
		md)
}

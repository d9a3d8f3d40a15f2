package htmlmd

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_Basic(t *testing.T) {
	md, err := NewDocument().Convert(`<h1>Title</h1><p>Hello <strong>world</strong></p>`, "")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nHello **world**\n", md)
}

func TestConvert_Table(t *testing.T) {
	md, err := NewDocument().Convert(`<table><tr><th>Name</th><th>Qty</th></tr><tr><td>Apple</td><td>3</td></tr></table>`, "")
	require.NoError(t, err)
	assert.Contains(t, md, "Name")
	assert.Contains(t, md, "Apple")
	assert.Contains(t, md, "|")
	assert.Contains(t, md, "---")
}

func TestNewPage_RemovesChrome(t *testing.T) {
	html := `<html><body><nav>Menu Links</nav><article><p>Real content here</p></article><footer>Footer text</footer></body></html>`
	md, err := NewPage().Convert(html, "")
	require.NoError(t, err)
	assert.Contains(t, md, "Real content here")
	assert.NotContains(t, md, "Menu Links")
	assert.NotContains(t, md, "Footer text")
}

func TestConvert_AbsoluteLinks(t *testing.T) {
	md, err := NewPage().Convert(`<p><a href="/docs">Docs</a></p>`, "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, md, "https://example.com/docs")
}

func TestConvert_Empty(t *testing.T) {
	md, err := NewDocument().Convert("  ", "")
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestClean(t *testing.T) {
	in := "# A  \n\n\n\nText\t\n```\ncode   \n\n\n```\n\n"
	assert.Equal(t, "# A\n\nText\n```\ncode   \n\n```\n", Clean(in))
	assert.Equal(t, "", Clean("\n\n  \n"))
}

func TestFilterByFragment(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	html := `<html><body>
<h2 id="intro">Intro</h2><p>first</p>
<h3 id="detail">Detail</h3><p>nested</p>
<h2 id="next">Next</h2><p>second</p>
<div id="box"><p>boxed</p></div>
</body></html>`

	filtered, err := FilterByFragment(logger, html, "intro")
	require.NoError(t, err)
	assert.Contains(t, filtered, "first")
	assert.Contains(t, filtered, "nested")
	assert.NotContains(t, filtered, "second")

	filtered, err = FilterByFragment(logger, html, "box")
	require.NoError(t, err)
	assert.Contains(t, filtered, "boxed")
	assert.NotContains(t, filtered, "first")

	filtered, err = FilterByFragment(logger, html, "missing")
	require.NoError(t, err)
	assert.Equal(t, html, filtered)
}

func TestTable(t *testing.T) {
	got := Table([][]string{{"a", "b|c"}, {"1"}, {"x\ny", "2", "3"}})
	want := "| a | b\\|c |  |\n| --- | --- | --- |\n| 1 |  |  |\n| x<br>y | 2 | 3 |\n"
	assert.Equal(t, want, got)
	assert.Empty(t, Table(nil))
}

package markdownify

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sammcj/mcp-markdownify/internal/security"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDispatcher(t *testing.T, shareDir string) *Dispatcher {
	t.Helper()
	store := NewStore(t.TempDir(), shareDir)
	return NewDispatcher(store, nil, security.NewGuard(nil, false), testLogger())
}

type stubDownloader struct {
	content []byte
	gotExt  string
	paths   []string
}

func (s *stubDownloader) Download(_ context.Context, _ *url.URL, ext string) (string, error) {
	s.gotExt = ext
	f, err := os.CreateTemp("", "markdownify-test-*"+ext)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(s.content); err != nil {
		return "", err
	}
	s.paths = append(s.paths, f.Name())
	return f.Name(), nil
}

func TestDispatch_RoutesToConverter(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "doc.docx")
	require.NoError(t, os.WriteFile(input, []byte("content"), 0600))

	var got *Source
	d.Handle(OpDOCX, ConverterFunc(func(_ context.Context, src *Source) (string, error) {
		got = src
		return "# Converted\n", nil
	}))

	result, err := d.Dispatch(context.Background(), Request{
		Operation: OpDOCX,
		Source:    input,
		Params:    map[string]any{"engine": "native"},
	})
	require.NoError(t, err)

	assert.Equal(t, "# Converted\n", result.Text)
	assert.Equal(t, input, got.Path)
	assert.Equal(t, "native", got.String("engine", ""))
	assert.False(t, got.IsRemote())
	assert.NotEmpty(t, got.MIMEType)

	written, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, result.Text, string(written))
	assert.Contains(t, filepath.Base(result.Path), "docx-")
}

func TestDispatch_NonexistentPath(t *testing.T) {
	d := newTestDispatcher(t, "")
	called := false
	d.Handle(OpPDF, ConverterFunc(func(context.Context, *Source) (string, error) {
		called = true
		return "x", nil
	}))

	result, err := d.Dispatch(context.Background(), Request{
		Operation: OpPDF,
		Source:    filepath.Join(t.TempDir(), "missing.pdf"),
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, called)

	var notFound *SourceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDispatch_NonexistentPathEveryOperation(t *testing.T) {
	d := newTestDispatcher(t, "")
	for _, op := range AllOperations() {
		if op.IsFileOperation() {
			d.Handle(op, ConverterFunc(func(context.Context, *Source) (string, error) { return "x", nil }))
		}
	}

	missing := filepath.Join(t.TempDir(), "nope")
	for _, op := range AllOperations() {
		if op.IsWebOperation() {
			continue
		}
		t.Run(string(op), func(t *testing.T) {
			result, err := d.Dispatch(context.Background(), Request{Operation: op, Source: missing + ".md"})
			require.Error(t, err)
			assert.Nil(t, result)
		})
	}
}

func TestDispatch_ConverterErrorIsWrapped(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "a.xlsx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0600))

	cause := errors.New("corrupt workbook")
	d.Handle(OpXLSX, ConverterFunc(func(context.Context, *Source) (string, error) {
		return "", cause
	}))

	_, err := d.Dispatch(context.Background(), Request{Operation: OpXLSX, Source: input})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "error processing to markdown: corrupt workbook", err.Error())
}

func TestDispatch_PanicRecovered(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0600))

	d.Handle(OpImage, ConverterFunc(func(context.Context, *Source) (string, error) {
		panic("boom")
	}))

	result, err := d.Dispatch(context.Background(), Request{Operation: OpImage, Source: input})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "boom")
}

func TestDispatch_EmptyOutput(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "a.pptx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0600))

	d.Handle(OpPPTX, ConverterFunc(func(context.Context, *Source) (string, error) {
		return "  \n\t", nil
	}))

	_, err := d.Dispatch(context.Background(), Request{Operation: OpPPTX, Source: input})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestDispatch_OutputIsNFC(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "cafe.docx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0600))

	d.Handle(OpDOCX, ConverterFunc(func(context.Context, *Source) (string, error) {
		return "Cafe\u0301\n", nil
	}))

	result, err := d.Dispatch(context.Background(), Request{Operation: OpDOCX, Source: input})
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9\n", result.Text)
}

func TestDispatch_EmptySource(t *testing.T) {
	d := newTestDispatcher(t, "")
	_, err := d.Dispatch(context.Background(), Request{Operation: OpPDF, Source: "   "})
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestDispatch_UnregisteredOperation(t *testing.T) {
	d := newTestDispatcher(t, "")
	d.Handle(OpWebpage, ConverterFunc(func(context.Context, *Source) (string, error) { return "x", nil }))

	_, err := d.Dispatch(context.Background(), Request{Operation: Operation("web"), Source: "https://example.com"})
	var unknown *UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, unknown.Suggestions, "webpage")
}

func TestDispatch_WebOperationValidatesURL(t *testing.T) {
	d := newTestDispatcher(t, "")
	var got *Source
	d.Handle(OpWebpage, ConverterFunc(func(_ context.Context, src *Source) (string, error) {
		got = src
		return "page", nil
	}))

	_, err := d.Dispatch(context.Background(), Request{Operation: OpWebpage, Source: "http://127.0.0.1/admin"})
	require.Error(t, err)
	assert.True(t, security.IsBlocked(err))
	assert.Nil(t, got)

	_, err = d.Dispatch(context.Background(), Request{Operation: OpWebpage, Source: "ftp://example.com/x"})
	assert.ErrorIs(t, err, security.ErrUnsupportedScheme)

	result, err := d.Dispatch(context.Background(), Request{Operation: OpWebpage, Source: "https://example.com/post"})
	require.NoError(t, err)
	assert.Equal(t, "page", result.Text)
	require.NotNil(t, got.URL)
	assert.Equal(t, "example.com", got.URL.Host)
	assert.Empty(t, got.Path)
}

func TestDispatch_DownloadsURLForFileOperation(t *testing.T) {
	store := NewStore(t.TempDir(), "")
	downloader := &stubDownloader{content: []byte("%PDF-1.4\n")}
	d := NewDispatcher(store, downloader, security.NewGuard(nil, false), testLogger())

	var sawPath string
	d.Handle(OpPDF, ConverterFunc(func(_ context.Context, src *Source) (string, error) {
		sawPath = src.Path
		assert.True(t, src.IsRemote())
		assert.Equal(t, "application/pdf", src.MIMEType)
		return "pdf text", nil
	}))

	_, err := d.Dispatch(context.Background(), Request{Operation: OpPDF, Source: "https://example.com/files/report"})
	require.NoError(t, err)

	assert.Equal(t, ".pdf", downloader.gotExt)
	_, statErr := os.Stat(sawPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "temp download should be removed")
}

func TestDispatch_GetMarkdownFileRoundTrip(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "sheet.xlsx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0600))

	markdown := "## Sheet1\n\n| a | b |\n| --- | --- |\n| 1 | ü |\n"
	d.Handle(OpXLSX, ConverterFunc(func(context.Context, *Source) (string, error) {
		return markdown, nil
	}))

	first, err := d.Dispatch(context.Background(), Request{Operation: OpXLSX, Source: input})
	require.NoError(t, err)

	second, err := d.Dispatch(context.Background(), Request{Operation: OpGetMarkdownFile, Source: first.Path})
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Path, second.Path)
}

func TestDispatch_Concurrent(t *testing.T) {
	d := newTestDispatcher(t, "")
	input := filepath.Join(t.TempDir(), "a.docx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0600))
	d.Handle(OpDOCX, ConverterFunc(func(_ context.Context, src *Source) (string, error) {
		return "# " + src.String("n", ""), nil
	}))

	var wg sync.WaitGroup
	paths := make([]string, 20)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := d.Dispatch(context.Background(), Request{
				Operation: OpDOCX,
				Source:    input,
				Params:    map[string]any{"n": string(rune('a' + i))},
			})
			if assert.NoError(t, err) {
				paths[i] = result.Path
			}
		}(i)
	}
	wg.Wait()

	unique := make(map[string]bool)
	for _, p := range paths {
		unique[p] = true
	}
	assert.Len(t, unique, len(paths))
}

func TestOperations(t *testing.T) {
	d := newTestDispatcher(t, "")
	assert.Equal(t, []Operation{OpGetMarkdownFile}, d.Operations())

	d.Handle(OpPPTX, ConverterFunc(func(context.Context, *Source) (string, error) { return "", nil }))
	d.Handle(OpYouTube, ConverterFunc(func(context.Context, *Source) (string, error) { return "", nil }))
	assert.Equal(t, []Operation{OpYouTube, OpPPTX, OpGetMarkdownFile}, d.Operations())
}

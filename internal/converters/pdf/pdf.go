// Package pdf converts the text layer of PDF documents to Markdown.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

// Converter extracts text page by page. The embedded text layer is read with ledongthuc/pdf;
// pages where that yields nothing fall back to pdfcpu's raw content stream extraction.
type Converter struct {
	maxFileSize int64
	logger      *logrus.Logger
}

// New creates a PDF converter. maxFileSize <= 0 uses the default limit.
func New(maxFileSize int64, logger *logrus.Logger) *Converter {
	if maxFileSize <= 0 {
		maxFileSize = config.DefaultPDFMaxFileSize
	}
	return &Converter{maxFileSize: maxFileSize, logger: logger}
}

// Convert implements markdownify.Converter. The optional "pages" param selects pages ("1-3,7" or "all").
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		return "", fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if err := c.validateFileSize(info.Size()); err != nil {
		return "", err
	}

	file, reader, err := ledongthuc.Open(src.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() { _ = file.Close() }()

	pageCount := c.pageCount(src.Path, reader)
	if pageCount == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	pages, err := ParsePageSelection(src.String("pages", "all"), pageCount)
	if err != nil {
		return "", fmt.Errorf("invalid page selection: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"path":       src.Path,
		"page_count": pageCount,
		"selected":   len(pages),
	}).Debug("Extracting PDF text")

	fonts := make(map[string]*ledongthuc.Font)
	var sb strings.Builder
	for _, pageNum := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text := c.pageText(reader, pageNum, fonts)
		if text == "" {
			text = c.contentStreamText(src.Path, pageNum)
		}
		if text == "" {
			continue
		}

		if len(pages) > 1 || pageCount > 1 {
			fmt.Fprintf(&sb, "## Page %d\n\n", pageNum)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no extractable text found, the PDF may be scanned images (try engine=markitdown)")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

// pageCount prefers pdfcpu, which validates the document structure, and falls back to the text reader
func (c *Converter) pageCount(path string, reader *ledongthuc.Reader) int {
	count, err := api.PageCountFile(path)
	if err == nil && count > 0 {
		return count
	}
	c.logger.WithError(err).Debug("pdfcpu could not count pages, using text reader")
	return reader.NumPage()
}

func (c *Converter) pageText(reader *ledongthuc.Reader, pageNum int, fonts map[string]*ledongthuc.Font) (text string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("page", pageNum).Debugf("Text layer extraction panicked: %v", r)
			text = ""
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}

	for _, name := range page.Fonts() {
		if _, ok := fonts[name]; !ok {
			font := page.Font(name)
			fonts[name] = &font
		}
	}

	plain, err := page.GetPlainText(fonts)
	if err != nil {
		c.logger.WithError(err).WithField("page", pageNum).Debug("Failed to read text layer")
		return ""
	}
	return normaliseText(plain)
}

// contentStreamText decodes text show operators from the raw page content stream
func (c *Converter) contentStreamText(path string, pageNum int) string {
	tempDir, err := os.MkdirTemp("", "markdownify-pdf-*")
	if err != nil {
		return ""
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			c.logger.WithError(err).Warn("Failed to clean up temp directory")
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ExtractContentFile(path, tempDir, []string{strconv.Itoa(pageNum)}, conf); err != nil {
		c.logger.WithError(err).WithField("page", pageNum).Debug("Content stream extraction failed")
		return ""
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return ""
	}

	var parts []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tempDir, entry.Name()))
		if err != nil {
			continue
		}
		if text := TextFromContentStream(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (c *Converter) validateFileSize(size int64) error {
	if size > c.maxFileSize {
		sizeMB := float64(size) / (1024 * 1024)
		maxSizeMB := float64(c.maxFileSize) / (1024 * 1024)
		return fmt.Errorf("PDF file size %.1fMB exceeds maximum allowed size of %.1fMB (use PDF_MAX_FILE_SIZE to adjust the limit)", sizeMB, maxSizeMB)
	}
	return nil
}

// ParsePageSelection parses "all", "3", "1-5" or comma separated combinations into sorted unique page numbers
func ParsePageSelection(pages string, maxPage int) ([]int, error) {
	pages = strings.TrimSpace(strings.ToLower(pages))
	if pages == "" || pages == "all" {
		result := make([]int, maxPage)
		for i := range maxPage {
			result[i] = i + 1
		}
		return result, nil
	}

	seen := make(map[int]bool)
	for part := range strings.SplitSeq(pages, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		start, end, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(start))
		if err != nil {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(end)); err != nil {
				return nil, fmt.Errorf("invalid page range: %s", part)
			}
		}

		if first < 1 || last > maxPage || first > last {
			return nil, fmt.Errorf("page selection %s out of range (document has %d pages)", part, maxPage)
		}
		for p := first; p <= last; p++ {
			seen[p] = true
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("no pages selected")
	}

	result := make([]int, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	sort.Ints(result)
	return result, nil
}

// normaliseText trims each line and drops blank line runs
func normaliseText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

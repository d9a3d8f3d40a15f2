// Package htmlmd converts HTML fragments and pages to Markdown.
package htmlmd

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Page chrome that adds nothing to the converted text.
// script, style, noscript and iframe are already removed by the base plugin
var pageChromeTags = []string{
	"embed", "object", "nav", "header", "footer", "aside",
	"form", "button", "select", "canvas", "svg", "video", "audio",
}

// Converter wraps an html-to-markdown converter with the table and strikethrough plugins
type Converter struct {
	conv *converter.Converter
}

// NewDocument creates a converter for generated document HTML, keeping every element
func NewDocument() *Converter {
	return &Converter{conv: newConverter()}
}

// NewPage creates a converter for web pages, dropping navigation and other page chrome
func NewPage() *Converter {
	conv := newConverter()
	for _, tag := range pageChromeTags {
		conv.Register.TagType(tag, converter.TagTypeRemove, converter.PriorityStandard)
	}
	return &Converter{conv: conv}
}

func newConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
			strikethrough.NewStrikethroughPlugin(),
		),
	)
}

// Convert converts HTML to Markdown. domain, when set, makes relative links absolute.
func (c *Converter) Convert(html, domain string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	var markdown string
	var err error
	if domain != "" {
		markdown, err = c.conv.ConvertString(html, converter.WithDomain(domain))
	} else {
		markdown, err = c.conv.ConvertString(html)
	}
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	return Clean(markdown), nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Clean trims trailing whitespace outside fenced code blocks and collapses runs of blank lines
func Clean(markdown string) string {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")

	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if !inCodeBlock {
			lines[i] = strings.TrimRight(line, " \t")
		}
	}

	result := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	result = strings.TrimSpace(result)
	if result == "" {
		return ""
	}
	return result + "\n"
}

// FilterByFragment keeps only the section identified by fragment. For headings this is the heading
// and everything up to the next heading of the same or higher level; for other elements it is the
// element itself. The original HTML is returned when the fragment is not found.
func FilterByFragment(logger *logrus.Logger, htmlContent, fragment string) (string, error) {
	if fragment == "" {
		return htmlContent, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	target := doc.Find(fmt.Sprintf("[id=%q]", fragment)).First()
	if target.Length() == 0 {
		logger.WithField("fragment", fragment).Debug("Fragment not found, using full page")
		return htmlContent, nil
	}

	outer, err := goquery.OuterHtml(target)
	if err != nil {
		return htmlContent, nil
	}
	parts := []string{outer}

	if level := headingLevel(goquery.NodeName(target)); level > 0 {
		target.NextAll().EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if l := headingLevel(goquery.NodeName(s)); l > 0 && l <= level {
				return false
			}
			if siblingHTML, err := goquery.OuterHtml(s); err == nil {
				parts = append(parts, siblingHTML)
			}
			return true
		})
	}

	logger.WithFields(logrus.Fields{
		"fragment":      fragment,
		"original_size": len(htmlContent),
	}).Debug("Filtered HTML by fragment")

	return "<!DOCTYPE html><html><body>" + strings.Join(parts, "\n") + "</body></html>", nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// EscapeCell makes text safe inside a Markdown table cell
func EscapeCell(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", "<br>")
}

// Table renders rows as a Markdown table, treating the first row as the header.
// Short rows are padded so every row has the same number of cells.
func Table(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	if width == 0 {
		return ""
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteString("|")
		for i := range width {
			cell := ""
			if i < len(row) {
				cell = EscapeCell(row[i])
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}

	writeRow(rows[0])
	sb.WriteString("|")
	for range width {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return sb.String()
}

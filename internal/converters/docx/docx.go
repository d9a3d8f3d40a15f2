// Package docx converts Word documents to Markdown by rendering the document body as HTML.
package docx

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/converters/ooxml"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

const documentPart = "word/document.xml"

// Converter converts .docx files
type Converter struct {
	html   *htmlmd.Converter
	logger *logrus.Logger
}

// New creates a docx converter
func New(logger *logrus.Logger) *Converter {
	return &Converter{html: htmlmd.NewDocument(), logger: logger}
}

// Convert implements markdownify.Converter
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	pkg, err := ooxml.Open(src.Path)
	if err != nil {
		return "", err
	}
	defer func() { _ = pkg.Close() }()

	if !pkg.Has(documentPart) {
		return "", fmt.Errorf("not a Word document: %s is missing", documentPart)
	}

	data, err := pkg.Read(documentPart)
	if err != nil {
		return "", err
	}
	rels, err := pkg.Relationships(documentPart)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := RenderHTML(data, rels)
	if err != nil {
		return "", err
	}

	c.logger.WithFields(logrus.Fields{
		"path":      src.Path,
		"html_size": len(body),
	}).Debug("Rendered Word document body")

	return c.html.Convert(body, "")
}

// RenderHTML renders WordprocessingML document XML as HTML
func RenderHTML(documentXML []byte, rels map[string]ooxml.Relationship) (string, error) {
	r := &renderer{rels: rels}
	dec := xml.NewDecoder(bytes.NewReader(documentXML))

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			r.start(t)
		case xml.EndElement:
			r.end(t)
		case xml.CharData:
			if r.inText {
				r.run.Write(t)
			}
		}
	}

	r.closeList()
	return r.out.String(), nil
}

type tableState struct {
	rows  [][]string
	row   []string
	cell  []string
	depth int
}

type renderer struct {
	rels map[string]ooxml.Relationship
	out  strings.Builder

	listOpen bool

	para      strings.Builder
	style     string
	isList    bool
	inPPr     bool
	inRun     bool
	inRPr     bool
	inText    bool
	bold      bool
	italic    bool
	strike    bool
	run       strings.Builder
	linkDepth int
	linkHref  string
	link      strings.Builder

	table *tableState
}

func (r *renderer) start(se xml.StartElement) {
	switch se.Name.Local {
	case "tbl":
		if r.table != nil {
			r.table.depth++
			return
		}
		r.closeList()
		r.table = &tableState{}
	case "tr":
		if r.table != nil && r.table.depth == 0 {
			r.table.row = nil
		}
	case "tc":
		if r.table != nil && r.table.depth == 0 {
			r.table.cell = nil
		}
	case "p":
		r.para.Reset()
		r.style = ""
		r.isList = false
	case "pPr":
		r.inPPr = true
	case "pStyle":
		if r.inPPr {
			r.style = ooxml.Attr(se, "val")
		}
	case "numPr":
		if r.inPPr {
			r.isList = true
		}
	case "hyperlink":
		r.linkDepth++
		r.link.Reset()
		r.linkHref = ""
		if rel, ok := r.rels[ooxml.Attr(se, "id")]; ok && rel.External() {
			r.linkHref = rel.Target
		} else if anchor := ooxml.Attr(se, "anchor"); anchor != "" {
			r.linkHref = "#" + anchor
		}
	case "r":
		r.inRun = true
		r.bold, r.italic, r.strike = false, false, false
		r.run.Reset()
	case "rPr":
		r.inRPr = r.inRun
	case "b":
		if r.inRPr {
			r.bold = ooxml.Enabled(se)
		}
	case "i":
		if r.inRPr {
			r.italic = ooxml.Enabled(se)
		}
	case "strike", "dstrike":
		if r.inRPr {
			r.strike = ooxml.Enabled(se)
		}
	case "t":
		r.inText = r.inRun
	case "tab":
		if r.inRun {
			r.run.WriteString(" ")
		}
	case "br", "cr":
		if r.inRun {
			r.run.WriteString("\n")
		}
	}
}

func (r *renderer) end(ee xml.EndElement) {
	switch ee.Name.Local {
	case "t":
		r.inText = false
	case "rPr":
		r.inRPr = false
	case "pPr":
		r.inPPr = false
	case "r":
		r.inRun = false
		r.flushRun()
	case "hyperlink":
		if r.linkDepth > 0 {
			r.linkDepth--
			text := r.link.String()
			if r.linkHref != "" && strings.TrimSpace(text) != "" {
				fmt.Fprintf(&r.para, `<a href="%s">%s</a>`, html.EscapeString(r.linkHref), text)
			} else {
				r.para.WriteString(text)
			}
		}
	case "p":
		r.flushParagraph()
	case "tc":
		if r.table != nil && r.table.depth == 0 {
			r.table.row = append(r.table.row, strings.Join(r.table.cell, "<br>"))
		}
	case "tr":
		if r.table != nil && r.table.depth == 0 {
			r.table.rows = append(r.table.rows, r.table.row)
		}
	case "tbl":
		if r.table == nil {
			return
		}
		if r.table.depth > 0 {
			r.table.depth--
			return
		}
		r.writeTable(r.table.rows)
		r.table = nil
	}
}

func (r *renderer) flushRun() {
	text := r.run.String()
	r.run.Reset()
	if text == "" {
		return
	}

	escaped := strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	if strings.TrimSpace(text) != "" {
		if r.strike {
			escaped = "<del>" + escaped + "</del>"
		}
		if r.italic {
			escaped = "<em>" + escaped + "</em>"
		}
		if r.bold {
			escaped = "<strong>" + escaped + "</strong>"
		}
	}

	if r.linkDepth > 0 {
		r.link.WriteString(escaped)
		return
	}
	r.para.WriteString(escaped)
}

func (r *renderer) flushParagraph() {
	content := r.para.String()
	r.para.Reset()

	if r.table != nil {
		if strings.TrimSpace(content) != "" {
			r.table.cell = append(r.table.cell, content)
		}
		return
	}

	if strings.TrimSpace(content) == "" {
		return
	}

	if r.isList || strings.EqualFold(r.style, "ListBullet") || strings.EqualFold(r.style, "ListNumber") {
		if !r.listOpen {
			r.out.WriteString("<ul>\n")
			r.listOpen = true
		}
		fmt.Fprintf(&r.out, "<li>%s</li>\n", content)
		return
	}

	r.closeList()
	if level := HeadingLevel(r.style); level > 0 {
		fmt.Fprintf(&r.out, "<h%d>%s</h%d>\n", level, content, level)
		return
	}
	fmt.Fprintf(&r.out, "<p>%s</p>\n", content)
}

func (r *renderer) closeList() {
	if r.listOpen {
		r.out.WriteString("</ul>\n")
		r.listOpen = false
	}
}

func (r *renderer) writeTable(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	r.out.WriteString("<table>\n")
	for i, row := range rows {
		tag := "td"
		if i == 0 {
			tag = "th"
		}
		r.out.WriteString("<tr>")
		for _, cell := range row {
			fmt.Fprintf(&r.out, "<%s>%s</%s>", tag, cell, tag)
		}
		r.out.WriteString("</tr>\n")
	}
	r.out.WriteString("</table>\n")
}

// HeadingLevel maps a paragraph style ID to a heading level, 0 when the style is not a heading.
// Title maps to 1; "Heading1" and "heading 1" both map to 1.
func HeadingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if s == "subtitle" {
		return 2
	}
	if len(s) == len("heading1") && strings.HasPrefix(s, "heading") {
		if d := s[len(s)-1]; d >= '1' && d <= '6' {
			return int(d - '0')
		}
	}
	return 0
}

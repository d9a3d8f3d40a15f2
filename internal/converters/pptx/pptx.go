// Package pptx converts PowerPoint presentations to Markdown, one section per slide.
package pptx

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/converters/ooxml"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

const (
	presentationPart = "ppt/presentation.xml"
	notesRelType     = "/notesSlide"
)

// Converter converts .pptx files
type Converter struct {
	logger *logrus.Logger
}

// New creates a pptx converter
func New(logger *logrus.Logger) *Converter {
	return &Converter{logger: logger}
}

// Block is a run of content on a slide: a text frame, a table or an image
type Block struct {
	Title    bool
	Lines    []string
	Table    [][]string
	ImageAlt string
}

// Slide is the parsed content of a single slide
type Slide struct {
	Number int
	Title  string
	Blocks []Block
	Notes  string
}

// Convert implements markdownify.Converter. The "notes" param (default true) controls speaker notes.
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	pkg, err := ooxml.Open(src.Path)
	if err != nil {
		return "", err
	}
	defer func() { _ = pkg.Close() }()

	slides, err := c.readSlides(ctx, pkg)
	if err != nil {
		return "", err
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("presentation has no slides")
	}

	c.logger.WithFields(logrus.Fields{
		"path":   src.Path,
		"slides": len(slides),
	}).Debug("Parsed presentation")

	return Render(slides, src.Bool("notes", true)), nil
}

func (c *Converter) readSlides(ctx context.Context, pkg *ooxml.Package) ([]Slide, error) {
	if !pkg.Has(presentationPart) {
		return nil, fmt.Errorf("not a PowerPoint presentation: %s is missing", presentationPart)
	}

	data, err := pkg.Read(presentationPart)
	if err != nil {
		return nil, err
	}
	var pres struct {
		SlideIDs []struct {
			RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldIdLst>sldId"`
	}
	if err := xml.Unmarshal(data, &pres); err != nil {
		return nil, fmt.Errorf("failed to parse presentation: %w", err)
	}

	rels, err := pkg.Relationships(presentationPart)
	if err != nil {
		return nil, err
	}

	slides := make([]Slide, 0, len(pres.SlideIDs))
	for i, id := range pres.SlideIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, ok := rels[id.RelID]
		if !ok {
			c.logger.WithField("rel_id", id.RelID).Warn("Slide relationship not found, skipping")
			continue
		}
		part := ooxml.ResolveTarget(presentationPart, rel.Target)

		slide, err := c.readSlide(pkg, part)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", i+1, err)
		}
		slide.Number = i + 1
		slides = append(slides, slide)
	}
	return slides, nil
}

func (c *Converter) readSlide(pkg *ooxml.Package, part string) (Slide, error) {
	data, err := pkg.Read(part)
	if err != nil {
		return Slide{}, err
	}
	blocks, err := ParseShapes(data)
	if err != nil {
		return Slide{}, err
	}

	slide := Slide{}
	for _, b := range blocks {
		if b.Title && slide.Title == "" {
			slide.Title = strings.Join(b.Lines, " ")
			continue
		}
		slide.Blocks = append(slide.Blocks, b)
	}

	rels, err := pkg.Relationships(part)
	if err != nil {
		return Slide{}, err
	}
	for _, rel := range rels {
		if !strings.HasSuffix(rel.Type, notesRelType) {
			continue
		}
		notesData, err := pkg.Read(ooxml.ResolveTarget(part, rel.Target))
		if err != nil {
			c.logger.WithError(err).Debug("Failed to read speaker notes")
			break
		}
		notes, err := ParseShapes(notesData)
		if err != nil {
			c.logger.WithError(err).Debug("Failed to parse speaker notes")
			break
		}
		slide.Notes = notesText(notes)
		break
	}
	return slide, nil
}

// notesText keeps the notes body placeholder, skipping the slide image and slide number
func notesText(blocks []Block) string {
	var lines []string
	for _, b := range blocks {
		lines = append(lines, b.Lines...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Render writes slides as Markdown
func Render(slides []Slide, withNotes bool) string {
	var sb strings.Builder
	for i, slide := range slides {
		if i > 0 {
			sb.WriteString("\n")
		}
		if slide.Title != "" {
			fmt.Fprintf(&sb, "## Slide %d: %s\n\n", slide.Number, slide.Title)
		} else {
			fmt.Fprintf(&sb, "## Slide %d\n\n", slide.Number)
		}

		for _, b := range slide.Blocks {
			switch {
			case len(b.Table) > 0:
				sb.WriteString(htmlmd.Table(b.Table))
				sb.WriteString("\n")
			case b.ImageAlt != "":
				fmt.Fprintf(&sb, "![%s](image)\n\n", strings.ReplaceAll(b.ImageAlt, "]", `\]`))
			case len(b.Lines) > 0:
				sb.WriteString(strings.Join(b.Lines, "\n"))
				sb.WriteString("\n\n")
			}
		}

		if withNotes && slide.Notes != "" {
			fmt.Fprintf(&sb, "### Notes\n\n%s\n\n", slide.Notes)
		}
	}
	return htmlmd.Clean(sb.String())
}

type shapeParser struct {
	blocks []Block

	shape   *Block
	para    strings.Builder
	inText  bool
	skip    bool
	table   [][]string
	row     []string
	cell    []string
	inTable bool
}

// ParseShapes extracts text frames, tables and image descriptions from slide or notes XML in document order.
// Slide number, date and footer placeholders, and the slide image on notes pages, are skipped.
func ParseShapes(data []byte) ([]Block, error) {
	p := &shapeParser{}
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse slide XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			if p.inText {
				p.para.Write(t)
			}
		}
	}
	return p.blocks, nil
}

func (p *shapeParser) start(se xml.StartElement) {
	switch se.Name.Local {
	case "sp":
		p.shape = &Block{}
		p.skip = false
	case "ph":
		if p.shape == nil {
			return
		}
		switch ooxml.Attr(se, "type") {
		case "title", "ctrTitle":
			p.shape.Title = true
		case "sldNum", "dt", "ftr", "sldImg", "hdr":
			p.skip = true
		}
	case "pic":
		p.shape = nil
	case "cNvPr":
		if descr := strings.TrimSpace(ooxml.Attr(se, "descr")); descr != "" && p.shape == nil && !p.inTable {
			p.blocks = append(p.blocks, Block{ImageAlt: descr})
		}
	case "tbl":
		p.inTable = true
		p.table = nil
	case "tr":
		p.row = nil
	case "tc":
		p.cell = nil
	case "p":
		p.para.Reset()
	case "t":
		p.inText = true
	case "br":
		p.para.WriteString("\n")
	}
}

func (p *shapeParser) end(ee xml.EndElement) {
	switch ee.Name.Local {
	case "t":
		p.inText = false
	case "p":
		text := strings.TrimSpace(p.para.String())
		p.para.Reset()
		if text == "" {
			return
		}
		switch {
		case p.inTable:
			p.cell = append(p.cell, text)
		case p.shape != nil:
			p.shape.Lines = append(p.shape.Lines, text)
		}
	case "tc":
		if p.inTable {
			p.row = append(p.row, strings.Join(p.cell, "\n"))
		}
	case "tr":
		if p.inTable {
			p.table = append(p.table, p.row)
		}
	case "tbl":
		p.inTable = false
		if len(p.table) > 0 {
			p.blocks = append(p.blocks, Block{Table: p.table})
		}
		p.table = nil
	case "sp":
		if p.shape != nil && !p.skip && len(p.shape.Lines) > 0 {
			p.blocks = append(p.blocks, *p.shape)
		}
		p.shape = nil
		p.skip = false
	}
}

// Package ooxml reads the parts and relationships of Office Open XML packages (docx, pptx).
package ooxml

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxPartSize caps how much of a single decompressed part is read
const MaxPartSize = 64 * 1024 * 1024

// ErrPartTooLarge is returned when a part decompresses beyond MaxPartSize
var ErrPartTooLarge = errors.New("package part exceeds maximum size")

// Relationship is one entry of a .rels part
type Relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// External reports whether the relationship points outside the package, such as a hyperlink
func (r Relationship) External() bool {
	return strings.EqualFold(r.TargetMode, "External")
}

// Package is an opened OOXML zip container
type Package struct {
	zr    *zip.ReadCloser
	files map[string]*zip.File
}

// Open opens the package at path
func Open(filePath string) (*Package, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("not a valid Office Open XML package: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[strings.TrimPrefix(f.Name, "/")] = f
	}
	return &Package{zr: zr, files: files}, nil
}

// Close releases the underlying file
func (p *Package) Close() error {
	return p.zr.Close()
}

// Has reports whether the package contains the named part
func (p *Package) Has(name string) bool {
	_, ok := p.files[name]
	return ok
}

// Read returns the decompressed content of a part
func (p *Package) Read(name string) ([]byte, error) {
	f, ok := p.files[name]
	if !ok {
		return nil, fmt.Errorf("package part %s not found", name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open part %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, MaxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read part %s: %w", name, err)
	}
	if len(data) > MaxPartSize {
		return nil, fmt.Errorf("%w: %s", ErrPartTooLarge, name)
	}
	return data, nil
}

// Relationships returns the relationships of a part keyed by ID. A part without a .rels file has none.
func (p *Package) Relationships(part string) (map[string]Relationship, error) {
	relsPath := path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
	rels := make(map[string]Relationship)
	if !p.Has(relsPath) {
		return rels, nil
	}

	data, err := p.Read(relsPath)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Relationships []Relationship `xml:"Relationship"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", relsPath, err)
	}
	for _, rel := range doc.Relationships {
		rels[rel.ID] = rel
	}
	return rels, nil
}

// ResolveTarget resolves a relationship target relative to the part that owns it
func ResolveTarget(part, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join(path.Dir(part), target))
}

// Attr returns the value of the attribute with the given local name
func Attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Enabled reports whether a toggle property such as <w:b/> is on. A missing val means on.
func Enabled(se xml.StartElement) bool {
	switch strings.ToLower(Attr(se, "val")) {
	case "0", "false", "off", "none":
		return false
	default:
		return true
	}
}

// Package markdownify routes conversion requests to the converter registered for each operation
// and stores the resulting Markdown.
package markdownify

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// Operation identifies one conversion the server offers
type Operation string

const (
	OpPDF             Operation = "pdf"
	OpImage           Operation = "image"
	OpAudio           Operation = "audio"
	OpDOCX            Operation = "docx"
	OpXLSX            Operation = "xlsx"
	OpPPTX            Operation = "pptx"
	OpYouTube         Operation = "youtube"
	OpBing            Operation = "bing"
	OpWebpage         Operation = "webpage"
	OpGetMarkdownFile Operation = "get-markdown-file"
)

var allOperations = []Operation{
	OpYouTube,
	OpPDF,
	OpBing,
	OpWebpage,
	OpImage,
	OpAudio,
	OpDOCX,
	OpXLSX,
	OpPPTX,
	OpGetMarkdownFile,
}

var toolNames = map[Operation]string{
	OpYouTube:         "youtube-to-markdown",
	OpPDF:             "pdf-to-markdown",
	OpBing:            "bing-search-to-markdown",
	OpWebpage:         "webpage-to-markdown",
	OpImage:           "image-to-markdown",
	OpAudio:           "audio-to-markdown",
	OpDOCX:            "docx-to-markdown",
	OpXLSX:            "xlsx-to-markdown",
	OpPPTX:            "pptx-to-markdown",
	OpGetMarkdownFile: "get-markdown-file",
}

// Default extension for downloaded sources, used when the URL path has none
var defaultExtensions = map[Operation]string{
	OpPDF:   ".pdf",
	OpImage: ".png",
	OpAudio: ".mp3",
	OpDOCX:  ".docx",
	OpXLSX:  ".xlsx",
	OpPPTX:  ".pptx",
}

// AllOperations returns every operation in a stable order
func AllOperations() []Operation {
	ops := make([]Operation, len(allOperations))
	copy(ops, allOperations)
	return ops
}

// ParseOperation accepts an operation name ("pdf") or its tool name ("pdf-to-markdown").
// Case, surrounding whitespace and underscores are ignored.
func ParseOperation(name string) (Operation, error) {
	normalised := strings.ToLower(strings.TrimSpace(name))
	normalised = strings.ReplaceAll(normalised, "_", "-")

	for _, op := range allOperations {
		if normalised == string(op) || normalised == toolNames[op] {
			return op, nil
		}
	}
	return "", newUnknownOperationError(name, allOperations)
}

// Valid reports whether op is one of the known operations
func (op Operation) Valid() bool {
	_, ok := toolNames[op]
	return ok
}

// ToolName is the MCP tool name for the operation
func (op Operation) ToolName() string {
	return toolNames[op]
}

// IsFileOperation reports whether the operation converts a document (local path or downloaded URL)
func (op Operation) IsFileOperation() bool {
	_, ok := defaultExtensions[op]
	return ok
}

// IsWebOperation reports whether the operation takes a web URL that the converter fetches itself
func (op Operation) IsWebOperation() bool {
	return op == OpYouTube || op == OpBing || op == OpWebpage
}

// DefaultExtension is used for temp files when a downloaded URL has no extension
func (op Operation) DefaultExtension() string {
	return defaultExtensions[op]
}

// Request is a single conversion call
type Request struct {
	Operation Operation
	Source    string
	Params    map[string]any
}

// Result is the converted Markdown and the file it was written to
type Result struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// Source is what a converter receives once the dispatcher has validated and localised the input
type Source struct {
	// Ref is the caller's original path or URL
	Ref string

	// Path is a readable local file; empty for web operations
	Path string

	// URL is set for web operations and for downloaded files
	URL *url.URL

	// MIMEType is sniffed from the local file content when Path is set
	MIMEType string

	Params map[string]any
}

// IsRemote reports whether the source came from a URL
func (s *Source) IsRemote() bool {
	return s.URL != nil
}

// String returns a string param or def
func (s *Source) String(key, def string) string {
	if v, ok := s.Params[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Bool returns a boolean param, accepting "true"/"false" strings from the CLI
func (s *Source) Bool(key string, def bool) bool {
	switch v := s.Params[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Int returns an integer param; JSON numbers arrive as float64
func (s *Source) Int(key string, def int) int {
	switch v := s.Params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Converter turns a source into Markdown
type Converter interface {
	Convert(ctx context.Context, src *Source) (string, error)
}

// ConverterFunc adapts a function to the Converter interface
type ConverterFunc func(ctx context.Context, src *Source) (string, error)

// Convert calls f
func (f ConverterFunc) Convert(ctx context.Context, src *Source) (string, error) {
	return f(ctx, src)
}

// Downloader fetches a remote file into a local temp file
type Downloader interface {
	// Download returns the temp file path; the caller removes it
	Download(ctx context.Context, u *url.URL, ext string) (string, error)
}

package markdownify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/sammcj/mcp-markdownify/internal/telemetry"
)

// ErrEmptyOutput is returned when a converter produced nothing but whitespace
var ErrEmptyOutput = errors.New("empty markdown output")

// ErrEmptySource is returned when a request has no path or URL
var ErrEmptySource = errors.New("source path or URL is required")

// UnknownOperationError is returned for operation names that are not registered
type UnknownOperationError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownOperationError) Error() string {
	msg := fmt.Sprintf("unknown operation %q", e.Name)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(", did you mean: %s?", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *UnknownOperationError) Category() string {
	return telemetry.ErrorCategoryValidation
}

const maxSuggestions = 3

func newUnknownOperationError(name string, candidates []Operation) *UnknownOperationError {
	var words []string
	owner := make([]Operation, 0, len(candidates)*2)
	for _, op := range candidates {
		words = append(words, string(op), op.ToolName())
		owner = append(owner, op, op)
	}

	seen := make(map[Operation]bool)
	var suggestions []string
	for _, match := range fuzzy.Find(strings.ToLower(strings.TrimSpace(name)), words) {
		op := owner[match.Index]
		if seen[op] {
			continue
		}
		seen[op] = true
		suggestions = append(suggestions, string(op))
		if len(suggestions) == maxSuggestions {
			break
		}
	}

	return &UnknownOperationError{Name: name, Suggestions: suggestions}
}

// SourceNotFoundError is returned when a local source path does not exist
type SourceNotFoundError struct {
	Path string
	Err  error
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("file does not exist: %s", e.Path)
}

func (e *SourceNotFoundError) Unwrap() error {
	return e.Err
}

func (e *SourceNotFoundError) Category() string {
	return telemetry.ErrorCategoryNotFound
}

// ConversionError wraps a converter failure
type ConversionError struct {
	Operation Operation
	Source    string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("error processing to markdown: %v", e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Category is the cause's category, or conversion when the cause has none
func (e *ConversionError) Category() string {
	if category := telemetry.CategoriseToolError(e.Err); category != telemetry.ErrorCategoryInternal {
		return category
	}
	return telemetry.ErrorCategoryConversion
}

// NotMarkdownError is returned by get-markdown-file for files without a Markdown extension
type NotMarkdownError struct {
	Path string
}

func (e *NotMarkdownError) Error() string {
	return fmt.Sprintf("required file is not a markdown file: %s", e.Path)
}

func (e *NotMarkdownError) Category() string {
	return telemetry.ErrorCategoryValidation
}

// OutsideShareDirError is returned by get-markdown-file for files outside the share directory
type OutsideShareDirError struct {
	Path string
	Dir  string
}

func (e *OutsideShareDirError) Error() string {
	return fmt.Sprintf("only files in %s are allowed", e.Dir)
}

func (e *OutsideShareDirError) Category() string {
	return telemetry.ErrorCategorySecurity
}

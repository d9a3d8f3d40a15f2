package markdownify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/security"
)

// Store writes conversion output and serves get-markdown-file reads
type Store struct {
	outputDir string
	shareDir  string
}

// NewStore creates a store writing to outputDir. A non-empty shareDir restricts Read to that tree.
func NewStore(outputDir, shareDir string) *Store {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	return &Store{outputDir: outputDir, shareDir: shareDir}
}

// OutputDir is where Save writes files
func (s *Store) OutputDir() string {
	return s.outputDir
}

// ShareDir is the directory Read is limited to, or "" when unrestricted
func (s *Store) ShareDir() string {
	return s.shareDir
}

// Save writes markdown to a new <operation>-<uuid>.md file and returns its path.
// The file holds exactly the markdown bytes.
func (s *Store) Save(op Operation, markdown string) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.md", op, uuid.NewString())
	path := filepath.Join(s.outputDir, name)

	if err := os.WriteFile(path, []byte(markdown), 0600); err != nil {
		return "", fmt.Errorf("failed to write markdown file: %w", err)
	}
	return path, nil
}

// Read returns an existing Markdown file verbatim
func (s *Store) Read(ref string) (*Result, error) {
	path, err := filepath.Abs(filepath.Clean(config.ExpandHome(strings.TrimSpace(ref))))
	if err != nil {
		return nil, fmt.Errorf("invalid path %s: %w", ref, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
	default:
		return nil, &NotMarkdownError{Path: path}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &SourceNotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if s.shareDir != "" {
		inside, err := security.WithinDir(path, s.shareDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if !inside {
			return nil, &OutsideShareDirError{Path: path, Dir: s.shareDir}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8", path)
	}

	return &Result{Path: path, Text: string(data)}, nil
}

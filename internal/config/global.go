package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateFile caches the outcome of probing for external tools between runs
type StateFile struct {
	UVPath              string `json:"uv_path,omitempty"`
	MarkitdownAvailable bool   `json:"markitdown_available"`
	LastChecked         int64  `json:"last_checked,omitempty"` // Unix timestamp

	mu   sync.RWMutex `json:"-"`
	path string
}

// stateStaleAfter is how long a probe result is trusted
const stateStaleAfter = 24 * time.Hour

var (
	globalState *StateFile
	stateOnce   sync.Once
)

// GetGlobalState returns the singleton global state
func GetGlobalState() *StateFile {
	stateOnce.Do(func() {
		globalState = LoadState(getStatePath())
	})
	return globalState
}

// LoadState reads a state file, returning an empty state when it is missing or unreadable
func LoadState(path string) *StateFile {
	state := &StateFile{path: path}

	if data, err := os.ReadFile(path); err == nil {
		// Ignore JSON parsing errors and use defaults
		_ = json.Unmarshal(data, state)
	}

	return state
}

// Save saves the state to disk
func (s *StateFile) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return fmt.Errorf("state file has no path")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// SetUV records the uv path and whether markitdown ran through it, then saves the state
func (s *StateFile) SetUV(path string, markitdownAvailable bool) error {
	s.mu.Lock()
	s.UVPath = path
	s.MarkitdownAvailable = markitdownAvailable
	s.LastChecked = time.Now().Unix()
	s.mu.Unlock()

	return s.Save()
}

// GetUV returns the cached uv path and markitdown availability
func (s *StateFile) GetUV() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UVPath, s.MarkitdownAvailable
}

// IsStale reports whether the cached probe is missing or older than a day
func (s *StateFile) IsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.LastChecked == 0 {
		return true
	}
	return time.Since(time.Unix(s.LastChecked, 0)) > stateStaleAfter
}

// getStatePath returns the path to the global state file
func getStatePath() string {
	if customPath := os.Getenv("MCP_MARKDOWNIFY_STATE_PATH"); customPath != "" {
		return customPath
	}

	// Default to ~/.mcp-markdownify/state.json
	dir, err := Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppName+"-state.json")
	}
	return filepath.Join(dir, "state.json")
}

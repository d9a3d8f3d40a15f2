package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLogRetentionDays is how long entries stay in the tool error log
	DefaultLogRetentionDays = 60

	// LogToolErrorsEnvVar turns on the tool error log when set to "true"
	LogToolErrorsEnvVar = "LOG_TOOL_ERRORS"

	errorLogFileName = "tool-errors.log"
)

// ToolErrorLogEntry is one JSON line in the tool error log
type ToolErrorLogEntry struct {
	Timestamp string         `json:"timestamp"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Error     string         `json:"error"`
	Category  string         `json:"category,omitempty"`
	Transport string         `json:"transport,omitempty"`
}

// ToolErrorLogger appends failed tool calls to a JSON lines file
type ToolErrorLogger struct {
	mu       sync.Mutex
	logFile  *os.File
	logger   *logrus.Logger
	filePath string
	now      func() time.Time
}

var (
	globalErrorLogger *ToolErrorLogger
	errorLoggerOnce   sync.Once
)

// InitGlobalErrorLogger opens ~/.mcp-markdownify/logs/tool-errors.log when LOG_TOOL_ERRORS=true
// and prunes expired entries in the background
func InitGlobalErrorLogger(logger *logrus.Logger) error {
	var initErr error
	errorLoggerOnce.Do(func() {
		if os.Getenv(LogToolErrorsEnvVar) != "true" {
			return
		}

		logDir, err := config.LogDir()
		if err != nil {
			initErr = err
			return
		}

		l, err := NewToolErrorLogger(filepath.Join(logDir, errorLogFileName), logger)
		if err != nil {
			initErr = err
			return
		}
		globalErrorLogger = l

		go func() {
			if rotateErr := l.Prune(DefaultLogRetentionDays); rotateErr != nil {
				logger.WithError(rotateErr).Warn("Failed to prune old tool error log entries")
			}
		}()

		logger.Infof("Tool error logging enabled: %s", l.filePath)
	})

	return initErr
}

// GetGlobalErrorLogger returns the process error logger, or nil when error logging is off
func GetGlobalErrorLogger() *ToolErrorLogger {
	return globalErrorLogger
}

// NewToolErrorLogger opens path for appending, creating its directory
func NewToolErrorLogger(path string, logger *logrus.Logger) (*ToolErrorLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &ToolErrorLogger{
		logger:   logger,
		filePath: path,
		now:      time.Now,
	}
	if err := l.reopenLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// LogToolError records a failed call. A nil logger is a no-op.
func (l *ToolErrorLogger) LogToolError(toolName string, args map[string]any, err error, category, transport string) {
	if l == nil || err == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return
	}

	entry := ToolErrorLogEntry{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		ToolName:  toolName,
		Arguments: args,
		Error:     err.Error(),
		Category:  category,
		Transport: transport,
	}

	jsonData, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		l.warn(marshalErr, "Failed to marshal tool error log entry")
		return
	}

	if _, writeErr := l.logFile.Write(append(jsonData, '\n')); writeErr != nil {
		l.warn(writeErr, "Failed to write tool error log entry")
		return
	}

	if syncErr := l.logFile.Sync(); syncErr != nil {
		l.warn(syncErr, "Failed to sync tool error log file")
	}
}

// Close closes the log file
func (l *ToolErrorLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// Path returns the log file location
func (l *ToolErrorLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Prune drops entries older than retentionDays. Lines that cannot be parsed are kept.
func (l *ToolErrorLogger) Prune(retentionDays int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close log file for pruning: %w", err)
		}
		l.logFile = nil
	}

	file, err := os.Open(l.filePath)
	if err != nil {
		return l.reopenLocked()
	}

	var kept []string
	cutoff := l.now().AddDate(0, 0, -retentionDays)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry ToolErrorLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			kept = append(kept, line)
			continue
		}
		entryTime, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil || entryTime.After(cutoff) {
			kept = append(kept, line)
		}
	}

	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		_ = l.reopenLocked()
		return fmt.Errorf("error reading log file during pruning: %w", scanErr)
	}

	var content string
	if len(kept) > 0 {
		content = strings.Join(kept, "\n") + "\n"
	}

	tmpPath := l.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		_ = l.reopenLocked()
		return fmt.Errorf("failed to write pruned log file: %w", err)
	}
	if err := os.Rename(tmpPath, l.filePath); err != nil {
		_ = os.Remove(tmpPath)
		_ = l.reopenLocked()
		return fmt.Errorf("failed to replace log file during pruning: %w", err)
	}

	return l.reopenLocked()
}

// reopenLocked opens the log file in append mode. Caller must hold l.mu.
func (l *ToolErrorLogger) reopenLocked() error {
	logFile, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open tool error log file: %w", err)
	}
	l.logFile = logFile
	return nil
}

func (l *ToolErrorLogger) warn(err error, msg string) {
	if l.logger != nil {
		l.logger.WithError(err).Error(msg)
	}
}

// Package registry holds the MCP tools that packages register from init, plus the cache shared
// by every tool call.
package registry

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sirupsen/logrus"
)

// DisabledToolsEnvVar lists tool names, comma separated, that are left off the MCP server
const DisabledToolsEnvVar = "DISABLED_TOOLS"

var (
	mu       sync.RWMutex
	known    = make(map[string]tools.Tool)
	disabled = make(map[string]bool)

	logger *logrus.Logger
	cache  *sync.Map
)

// Init sets the shared logger, creates the shared cache and reads DISABLED_TOOLS
func Init(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()

	logger = l
	cache = &sync.Map{}
	disabled = make(map[string]bool)
	for entry := range strings.SplitSeq(os.Getenv(DisabledToolsEnvVar), ",") {
		if name := normalise(entry); name != "" {
			disabled[name] = true
		}
	}
	if logger != nil && len(disabled) > 0 {
		logger.WithField("tools", sortedKeys(disabled)).Debug("Tools disabled by environment")
	}
}

// normalise folds case and treats underscores as hyphens, so PDF_To_Markdown finds pdf-to-markdown
func normalise(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}

// Register adds a tool under its definition name, replacing any earlier tool of that name.
// Tools register from init, before Init has read DISABLED_TOOLS, so disabling happens on lookup.
func Register(tool tools.Tool) {
	mu.Lock()
	defer mu.Unlock()

	name := normalise(tool.Definition().Name)
	known[name] = tool
	if logger != nil {
		logger.WithField("tool", name).Debug("Tool registered")
	}
}

// GetTool looks a tool up by name. Disabled tools are reported as missing.
func GetTool(name string) (tools.Tool, bool) {
	mu.RLock()
	defer mu.RUnlock()

	key := normalise(name)
	if disabled[key] {
		return nil, false
	}
	tool, ok := known[key]
	return tool, ok
}

// GetEnabledTools returns the tools to expose on the MCP server, keyed by name
func GetEnabledTools() map[string]tools.Tool {
	mu.RLock()
	defer mu.RUnlock()

	enabled := make(map[string]tools.Tool, len(known))
	for name, tool := range known {
		if !disabled[name] {
			enabled[name] = tool
		}
	}
	return enabled
}

// EnabledNames returns the enabled tool names in sorted order
func EnabledNames() []string {
	enabled := GetEnabledTools()
	names := make([]string, 0, len(enabled))
	for name := range enabled {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Disabled returns the normalised names from DISABLED_TOOLS in sorted order
func Disabled() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(disabled)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// GetCache returns the shared cache
func GetCache() *sync.Map {
	mu.RLock()
	defer mu.RUnlock()
	return cache
}

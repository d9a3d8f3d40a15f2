package security

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DenyList blocks local files and remote domains by pattern.
// File patterns may use a leading ~/, a trailing / for whole directories, or filepath.Match globs.
// Domain patterns match the domain itself and all of its subdomains; a leading "*." is accepted.
type DenyList struct {
	filePatterns   []string
	domainPatterns []string
	mutex          sync.RWMutex
}

// NewDenyList creates a deny list from file and domain patterns
func NewDenyList(files, domains []string) *DenyList {
	d := &DenyList{}
	d.Update(files, domains)
	return d
}

// Update replaces the deny lists
func (d *DenyList) Update(files, domains []string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.filePatterns = make([]string, 0, len(files))
	for _, pattern := range files {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			d.filePatterns = append(d.filePatterns, expandHomePath(pattern))
		}
	}

	d.domainPatterns = make([]string, 0, len(domains))
	for _, pattern := range domains {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		pattern = strings.TrimPrefix(pattern, "*.")
		if pattern != "" {
			d.domainPatterns = append(d.domainPatterns, pattern)
		}
	}
}

// IsFileBlocked checks if a file path is blocked by deny rules
func (d *DenyList) IsFileBlocked(filePath string) bool {
	if d == nil {
		return false
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	cleanPath := filepath.Clean(expandHomePath(filePath))
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		absPath = cleanPath
	}
	candidates := []string{absPath}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil && resolved != absPath {
		candidates = append(candidates, resolved)
	}

	for _, pattern := range d.filePatterns {
		for _, candidate := range candidates {
			if pathMatches(candidate, pattern) {
				return true
			}
		}
	}

	return false
}

// IsDomainBlocked checks if a domain is blocked by deny rules
func (d *DenyList) IsDomainBlocked(domain string) bool {
	if d == nil {
		return false
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")

	for _, pattern := range d.domainPatterns {
		if domain == pattern || strings.HasSuffix(domain, "."+pattern) {
			return true
		}
	}

	return false
}

// Patterns returns copies of the current file and domain patterns
func (d *DenyList) Patterns() (files, domains []string) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	files = make([]string, len(d.filePatterns))
	copy(files, d.filePatterns)

	domains = make([]string, len(d.domainPatterns))
	copy(domains, d.domainPatterns)

	return files, domains
}

// expandHomePath expands ~ to the user's home directory
func expandHomePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:]) + trailingSeparator(path)
		}
	}
	return path
}

func trailingSeparator(path string) string {
	if strings.HasSuffix(path, "/") {
		return string(filepath.Separator)
	}
	return ""
}

// pathMatches checks if a path matches a pattern
func pathMatches(path, pattern string) bool {
	// Directory pattern
	if strings.HasSuffix(pattern, string(filepath.Separator)) || strings.HasSuffix(pattern, "/") {
		dir := filepath.Clean(pattern)
		return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
	}

	cleanPattern := filepath.Clean(pattern)
	if path == cleanPattern || strings.HasPrefix(path, cleanPattern+string(filepath.Separator)) {
		return true
	}

	// Glob pattern match
	if matched, _ := filepath.Match(cleanPattern, path); matched {
		return true
	}

	return false
}

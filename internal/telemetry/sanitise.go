package telemetry

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

const (
	minTokenLength = 20
	redacted       = "[REDACTED]"
)

var (
	secretAssignment = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|secret|password|passwd|pwd|auth|authorization)[\s:=]+["']?([^\s"'&]+)`)

	sensitiveNames = []string{"key", "token", "secret", "password", "passwd", "auth", "credential", "signature"}
)

func isSensitiveName(name string) bool {
	name = strings.ToLower(name)
	for _, s := range sensitiveNames {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// SanitiseURL drops user info and redacts query parameters that look like credentials
func SanitiseURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" {
		return "[INVALID_URL]"
	}

	parsedURL.User = nil
	if parsedURL.RawQuery != "" {
		query := parsedURL.Query()
		for key := range query {
			if isSensitiveName(key) {
				query.Set(key, redacted)
			}
		}
		parsedURL.RawQuery = query.Encode()
	}
	return parsedURL.String()
}

// SanitiseArguments renders tool arguments as JSON with credentials removed. URL values are passed
// through SanitiseURL; local paths are kept.
func SanitiseArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	jsonBytes, err := json.Marshal(sanitiseMap(args))
	if err != nil {
		return `{"error": "failed to serialise arguments"}`
	}
	return string(jsonBytes)
}

func sanitiseMap(m map[string]any) map[string]any {
	sanitised := make(map[string]any, len(m))
	for key, value := range m {
		if isSensitiveName(key) {
			sanitised[key] = redacted
			continue
		}

		switch v := value.(type) {
		case map[string]any:
			sanitised[key] = sanitiseMap(v)
		case string:
			sanitised[key] = sanitiseString(v)
		default:
			sanitised[key] = value
		}
	}
	return sanitised
}

func sanitiseString(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return SanitiseURL(s)
	}
	if secretAssignment.MatchString(s) {
		return secretAssignment.ReplaceAllString(s, "$1="+redacted)
	}
	if len(s) > minTokenLength && looksLikeToken(s) {
		return s[:4] + "..." + redacted
	}
	return s
}

// looksLikeToken reports whether s is a single run of token characters
func looksLikeToken(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// TruncateString shortens s to maxLen bytes including a trailing ellipsis
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

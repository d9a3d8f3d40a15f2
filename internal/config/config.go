// Package config loads server settings from defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is used for the config directory, log directory and server name
	AppName = "mcp-markdownify"

	DefaultPort               = "3000"
	DefaultHost               = "0.0.0.0"
	DefaultEndpointPath       = "/mcp"
	DefaultHTTPTimeout        = 15 * time.Second
	DefaultMaxContentSize     = int64(20 * 1024 * 1024)
	DefaultPDFMaxFileSize     = int64(200 * 1024 * 1024)
	DefaultMarkitdownTimeout  = 5 * time.Minute
	DefaultSearchRateLimit    = 1.0
	DefaultMarkitdownPackage  = "markitdown[all]"
	configEnvVar              = "MCP_MARKDOWNIFY_CONFIG"
	configFileName            = "config.yaml"
	allowPrivateNetworkEnvVar = "MD_ALLOW_PRIVATE_NETWORKS"
)

// Config holds every runtime setting used outside of the CLI flags
type Config struct {
	// ShareDir restricts get-markdown-file to a single directory tree when set
	ShareDir string `yaml:"share_dir"`

	// OutputDir is where converted Markdown files are written (defaults to ShareDir, then the OS temp dir)
	OutputDir string `yaml:"output_dir"`

	// UVPath is the uv executable used to run markitdown
	UVPath string `yaml:"uv_path"`

	// MarkitdownPackage is the package spec handed to `uv tool run --from`
	MarkitdownPackage string `yaml:"markitdown_package"`

	// MarkitdownArgs are extra arguments appended to every markitdown invocation
	MarkitdownArgs string `yaml:"markitdown_args"`

	MarkitdownTimeout time.Duration `yaml:"markitdown_timeout"`

	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	MaxContentSize int64         `yaml:"max_content_size"`
	PDFMaxFileSize int64         `yaml:"pdf_max_file_size"`

	// DenyDomains blocks outbound fetches to these domains (and their subdomains)
	DenyDomains []string `yaml:"deny_domains"`

	// DenyFiles blocks conversion of local files under these paths
	DenyFiles []string `yaml:"deny_files"`

	// AllowPrivateNetworks disables the private address check, intended for local testing only
	AllowPrivateNetworks bool `yaml:"allow_private_networks"`

	// SearchRateLimit is the number of outbound search/video page requests allowed per second
	SearchRateLimit float64 `yaml:"search_rate_limit"`

	UserAgent string `yaml:"user_agent"`
}

// DefaultDenyFiles are paths that are never converted, mirroring common credential locations
var DefaultDenyFiles = []string{
	"~/.ssh/",
	"~/.aws/",
	"~/.gnupg/",
	"~/.kube/config",
	"~/.docker/config.json",
	"~/.netrc",
	"/etc/shadow",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		MarkitdownPackage: DefaultMarkitdownPackage,
		MarkitdownTimeout: DefaultMarkitdownTimeout,
		HTTPTimeout:       DefaultHTTPTimeout,
		MaxContentSize:    DefaultMaxContentSize,
		PDFMaxFileSize:    DefaultPDFMaxFileSize,
		DenyFiles:         append([]string(nil), DefaultDenyFiles...),
		SearchRateLimit:   DefaultSearchRateLimit,
		UserAgent:         "Mozilla/5.0 (compatible; mcp-markdownify/1.0; +https://github.com/sammcj/mcp-markdownify)",
	}
}

// Load builds the configuration: defaults, then the YAML file, then environment variables.
// A .env file in the working directory is loaded first and never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := FilePath()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalise()

	return cfg, nil
}

// FilePath returns the config file location, or "" if none can be determined
func FilePath() string {
	if p := os.Getenv(configEnvVar); p != "" {
		return ExpandHome(p)
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configFileName)
}

// Dir returns ~/.mcp-markdownify
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, "."+AppName), nil
}

// LogDir returns ~/.mcp-markdownify/logs
func LogDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MD_SHARE_DIR"); v != "" {
		c.ShareDir = v
	}
	if v := os.Getenv("MD_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("UV_PATH"); v != "" {
		c.UVPath = v
	}
	if v := os.Getenv("MARKITDOWN_PACKAGE"); v != "" {
		c.MarkitdownPackage = v
	}
	if v := os.Getenv("MARKITDOWN_ARGS"); v != "" {
		c.MarkitdownArgs = v
	}
	if d, ok := durationEnv("MARKITDOWN_TIMEOUT"); ok {
		c.MarkitdownTimeout = d
	}
	if d, ok := durationEnv("HTTP_TIMEOUT"); ok {
		c.HTTPTimeout = d
	}
	if n, ok := int64Env("HTTP_MAX_CONTENT_SIZE"); ok {
		c.MaxContentSize = n
	}
	if n, ok := int64Env("PDF_MAX_FILE_SIZE"); ok {
		c.PDFMaxFileSize = n
	}
	if v := os.Getenv("MD_DENY_DOMAINS"); v != "" {
		c.DenyDomains = append(c.DenyDomains, splitList(v)...)
	}
	if v := os.Getenv("MD_DENY_FILES"); v != "" {
		c.DenyFiles = append(c.DenyFiles, splitList(v)...)
	}
	if v := os.Getenv(allowPrivateNetworkEnvVar); v != "" {
		c.AllowPrivateNetworks = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SEARCH_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.SearchRateLimit = f
		}
	}
	if v := os.Getenv("MD_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
}

func (c *Config) normalise() {
	if c.ShareDir != "" {
		c.ShareDir = filepath.Clean(ExpandHome(c.ShareDir))
	}
	if c.OutputDir != "" {
		c.OutputDir = filepath.Clean(ExpandHome(c.OutputDir))
	}
	if c.UVPath != "" {
		c.UVPath = ExpandHome(c.UVPath)
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.MaxContentSize <= 0 {
		c.MaxContentSize = DefaultMaxContentSize
	}
	if c.PDFMaxFileSize <= 0 {
		c.PDFMaxFileSize = DefaultPDFMaxFileSize
	}
	if c.MarkitdownTimeout <= 0 {
		c.MarkitdownTimeout = DefaultMarkitdownTimeout
	}
	if c.SearchRateLimit <= 0 {
		c.SearchRateLimit = DefaultSearchRateLimit
	}
	if c.MarkitdownPackage == "" {
		c.MarkitdownPackage = DefaultMarkitdownPackage
	}
}

// ResolvedOutputDir is the directory conversions are written to. An output dir outside the share
// dir is ignored in favour of the share dir, so every converted file can be read back.
func (c *Config) ResolvedOutputDir() string {
	switch {
	case c.OutputDir != "" && !c.OutputOutsideShare():
		return c.OutputDir
	case c.ShareDir != "":
		return c.ShareDir
	default:
		return os.TempDir()
	}
}

// OutputOutsideShare reports an output dir that get-markdown-file would refuse to read from
func (c *Config) OutputOutsideShare() bool {
	if c.OutputDir == "" || c.ShareDir == "" {
		return false
	}
	return !withinDir(c.OutputDir, c.ShareDir)
}

func withinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ExpandHome expands a leading ~ to the user's home directory
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func splitList(v string) []string {
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func durationEnv(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	// Bare integers are seconds
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func int64Env(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

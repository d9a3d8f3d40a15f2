// Package cli runs conversions and MCP tools straight from the command line, without starting a
// server. Everything goes through the same registry and pipeline the server uses.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/registry"
	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sammcj/mcp-markdownify/internal/tools/conversion"
	"github.com/sammcj/mcp-markdownify/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

// OutputFormat controls how results are rendered.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q, expected text or json", s)
	}
}

// ExtractOutputFlag removes --output/-o from args for commands that pass their remaining flags on
// to a tool
func ExtractOutputFlag(args []string) (string, []string, error) {
	output := string(OutputText)
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--output" || arg == "-o":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("flag %s requires a value", arg)
			}
			i++
			output = args[i]
		case strings.HasPrefix(arg, "--output="):
			output = strings.TrimPrefix(arg, "--output=")
		case strings.HasPrefix(arg, "-o="):
			output = strings.TrimPrefix(arg, "-o=")
		default:
			rest = append(rest, arg)
		}
	}
	return output, rest, nil
}

// Runner executes CLI commands against the tool registry.
type Runner struct {
	logger *logrus.Logger
	cache  *sync.Map
	output OutputFormat
	out    io.Writer
}

// NewRunner creates a Runner writing to stdout.
func NewRunner(logger *logrus.Logger, cache *sync.Map, output OutputFormat) *Runner {
	return &Runner{logger: logger, cache: cache, output: output, out: os.Stdout}
}

// WithWriter redirects output to w
func (r *Runner) WithWriter(w io.Writer) *Runner {
	r.out = w
	return r
}

// ListTools prints all enabled tools with their descriptions.
func (r *Runner) ListTools() error {
	enabled := registry.GetEnabledTools()

	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	entries := make([]entry, 0, len(enabled))
	for _, t := range enabled {
		def := t.Definition()
		entries = append(entries, entry{Name: def.Name, Description: firstSentence(def.Description)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if r.output == OutputJSON {
		return writeJSON(r.out, entries)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
	}
	return w.Flush()
}

// HelpTool prints the parameters of a single tool and, when it has one, its extended help.
func (r *Runner) HelpTool(name string) error {
	tool, err := resolveTool(name)
	if err != nil {
		return err
	}
	def := tool.Definition()

	var help *tools.ExtendedHelp
	if provider, ok := tool.(tools.ExtendedHelpProvider); ok {
		help = provider.ProvideExtendedInfo()
	}

	if r.output == OutputJSON {
		return writeJSON(r.out, struct {
			Tool         mcp.Tool            `json:"tool"`
			ExtendedHelp *tools.ExtendedHelp `json:"extended_help,omitempty"`
		}{def, help})
	}

	fmt.Fprintf(r.out, "Tool: %s\n\n%s\n\n", def.Name, def.Description)

	props := def.InputSchema.Properties
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	slices.Sort(names)

	fmt.Fprintln(r.out, "Parameters:")
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, pName := range names {
		pMap, ok := props[pName].(map[string]any)
		if !ok {
			continue
		}
		pType, _ := pMap["type"].(string)
		pDesc, _ := pMap["description"].(string)

		reqMark := ""
		if slices.Contains(def.InputSchema.Required, pName) {
			reqMark = " (required)"
		}
		fmt.Fprintf(w, "  --%s\t%s\t%s%s%s\n", toFlagName(pName), pType, pDesc, reqMark, formatEnum(pMap))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if help == nil {
		return nil
	}
	if help.WhenToUse != "" {
		fmt.Fprintf(r.out, "\nWhen to use: %s\n", help.WhenToUse)
	}
	if help.WhenNotToUse != "" {
		fmt.Fprintf(r.out, "When not to use: %s\n", help.WhenNotToUse)
	}
	for _, ex := range help.Examples {
		args, _ := json.Marshal(ex.Arguments)
		fmt.Fprintf(r.out, "\nExample: %s\n  %s\n", ex.Description, args)
	}
	for _, tip := range help.Troubleshooting {
		fmt.Fprintf(r.out, "\nProblem: %s\n  %s\n", tip.Problem, tip.Solution)
	}
	return nil
}

// RunTool executes a tool by name. args are --key=value flags, --flag booleans or a JSON object.
func (r *Runner) RunTool(ctx context.Context, name string, args []string) error {
	tool, err := resolveTool(name)
	if err != nil {
		return err
	}

	params, err := parseArgs(args, tool.Definition())
	if err != nil {
		return fmt.Errorf("argument error: %w", err)
	}

	result, err := tool.Execute(ctx, r.logger, r.cache, params)
	if err != nil {
		return fmt.Errorf("tool error: %w", err)
	}
	return r.renderResult(result)
}

// Convert runs one operation on source. Text output is the Markdown itself; the saved path goes
// to the logger so the output can be piped.
func (r *Runner) Convert(ctx context.Context, operation, source string, args []string) error {
	op, err := markdownify.ParseOperation(operation)
	if err != nil {
		return err
	}

	tool := conversion.New(op)
	params, err := parseArgs(args, tool.Definition())
	if err != nil {
		return fmt.Errorf("argument error: %w", err)
	}
	params[tool.Definition().InputSchema.Required[0]] = source

	req, err := tool.ParseRequest(params)
	if err != nil {
		return fmt.Errorf("argument error: %w", err)
	}

	p, err := conversion.Pipeline(r.logger)
	if err != nil {
		return err
	}
	result, err := p.Dispatcher.Dispatch(ctx, *req)
	if err != nil {
		return err
	}

	if r.output == OutputJSON {
		return writeJSON(r.out, result)
	}
	r.logger.WithField("path", result.Path).Info("Markdown saved")
	_, err = fmt.Fprintln(r.out, strings.TrimRight(result.Text, "\n"))
	return err
}

// DoctorReport is what Doctor checks
type DoctorReport struct {
	ConfigFile      string   `json:"config_file"`
	OutputDir       string   `json:"output_dir"`
	OutputWritable  bool     `json:"output_writable"`
	ShareDir        string   `json:"share_dir,omitempty"`
	UVPath          string   `json:"uv_path,omitempty"`
	Markitdown      bool     `json:"markitdown_available"`
	MarkitdownInfo  string   `json:"markitdown_info,omitempty"`
	PrivateNetworks bool     `json:"private_networks_allowed"`
	DisabledTools   []string `json:"disabled_tools,omitempty"`
	Proxy           string   `json:"proxy,omitempty"`
	DenyDomains     []string `json:"deny_domains,omitempty"`
	DenyFiles       []string `json:"deny_files,omitempty"`
}

// Doctor reports whether markitdown can be run and where converted files go
func (r *Runner) Doctor(ctx context.Context, cfg *config.Config) (*DoctorReport, error) {
	p, err := conversion.Pipeline(r.logger)
	if err != nil {
		return nil, err
	}

	report := &DoctorReport{
		ConfigFile:      config.FilePath(),
		OutputDir:       cfg.ResolvedOutputDir(),
		ShareDir:        cfg.ShareDir,
		PrivateNetworks: cfg.AllowPrivateNetworks,
		DisabledTools:   registry.Disabled(),
		Proxy:           httpclient.ProxyURL(),
	}
	report.OutputWritable = dirWritable(report.OutputDir)
	if p.DenyList != nil {
		report.DenyFiles, report.DenyDomains = p.DenyList.Patterns()
	}

	status, probeErr := p.Runner.Probe(ctx)
	if status != nil {
		report.UVPath = status.UVPath
		report.Markitdown = status.Available
		report.MarkitdownInfo = status.Version
	}
	if probeErr != nil {
		report.MarkitdownInfo = probeErr.Error()
	}

	if r.output == OutputJSON {
		return report, writeJSON(r.out, report)
	}

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	mark := func(pass bool) string {
		if pass {
			return ok("✓")
		}
		return bad("✗")
	}

	fmt.Fprintf(r.out, "%s output directory  %s\n", mark(report.OutputWritable), report.OutputDir)
	if report.ShareDir != "" {
		fmt.Fprintf(r.out, "  share directory   %s\n", report.ShareDir)
	}
	fmt.Fprintf(r.out, "%s uv                %s\n", mark(report.UVPath != ""), valueOr(report.UVPath, "not found"))
	fmt.Fprintf(r.out, "%s markitdown        %s\n", mark(report.Markitdown), report.MarkitdownInfo)
	fmt.Fprintf(r.out, "  config file       %s\n", report.ConfigFile)
	if report.PrivateNetworks {
		fmt.Fprintf(r.out, "%s private networks  allowed\n", color.YellowString("!"))
	}
	if len(report.DisabledTools) > 0 {
		fmt.Fprintf(r.out, "  disabled tools    %s\n", strings.Join(report.DisabledTools, ", "))
	}
	if report.Proxy != "" {
		fmt.Fprintf(r.out, "  proxy             %s\n", report.Proxy)
	}
	if len(report.DenyDomains) > 0 {
		fmt.Fprintf(r.out, "  denied domains    %s\n", strings.Join(report.DenyDomains, ", "))
	}
	if len(report.DenyFiles) > 0 {
		fmt.Fprintf(r.out, "  denied files      %s\n", strings.Join(report.DenyFiles, ", "))
	}
	return report, nil
}

func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// parseArgs converts CLI arguments into the map a tool's Execute expects.
func parseArgs(args []string, def mcp.Tool) (map[string]any, error) {
	params := make(map[string]any)
	schema := buildSchemaInfo(def)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(arg), &obj); err != nil {
				return nil, fmt.Errorf("invalid JSON argument: %w", err)
			}
			// flags win over JSON
			for k, v := range obj {
				if _, exists := params[k]; !exists {
					params[k] = v
				}
			}
			continue
		}

		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s (use --key=value flags or pass a JSON object)", arg)
		}

		stripped := strings.TrimPrefix(arg, "--")
		if flagName, rawVal, found := strings.Cut(stripped, "="); found {
			name := schema.resolveParam(flagName)
			params[name] = coerceValue(rawVal, schema.types[name])
			continue
		}

		name := schema.resolveParam(stripped)
		if schema.types[name] == "boolean" {
			params[name] = true
			continue
		}
		i++
		if i >= len(args) {
			return nil, fmt.Errorf("flag --%s requires a value", stripped)
		}
		params[name] = coerceValue(args[i], schema.types[name])
	}

	return params, nil
}

type schemaInfo struct {
	types       map[string]string
	flagToParam map[string]string
}

// resolveParam maps a kebab-case flag to its parameter name, falling back to snake_case
func (s schemaInfo) resolveParam(flagName string) string {
	if actual, ok := s.flagToParam[flagName]; ok {
		return actual
	}
	return strings.ReplaceAll(flagName, "-", "_")
}

func buildSchemaInfo(def mcp.Tool) schemaInfo {
	info := schemaInfo{
		types:       make(map[string]string, len(def.InputSchema.Properties)),
		flagToParam: make(map[string]string, len(def.InputSchema.Properties)),
	}
	for name, prop := range def.InputSchema.Properties {
		if pm, ok := prop.(map[string]any); ok {
			if t, ok := pm["type"].(string); ok {
				info.types[name] = t
			}
		}
		info.flagToParam[toFlagName(name)] = name
	}
	return info
}

// coerceValue converts a flag value to the JSON type the schema declares. Numbers become float64
// as they would arriving over MCP.
func coerceValue(raw, schemaType string) any {
	switch schemaType {
	case "number", "integer":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(strings.ToLower(raw)); err == nil {
			return b
		}
		switch strings.ToLower(raw) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return raw
}

func (r *Runner) renderResult(result *mcp.CallToolResult) error {
	if result == nil {
		return nil
	}

	if r.output == OutputJSON {
		return writeJSON(r.out, result)
	}

	for _, content := range result.Content {
		if c, ok := content.(mcp.TextContent); ok {
			fmt.Fprintln(r.out, c.Text)
			continue
		}
		data, err := json.MarshalIndent(content, "", "  ")
		if err != nil {
			fmt.Fprintf(r.out, "%+v\n", content)
			continue
		}
		fmt.Fprintln(r.out, string(data))
	}

	if result.IsError {
		return errors.New("tool returned an error")
	}
	return nil
}

// resolveTool accepts a tool name or an operation name such as "pdf"
func resolveTool(name string) (tools.Tool, error) {
	if tool, ok := registry.GetTool(name); ok {
		return tool, nil
	}
	op, err := markdownify.ParseOperation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown tool: %s (run 'mcp-markdownify tools list' to see available tools)", name)
	}
	if tool, ok := registry.GetTool(op.ToolName()); ok {
		return tool, nil
	}
	return nil, fmt.Errorf("tool %s is disabled", op.ToolName())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstSentence(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	if before, _, found := strings.Cut(s, ". "); found {
		return before + "."
	}
	return s
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// toFlagName converts camelCase or snake_case to kebab-case
func toFlagName(s string) string {
	s = strings.ReplaceAll(s, "_", "-")
	var out strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				out.WriteByte('-')
			}
			out.WriteRune(r + 32)
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func formatEnum(pMap map[string]any) string {
	var vals []string
	switch enum := pMap["enum"].(type) {
	case []string:
		vals = enum
	case []any:
		for _, v := range enum {
			vals = append(vals, fmt.Sprint(v))
		}
	}
	if len(vals) == 0 {
		return ""
	}
	return " [" + strings.Join(vals, "|") + "]"
}

// Package conversion exposes each markdownify operation as an MCP tool.
package conversion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/converters"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/registry"
	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sirupsen/logrus"
)

// ConversionTool runs one operation through the shared pipeline
type ConversionTool struct {
	op   markdownify.Operation
	spec toolSpec
}

var (
	pipelineMu sync.Mutex
	pipeline   *converters.Pipeline
)

func init() {
	for _, op := range markdownify.AllOperations() {
		registry.Register(New(op))
	}
}

// New returns the tool for op
func New(op markdownify.Operation) *ConversionTool {
	return &ConversionTool{op: op, spec: specs[op]}
}

// SetPipeline installs the pipeline every conversion tool dispatches to. Passing nil makes the
// next call build one from config.Load.
func SetPipeline(p *converters.Pipeline) {
	pipelineMu.Lock()
	defer pipelineMu.Unlock()
	pipeline = p
}

// Pipeline returns the installed pipeline, building it on first use
func Pipeline(logger *logrus.Logger) (*converters.Pipeline, error) {
	pipelineMu.Lock()
	defer pipelineMu.Unlock()

	if pipeline != nil {
		return pipeline, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	p, err := converters.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise conversion pipeline: %w", err)
	}
	pipeline = p
	return p, nil
}

// Operation is the operation this tool runs
func (t *ConversionTool) Operation() markdownify.Operation {
	return t.op
}

// Definition returns the tool's definition for MCP registration
func (t *ConversionTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(t.spec.description + " Returns JSON with the Markdown text and the path of the .md file it was saved to."),
		mcp.WithString(t.spec.sourceArg,
			mcp.Required(),
			mcp.Description(t.spec.sourceDoc),
		),
	}

	for _, p := range t.spec.params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.description)}
		switch p.kind {
		case kindBool:
			opts = append(opts, mcp.WithBoolean(p.name, propOpts...))
		case kindNumber:
			opts = append(opts, mcp.WithNumber(p.name, append(propOpts, mcp.Min(1))...))
		default:
			if len(p.enum) > 0 {
				propOpts = append(propOpts, mcp.Enum(p.enum...))
			}
			opts = append(opts, mcp.WithString(p.name, propOpts...))
		}
	}

	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(t.op == markdownify.OpGetMarkdownFile),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(t.spec.openWorld),
	)

	return mcp.NewTool(t.op.ToolName(), opts...)
}

// Execute converts the source and returns {"path": ..., "text": ...}
func (t *ConversionTool) Execute(ctx context.Context, logger *logrus.Logger, _ *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	request, err := t.ParseRequest(args)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"tool":   t.op.ToolName(),
		"source": request.Source,
		"params": request.Params,
	}).Debug("Executing conversion tool")

	p, err := Pipeline(logger)
	if err != nil {
		return nil, err
	}

	result, err := p.Dispatcher.Dispatch(ctx, *request)
	if err != nil {
		return nil, err
	}

	return tools.NewToolResultJSON(result)
}

// ParseRequest validates the arguments and builds the conversion request. Only the declared
// optional params are passed on.
func (t *ConversionTool) ParseRequest(args map[string]any) (*markdownify.Request, error) {
	source, ok := args[t.spec.sourceArg].(string)
	if !ok || strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: %s", t.spec.sourceArg)
	}

	params := make(map[string]any)
	for _, p := range t.spec.params {
		value, exists := args[p.name]
		if !exists || value == nil {
			continue
		}

		switch p.kind {
		case kindBool:
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("%s must be a boolean", p.name)
			}
		case kindNumber:
			n, ok := value.(float64)
			if !ok {
				if i, isInt := value.(int); isInt {
					n, ok = float64(i), true
				}
			}
			if !ok || n < 1 || n != float64(int(n)) {
				return nil, fmt.Errorf("%s must be a positive whole number", p.name)
			}
			value = int(n)
		default:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", p.name)
			}
			if len(p.enum) > 0 && !containsFold(p.enum, s) {
				return nil, fmt.Errorf("%s must be one of %s, got %q", p.name, strings.Join(p.enum, ", "), s)
			}
		}
		params[p.name] = value
	}

	return &markdownify.Request{
		Operation: t.op,
		Source:    strings.TrimSpace(source),
		Params:    params,
	}, nil
}

// ProvideExtendedInfo implements tools.ExtendedHelpProvider
func (t *ConversionTool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return t.spec.help
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

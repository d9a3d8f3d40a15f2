package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/converters"
	"github.com/sammcj/mcp-markdownify/internal/registry"
	"github.com/sammcj/mcp-markdownify/internal/telemetry"
	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sammcj/mcp-markdownify/internal/tools/conversion"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	mdcli "github.com/sammcj/mcp-markdownify/internal/cli"
	// Import all tool packages to register them
	_ "github.com/sammcj/mcp-markdownify/internal/imports"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global resources that need cleanup
var (
	debugLogFile atomic.Pointer[os.File]
	isStdioMode  atomic.Bool
)

const (
	// DefaultMemoryLimit is the default soft memory limit (2GB)
	DefaultMemoryLimit = 2 * 1024 * 1024 * 1024

	memoryLimitEnvVar = "MCP_MARKDOWNIFY_MEMORY_LIMIT"
)

// parseLogLevel parses LOG_LEVEL, defaulting to warn
func parseLogLevel() logrus.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

// setMemoryLimit configures the Go runtime soft memory limit. Large PDFs and workbooks are parsed
// in memory.
func setMemoryLimit() {
	var memLimit int64 = DefaultMemoryLimit
	if parsed, err := strconv.ParseInt(os.Getenv(memoryLimitEnvVar), 10, 64); err == nil && parsed > 0 {
		memLimit = parsed
	}
	debug.SetMemoryLimit(memLimit)
}

func main() {
	os.Exit(run(os.Args))
}

// run executes the command line and returns the process exit code. Deferred cleanup has finished
// by the time it returns.
func run(args []string) int {
	setMemoryLimit()

	// .env never overrides variables that are already set
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discard until the transport is known; stdio must not see stray output
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	registry.Init(logger)
	telemetry.SetServiceVersion(Version)

	defer performCleanup(logger)

	app := &cli.Command{
		Name:    config.AppName,
		Usage:   "MCP server that converts documents, web pages, videos and media to Markdown",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Value:   "http",
				Usage:   "Transport type (stdio, sse, or http)",
				Sources: cli.EnvVars("MCP_TRANSPORT"),
			},
			&cli.StringFlag{
				Name:    "port",
				Value:   config.DefaultPort,
				Usage:   "Port to use for HTTP transports (SSE and Streamable HTTP)",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   config.DefaultHost,
				Usage:   "Interface to listen on for HTTP transports",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.StringFlag{
				Name:    "base-url",
				Value:   "http://localhost",
				Usage:   "Base URL advertised by the SSE transport",
				Sources: cli.EnvVars("MCP_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "auth-token",
				Usage:   "Bearer token required by the HTTP transports (optional)",
				Sources: cli.EnvVars("MCP_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "endpoint-path",
				Value:   config.DefaultEndpointPath,
				Usage:   "Endpoint path for Streamable HTTP transport",
				Sources: cli.EnvVars("MCP_ENDPOINT_PATH"),
			},
			&cli.DurationFlag{
				Name:    "session-timeout",
				Value:   30 * time.Minute,
				Usage:   "Idle timeout for Streamable HTTP sessions",
				Sources: cli.EnvVars("MCP_SESSION_TIMEOUT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("%s version %s\n", config.AppName, Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
			convertCommand(logger),
			toolsCommand(logger),
			doctorCommand(logger),
		},
		Action: func(cliCtx context.Context, cmd *cli.Command) error {
			return serve(cliCtx, cmd, logger)
		},
	}

	if err := app.Run(ctx, args); err != nil {
		// stdio clients only understand protocol messages
		if !isStdioMode.Load() {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Value:   string(mdcli.OutputText),
		Usage:   "Output format (text or json)",
	}
}

// newCLIRunner configures logging and the pipeline for the one-shot commands
func newCLIRunner(output string, logger *logrus.Logger) (*mdcli.Runner, *config.Config, error) {
	format, err := mdcli.ParseOutputFormat(output)
	if err != nil {
		return nil, nil, err
	}

	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel())

	cfg, err := setupPipeline(logger)
	if err != nil {
		return nil, nil, err
	}
	return mdcli.NewRunner(logger, registry.GetCache(), format), cfg, nil
}

func convertCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a file or URL to Markdown without starting the server",
		ArgsUsage: "<operation> <path-or-url> [--param=value ...]",
		Description: "Operations: pdf, image, audio, docx, xlsx, pptx, youtube, bing, webpage, get-markdown-file.\n" +
			"Extra arguments are passed to the operation, e.g. --pages=1-3 or --engine=markitdown.\n" +
			"Use --output=json to print the saved path along with the text.",
		SkipFlagParsing: true,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			output, args, err := mdcli.ExtractOutputFlag(cmd.Args().Slice())
			if err != nil {
				return err
			}
			if len(args) < 2 {
				return fmt.Errorf("usage: %s convert %s", config.AppName, cmd.ArgsUsage)
			}
			runner, _, err := newCLIRunner(output, logger)
			if err != nil {
				return err
			}
			return runner.Convert(ctx, args[0], args[1], args[2:])
		},
	}
}

func toolsCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List, describe and run the MCP tools directly",
		Flags: []cli.Flag{outputFlag()},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List enabled tools",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					runner, _, err := newCLIRunner(cmd.String("output"), logger)
					if err != nil {
						return err
					}
					return runner.ListTools()
				},
			},
			{
				Name:      "help",
				Usage:     "Show a tool's parameters and usage notes",
				ArgsUsage: "<tool>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("usage: %s tools help <tool>", config.AppName)
					}
					runner, _, err := newCLIRunner(cmd.String("output"), logger)
					if err != nil {
						return err
					}
					return runner.HelpTool(cmd.Args().First())
				},
			},
			{
				Name:            "run",
				Usage:           "Run a tool with --key=value arguments or a JSON object",
				ArgsUsage:       "<tool> [--key=value ...] ['{\"key\": \"value\"}']",
				SkipFlagParsing: true,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					args := cmd.Args().Slice()
					if len(args) == 0 {
						return fmt.Errorf("usage: %s tools run %s", config.AppName, cmd.ArgsUsage)
					}
					runner, _, err := newCLIRunner(cmd.String("output"), logger)
					if err != nil {
						return err
					}
					return runner.RunTool(ctx, args[0], args[1:])
				},
			},
		},
	}
}

func doctorCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that uv and markitdown can be run and that the output directory is writable",
		Flags: []cli.Flag{outputFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			runner, cfg, err := newCLIRunner(cmd.String("output"), logger)
			if err != nil {
				return err
			}
			_, err = runner.Doctor(ctx, cfg)
			return err
		},
	}
}

// setupPipeline loads the configuration and installs the conversion pipeline used by every tool
func setupPipeline(logger *logrus.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	p, err := converters.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise conversion pipeline: %w", err)
	}
	conversion.SetPipeline(p)
	return cfg, nil
}

// configureLogging sends logs to ~/.mcp-markdownify/logs, falling back to stderr, or to nothing
// for stdio
func configureLogging(logger *logrus.Logger, transport string) {
	logLevel := parseLogLevel()
	if transport == "stdio" && logLevel < logrus.WarnLevel {
		logLevel = logrus.WarnLevel
	}
	logger.SetLevel(logLevel)
	logrus.SetLevel(logLevel)

	fallback := io.Writer(os.Stderr)
	if transport == "stdio" {
		fallback = io.Discard
	}

	logDir, err := config.LogDir()
	if err == nil {
		err = os.MkdirAll(logDir, 0700)
	}
	if err != nil {
		logger.SetOutput(fallback)
		logrus.SetOutput(fallback)
		return
	}

	file, err := os.OpenFile(filepath.Join(logDir, config.AppName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		logger.SetOutput(fallback)
		logrus.SetOutput(fallback)
		return
	}

	debugLogFile.Store(file)
	logger.SetOutput(file)
	logrus.SetOutput(file)
	logger.WithField("level", logLevel.String()).Debug("Logging configured")
}

// performCleanup handles cleanup of resources on shutdown
func performCleanup(logger *logrus.Logger) {
	if errorLogger := tools.GetGlobalErrorLogger(); errorLogger != nil {
		if err := errorLogger.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close tool error logger")
		}
	}

	if file := debugLogFile.Load(); file != nil {
		_ = file.Close()
	}
}

package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/converters"
	"github.com/sammcj/mcp-markdownify/internal/registry"
	"github.com/sammcj/mcp-markdownify/internal/telemetry"
	"github.com/sammcj/mcp-markdownify/internal/tools"
	"github.com/sammcj/mcp-markdownify/internal/tools/conversion"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

// serve starts the MCP server on the selected transport and blocks until it stops
func serve(ctx context.Context, cmd *cli.Command, logger *logrus.Logger) error {
	transport := cmd.String("transport")
	isStdioMode.Store(transport == "stdio")

	configureLogging(logger, transport)

	if err := tools.InitGlobalErrorLogger(logger); err != nil {
		logger.WithError(err).Warn("Failed to initialise tool error logger")
	}

	shutdownTracer, err := telemetry.InitTracer(logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialise tracing")
	}
	defer func() {
		if err := shutdownTracer(); err != nil {
			logger.WithError(err).Debug("Tracer shutdown failed")
		}
	}()

	shutdownMetrics, err := telemetry.InitMetrics(logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialise metrics")
	}
	defer func() {
		if err := shutdownMetrics(); err != nil {
			logger.WithError(err).Debug("Metrics shutdown failed")
		}
	}()

	if _, err := setupPipeline(logger); err != nil {
		return err
	}
	if err := config.Watch(ctx, logger, func(cfg *config.Config) {
		p, err := converters.New(cfg, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to rebuild conversion pipeline")
			return
		}
		conversion.SetPipeline(p)
	}); err != nil {
		logger.WithError(err).Warn("Config file changes will not be picked up")
	}

	if transport != "stdio" {
		logger.Infof("Starting %s version %s (commit: %s, built: %s)", config.AppName, Version, Commit, BuildDate)
	}

	mcpSrv := newMCPServer(transport, logger)

	logger.WithField("transport", transport).Debug("Starting server")
	switch transport {
	case "stdio":
		return mcpserver.ServeStdio(mcpSrv)
	case "sse":
		return startSSEServer(ctx, cmd, mcpSrv, logger)
	case "http":
		return startStreamableHTTPServer(ctx, cmd, mcpSrv, logger)
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

// newMCPServer creates the server and registers every enabled tool
func newMCPServer(transport string, logger *logrus.Logger) *mcpserver.MCPServer {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		telemetry.RecordSessionStart(ctx, transport)
		logger.WithField("session", session.SessionID()).Debug("Session registered")
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		telemetry.RecordSessionEnd(ctx, transport)
		logger.WithField("session", session.SessionID()).Debug("Session unregistered")
	})

	mcpSrv := mcpserver.NewMCPServer(config.AppName, Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)

	enabledTools := registry.GetEnabledTools()
	logger.WithField("tool_count", len(enabledTools)).Debug("MCP server created, registering tools")

	for _, name := range registry.EnabledNames() {
		if transport != "stdio" {
			logger.Infof("Registering tool: %s", name)
		}
		mcpSrv.AddTool(enabledTools[name].Definition(), toolHandler(name, transport, logger))
	}
	return mcpSrv
}

// toolHandler runs a registered tool inside a span and records its outcome
func toolHandler(name, transport string, logger *logrus.Logger) mcpserver.ToolHandlerFunc {
	return func(toolCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		currentTool, ok := registry.GetTool(name)
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}

		var args map[string]any
		switch a := request.Params.Arguments.(type) {
		case map[string]any:
			args = a
		case nil:
			args = map[string]any{}
		default:
			return nil, fmt.Errorf("invalid arguments type: expected object, got %T", request.Params.Arguments)
		}

		var sessionID string
		if session := mcpserver.ClientSessionFromContext(toolCtx); session != nil {
			sessionID = session.SessionID()
		}

		spanCtx, span := telemetry.StartToolSpan(toolCtx, name, sessionID, transport, args)
		start := time.Now()

		cache := registry.GetCache()
		if cache == nil {
			cache = &sync.Map{}
		}
		result, err := currentTool.Execute(spanCtx, logger, cache, args)

		telemetry.EndToolSpan(span, err)
		telemetry.RecordToolCall(spanCtx, name, transport, err == nil, float64(time.Since(start).Microseconds())/1000)

		if err != nil {
			category := telemetry.CategoriseToolError(err)
			telemetry.RecordToolError(spanCtx, name, category)

			logger.WithError(err).WithFields(logrus.Fields{
				"tool":     name,
				"category": category,
			}).Warn("Tool execution failed")

			tools.GetGlobalErrorLogger().LogToolError(name, args, err, category, transport)

			return nil, fmt.Errorf("tool execution failed: %w", err)
		}

		return result, nil
	}
}

func listenAddr(cmd *cli.Command) string {
	return net.JoinHostPort(cmd.String("host"), cmd.String("port"))
}

// startSSEServer serves the legacy SSE transport until ctx is cancelled
func startSSEServer(ctx context.Context, cmd *cli.Command, mcpServer *mcpserver.MCPServer, logger *logrus.Logger) error {
	addr := listenAddr(cmd)
	baseURL := fmt.Sprintf("%s:%s", strings.TrimRight(cmd.String("base-url"), "/"), cmd.String("port"))

	sseServer := mcpserver.NewSSEServer(mcpServer, mcpserver.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", healthHandler)
	mux.Handle("/", requireBearerToken(cmd.String("auth-token"), sseServer, logger))

	logger.Infof("Starting SSE server on %s", addr)
	return runHTTPServer(ctx, newHTTPServer(addr, mux), logger)
}

// startStreamableHTTPServer configures and starts the Streamable HTTP server with graceful shutdown
func startStreamableHTTPServer(ctx context.Context, cmd *cli.Command, mcpServer *mcpserver.MCPServer, logger *logrus.Logger) error {
	addr := listenAddr(cmd)
	authToken := cmd.String("auth-token")
	endpointPath := cmd.String("endpoint-path")
	sessionTimeout := cmd.Duration("session-timeout")

	logger.Infof("Starting Streamable HTTP server on %s with endpoint %s", addr, endpointPath)

	opts := []mcpserver.StreamableHTTPOption{
		mcpserver.WithEndpointPath(endpointPath),
		mcpserver.WithHTTPContextFunc(createRequestInspector(logger)),
		mcpserver.WithLogger(&logrusAdapter{logger: logger}),
	}

	heartbeatInterval := 30 * time.Second
	if sessionTimeout > 0 {
		opts = append(opts, mcpserver.WithSessionIdManager(NewTimeoutSessionManager(sessionTimeout, logger)))
		heartbeatInterval = sessionTimeout / 4
	}
	opts = append(opts, mcpserver.WithHeartbeatInterval(heartbeatInterval))

	httpServer := mcpserver.NewStreamableHTTPServer(mcpServer, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", healthHandler)
	mux.Handle(endpointPath, telemetry.WrapHTTPHandler(requireBearerToken(authToken, httpServer, logger), "mcp"))

	if authToken != "" {
		logger.Info("Bearer token authentication enabled")
	}
	logger.Infof("Heartbeat interval: %v", heartbeatInterval)

	return runHTTPServer(ctx, newHTTPServer(addr, mux), logger)
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully
func runHTTPServer(ctx context.Context, server *http.Server, logger *logrus.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
		return err
	}

	logger.Info("HTTP server stopped gracefully")
	return nil
}

// healthHandler answers GET / for load balancers and uptime checks
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"server":  config.AppName,
		"version": Version,
	})
}

// requireBearerToken rejects requests without the expected token. An empty token disables the check.
func requireBearerToken(expectedToken string, next http.Handler, logger *logrus.Logger) http.Handler {
	if expectedToken == "" {
		return next
	}

	const bearerPrefix = "Bearer "
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		token, found := strings.CutPrefix(authHeader, bearerPrefix)
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			logger.WithField("remote", req.RemoteAddr).Warn("Rejected request with missing or invalid bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+config.AppName+`"`)
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// createRequestInspector logs protocol version and origin problems on each MCP request
func createRequestInspector(logger *logrus.Logger) mcpserver.HTTPContextFunc {
	return func(ctx context.Context, req *http.Request) context.Context {
		if protocolVersion := req.Header.Get("MCP-Protocol-Version"); protocolVersion != "" && !isValidProtocolVersion(protocolVersion) {
			logger.Warnf("Unsupported MCP Protocol Version: %s", protocolVersion)
		}

		// DNS rebinding
		if origin := req.Header.Get("Origin"); origin != "" && !isValidOrigin(origin) {
			logger.Warnf("Request from unexpected Origin: %s", origin)
		}

		return ctx
	}
}

// isValidProtocolVersion checks if the MCP protocol version is supported
func isValidProtocolVersion(version string) bool {
	return slices.Contains([]string{"2025-06-18", "2025-03-26", "2024-11-05"}, version)
}

// isValidOrigin accepts local origins only
func isValidOrigin(origin string) bool {
	for _, allowed := range []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
		"http://[::1]",
	} {
		if origin == allowed || strings.HasPrefix(origin, allowed+":") {
			return true
		}
	}
	return false
}

// TimeoutSessionManager issues UUID session IDs and expires sessions idle for longer than timeout
type TimeoutSessionManager struct {
	timeout time.Duration
	logger  *logrus.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewTimeoutSessionManager creates a session manager
func NewTimeoutSessionManager(timeout time.Duration, logger *logrus.Logger) *TimeoutSessionManager {
	return &TimeoutSessionManager{
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// Generate issues a new session ID and forgets sessions that went idle without being validated again
func (t *TimeoutSessionManager) Generate() string {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for sessionID, seen := range t.lastSeen {
		if now.Sub(seen) > t.timeout {
			delete(t.lastSeen, sessionID)
		}
	}
	t.lastSeen[id] = now
	return id
}

// Validate reports whether the session has been terminated or has expired. Unknown IDs are errors.
func (t *TimeoutSessionManager) Validate(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, errors.New("empty session ID")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen, ok := t.lastSeen[sessionID]
	if !ok {
		return false, fmt.Errorf("unknown session ID: %s", sessionID)
	}
	now := t.now()
	if now.Sub(seen) > t.timeout {
		delete(t.lastSeen, sessionID)
		t.logger.WithField("session", sessionID).Debug("Session expired")
		return true, nil
	}
	t.lastSeen[sessionID] = now
	return false, nil
}

// Terminate ends a session. Clients are always allowed to terminate their own session.
func (t *TimeoutSessionManager) Terminate(sessionID string) (bool, error) {
	t.mu.Lock()
	delete(t.lastSeen, sessionID)
	t.mu.Unlock()

	t.logger.WithField("session", sessionID).Debug("Session terminated")
	return false, nil
}

// logrusAdapter adapts logrus.Logger to the mcp-go util.Logger interface
type logrusAdapter struct {
	logger *logrus.Logger
}

func (l *logrusAdapter) Debugf(format string, args ...any) {
	l.logger.Debugf(format, args...)
}

func (l *logrusAdapter) Infof(format string, args ...any) {
	l.logger.Infof(format, args...)
}

func (l *logrusAdapter) Warnf(format string, args ...any) {
	l.logger.Warnf(format, args...)
}

func (l *logrusAdapter) Errorf(format string, args ...any) {
	l.logger.Errorf(format, args...)
}

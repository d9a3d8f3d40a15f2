package markdownify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/security"
	"github.com/sammcj/mcp-markdownify/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// Dispatcher maps operations to converters. It holds no per-request state.
type Dispatcher struct {
	mu         sync.RWMutex
	converters map[Operation]Converter

	store      *Store
	downloader Downloader
	guard      *security.Guard
	logger     *logrus.Logger
}

// NewDispatcher creates a dispatcher. downloader may be nil, in which case URL sources
// for file operations are rejected.
func NewDispatcher(store *Store, downloader Downloader, guard *security.Guard, logger *logrus.Logger) *Dispatcher {
	if store == nil {
		store = NewStore("", "")
	}
	if guard == nil {
		guard = security.NewGuard(nil, false)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
	}

	return &Dispatcher{
		converters: make(map[Operation]Converter),
		store:      store,
		downloader: downloader,
		guard:      guard,
		logger:     logger,
	}
}

// Handle registers the converter for op, replacing any existing one
func (d *Dispatcher) Handle(op Operation, conv Converter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.converters[op] = conv
}

// Operations lists the operations that can be dispatched, in stable order
func (d *Dispatcher) Operations() []Operation {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ops []Operation
	for _, op := range allOperations {
		if _, ok := d.converters[op]; ok || op == OpGetMarkdownFile {
			ops = append(ops, op)
		}
	}
	return ops
}

// Store returns the output store
func (d *Dispatcher) Store() *Store {
	return d.store
}

func (d *Dispatcher) converter(op Operation) (Converter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.converters[op]
	return conv, ok
}

// Dispatch runs one conversion. It returns exactly one of a result or an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (result *Result, err error) {
	logEntry := d.logger.WithFields(logrus.Fields{
		"operation": req.Operation,
		"source":    req.Source,
	})

	start := time.Now()
	ctx, span := telemetry.StartConversionSpan(ctx, string(req.Operation), sourceKind(req))
	defer func() {
		var size int
		if result != nil {
			size = len(result.Text)
		}
		telemetry.EndConversionSpan(span, size, err)
		telemetry.RecordConversion(ctx, string(req.Operation), err == nil, size, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			logEntry.WithField("stack", string(debug.Stack())).Errorf("Converter panicked: %v", r)
			result = nil
			err = &ConversionError{
				Operation: req.Operation,
				Source:    req.Source,
				Err:       fmt.Errorf("converter panicked: %v", r),
			}
		}
	}()

	ref := strings.TrimSpace(req.Source)
	if ref == "" {
		return nil, ErrEmptySource
	}

	if req.Operation == OpGetMarkdownFile {
		if err := d.guard.CheckFile(config.ExpandHome(ref)); err != nil {
			return nil, err
		}
		return d.store.Read(ref)
	}

	conv, ok := d.converter(req.Operation)
	if !ok {
		return nil, newUnknownOperationError(string(req.Operation), d.Operations())
	}

	logEntry.Debug("Dispatching conversion")

	src, cleanup, err := d.resolveSource(ctx, req.Operation, ref, req.Params)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	markdown, err := conv.Convert(ctx, src)
	if err != nil {
		logEntry.WithError(err).Debug("Conversion failed")
		return nil, &ConversionError{Operation: req.Operation, Source: ref, Err: err}
	}
	// Office XML and PDF text layers often carry decomposed accents
	markdown = norm.NFC.String(markdown)
	if strings.TrimSpace(markdown) == "" {
		return nil, &ConversionError{Operation: req.Operation, Source: ref, Err: ErrEmptyOutput}
	}

	outPath, err := d.store.Save(req.Operation, markdown)
	if err != nil {
		return nil, err
	}

	logEntry.WithFields(logrus.Fields{
		"path":  outPath,
		"bytes": len(markdown),
	}).Info("Conversion complete")

	return &Result{Path: outPath, Text: markdown}, nil
}

// resolveSource validates the reference and turns it into a Source.
// The returned cleanup removes any temp file and is always safe to call.
func (d *Dispatcher) resolveSource(ctx context.Context, op Operation, ref string, params map[string]any) (*Source, func(), error) {
	noop := func() {}
	src := &Source{Ref: ref, Params: params}
	if src.Params == nil {
		src.Params = map[string]any{}
	}

	if op.IsWebOperation() {
		u, err := d.guard.CheckURL(ref)
		if err != nil {
			return nil, noop, err
		}
		src.URL = u
		return src, noop, nil
	}

	if isURL(ref) {
		u, err := d.guard.CheckURL(ref)
		if err != nil {
			return nil, noop, err
		}
		if d.downloader == nil {
			return nil, noop, fmt.Errorf("downloading %s is not supported", ref)
		}

		tmpPath, err := d.downloader.Download(ctx, u, downloadExtension(u, op))
		if err != nil {
			return nil, noop, fmt.Errorf("failed to download %s: %w", ref, err)
		}
		cleanup := func() {
			if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				d.logger.WithError(err).WithField("path", tmpPath).Warn("Failed to remove temp file")
			}
		}

		src.URL = u
		src.Path = tmpPath
		src.MIMEType = sniffMIME(tmpPath)
		return src, cleanup, nil
	}

	localPath, err := filepath.Abs(filepath.Clean(config.ExpandHome(ref)))
	if err != nil {
		return nil, noop, fmt.Errorf("invalid path %s: %w", ref, err)
	}
	if err := d.guard.CheckFile(localPath); err != nil {
		return nil, noop, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, noop, &SourceNotFoundError{Path: localPath, Err: err}
		}
		return nil, noop, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return nil, noop, fmt.Errorf("%s is a directory", localPath)
	}

	src.Path = localPath
	src.MIMEType = sniffMIME(localPath)
	return src, noop, nil
}

// sourceKind labels the request for spans
func sourceKind(req Request) string {
	switch {
	case req.Operation == OpGetMarkdownFile:
		return "markdown"
	case isURL(strings.TrimSpace(req.Source)):
		return "url"
	default:
		return "file"
	}
}

func isURL(ref string) bool {
	return strings.Contains(ref, "://")
}

// downloadExtension takes the extension from the URL path, falling back to the operation's default
func downloadExtension(u *url.URL, op Operation) string {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext != "" && len(ext) <= 6 {
		return ext
	}
	return op.DefaultExtension()
}

func sniffMIME(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return mt.String()
}

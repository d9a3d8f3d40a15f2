// Package converters assembles the conversion pipeline: the HTTP stack, every converter,
// the markitdown runner and the dispatcher that routes operations to them.
package converters

import (
	"context"
	"fmt"
	"strings"

	"github.com/sammcj/mcp-markdownify/internal/config"
	"github.com/sammcj/mcp-markdownify/internal/converters/audio"
	"github.com/sammcj/mcp-markdownify/internal/converters/bing"
	"github.com/sammcj/mcp-markdownify/internal/converters/docx"
	"github.com/sammcj/mcp-markdownify/internal/converters/imageinfo"
	"github.com/sammcj/mcp-markdownify/internal/converters/pdf"
	"github.com/sammcj/mcp-markdownify/internal/converters/pptx"
	"github.com/sammcj/mcp-markdownify/internal/converters/webpage"
	"github.com/sammcj/mcp-markdownify/internal/converters/xlsx"
	"github.com/sammcj/mcp-markdownify/internal/converters/youtube"
	"github.com/sammcj/mcp-markdownify/internal/fetch"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/markitdown"
	"github.com/sammcj/mcp-markdownify/internal/security"
	"github.com/sammcj/mcp-markdownify/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

const (
	// EngineNative uses the built-in Go converters
	EngineNative = "native"
	// EngineMarkitdown delegates to the markitdown CLI via uv
	EngineMarkitdown = "markitdown"
)

// Pipeline is the assembled conversion stack
type Pipeline struct {
	Dispatcher *markdownify.Dispatcher
	Runner     *markitdown.Runner
	DenyList   *security.DenyList
}

type options struct {
	runnerOpts []markitdown.Option
}

// Option configures New
type Option func(*options)

// WithRunnerOptions passes options to the markitdown runner
func WithRunnerOptions(opts ...markitdown.Option) Option {
	return func(o *options) { o.runnerOpts = append(o.runnerOpts, opts...) }
}

// New builds the pipeline from the configuration
func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*Pipeline, error) {
	o := &options{
		runnerOpts: []markitdown.Option{markitdown.WithState(config.GetGlobalState())},
	}
	for _, opt := range opts {
		opt(o)
	}

	runner, err := markitdown.NewRunner(cfg, logger, o.runnerOpts...)
	if err != nil {
		return nil, err
	}

	deny := security.NewDenyList(cfg.DenyFiles, cfg.DenyDomains)
	guard := security.NewGuard(deny, cfg.AllowPrivateNetworks)
	httpClient := httpclient.NewClient(httpclient.Options{
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
		Guard:     guard,
		Logger:    logger,
	})
	fetcher := fetch.NewClient(httpClient, logger,
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxSize(cfg.MaxContentSize),
	)
	limited := fetcher.WithLimit(cfg.SearchRateLimit)

	if cfg.OutputOutsideShare() {
		logger.WithFields(logrus.Fields{
			"output_dir": cfg.OutputDir,
			"share_dir":  cfg.ShareDir,
		}).Warn("Output directory is outside the share directory, writing converted files to the share directory")
	}
	store := markdownify.NewStore(cfg.ResolvedOutputDir(), cfg.ShareDir)
	d := markdownify.NewDispatcher(store, fetcher, guard, logger)

	pdfConverter := pdf.New(cfg.PDFMaxFileSize, logger)

	d.Handle(markdownify.OpPDF, WithEngine(pdfConverter, runner))
	d.Handle(markdownify.OpDOCX, WithEngine(docx.New(logger), runner))
	d.Handle(markdownify.OpXLSX, WithEngine(xlsx.New(logger), runner))
	d.Handle(markdownify.OpPPTX, WithEngine(pptx.New(logger), runner))
	d.Handle(markdownify.OpImage, WithEngine(imageinfo.New(logger), runner))
	d.Handle(markdownify.OpAudio, WithEngine(audio.New(runner, logger), runner))
	d.Handle(markdownify.OpWebpage, webpage.New(fetcher, pdfConverter, logger))
	d.Handle(markdownify.OpBing, bing.New(limited, logger))
	d.Handle(markdownify.OpYouTube, youtube.New(limited, logger))

	logger.WithFields(logrus.Fields{
		"output_dir":     store.OutputDir(),
		"share_dir":      store.ShareDir(),
		"operations":     len(d.Operations()),
		"private_access": cfg.AllowPrivateNetworks,
	}).Debug("Conversion pipeline ready")

	return &Pipeline{Dispatcher: d, Runner: runner, DenyList: deny}, nil
}

// WithEngine routes a file conversion to the markitdown CLI when the "engine" param asks for it
func WithEngine(native markdownify.Converter, runner *markitdown.Runner) markdownify.Converter {
	return markdownify.ConverterFunc(func(ctx context.Context, src *markdownify.Source) (string, error) {
		switch engine := strings.ToLower(src.String("engine", EngineNative)); engine {
		case EngineNative:
			return native.Convert(ctx, src)
		case EngineMarkitdown:
			if runner == nil {
				return "", fmt.Errorf("markitdown engine is not configured")
			}
			return runner.Convert(ctx, src.Path)
		default:
			return "", fmt.Errorf("unknown engine %q, expected %s or %s", engine, EngineNative, EngineMarkitdown)
		}
	})
}

package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sammcj/mcp-markdownify/internal/security"
	"github.com/sammcj/mcp-markdownify/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// ProxyEnvironmentVariables defines the order of preference for proxy environment variables
// Following standard conventions used by curl, wget, and other tools
var ProxyEnvironmentVariables = []string{
	"HTTPS_PROXY",
	"https_proxy",
	"HTTP_PROXY",
	"http_proxy",
}

// DefaultMaxRedirects is the redirect limit applied when Options.MaxRedirects is zero
const DefaultMaxRedirects = 10

// ErrTooManyRedirects is returned once a request exceeds the redirect limit
var ErrTooManyRedirects = errors.New("too many redirects")

// Options configures NewClient
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string

	// Guard vets every redirect target and the address every request ends up reaching
	Guard *security.Guard

	Logger *logrus.Logger
}

// NewClient creates an HTTP client with optional proxy support and address guarding.
// Automatically wraps the transport with OTEL instrumentation if tracing is enabled
func NewClient(opts Options) *http.Client {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	proxied := false
	if proxyURL := getProxyURL(); proxyURL != "" {
		if parsedProxy, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsedProxy)
			proxied = true
			if opts.Logger != nil {
				opts.Logger.WithField("proxy_url", redactProxyCredentials(proxyURL)).Debug("HTTP client configured with proxy")
			}
		} else if opts.Logger != nil {
			opts.Logger.WithError(err).WithField("proxy_url", redactProxyCredentials(proxyURL)).Warn("Failed to parse proxy URL, using direct connection")
		}
	} else {
		transport.Proxy = nil
	}

	// Through a proxy the dialled address is the proxy itself, so targets are resolved and
	// checked per request instead
	var roundTripper http.RoundTripper = transport
	switch {
	case opts.Guard != nil && proxied:
		transport.DialContext = dialer.DialContext
		roundTripper = &hostCheckingTransport{guard: opts.Guard, next: transport}
	case opts.Guard != nil:
		transport.DialContext = opts.Guard.DialContext(dialer)
	default:
		transport.DialContext = dialer.DialContext
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: telemetry.WrapHTTPTransport(roundTripper),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w (%d)", ErrTooManyRedirects, maxRedirects)
			}
			if opts.Guard != nil {
				if _, err := opts.Guard.CheckURL(req.URL.String()); err != nil {
					return err
				}
			}
			// Preserve User-Agent on redirects
			if opts.UserAgent != "" {
				req.Header.Set("User-Agent", opts.UserAgent)
			}
			return nil
		},
	}

	return client
}

// hostCheckingTransport refuses requests whose target host resolves to a blocked address
type hostCheckingTransport struct {
	guard *security.Guard
	next  http.RoundTripper
}

func (t *hostCheckingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.guard.CheckHost(req.Context(), req.URL.Hostname()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// getProxyURL returns the first valid proxy URL from environment variables
// Returns empty string if no proxy is configured
func getProxyURL() string {
	for _, envVar := range ProxyEnvironmentVariables {
		if proxyURL := os.Getenv(envVar); proxyURL != "" {
			// Skip placeholder values that some tools use
			if proxyURL != "$HTTPS_PROXY" && proxyURL != "$HTTP_PROXY" {
				return proxyURL
			}
		}
	}
	return ""
}

// redactProxyCredentials removes credentials from proxy URL for safe logging
func redactProxyCredentials(proxyURL string) string {
	if parsed, err := url.Parse(proxyURL); err == nil {
		if parsed.User != nil {
			parsed.User = url.UserPassword("***", "***")
		}
		return parsed.String()
	}
	return "[invalid-url]"
}

// ProxyURL returns the configured proxy with credentials redacted, or "" for direct connections
func ProxyURL() string {
	proxyURL := getProxyURL()
	if proxyURL == "" {
		return ""
	}
	return redactProxyCredentials(proxyURL)
}

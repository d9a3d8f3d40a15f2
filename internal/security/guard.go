package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sammcj/mcp-markdownify/internal/telemetry"
)

// BlockedError is returned when a URL or file is refused before any I/O happens
type BlockedError struct {
	Target string
	Reason string
	msg    string
}

func (e *BlockedError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("access to %s blocked: %s", e.Target, e.Reason)
}

// Category implements telemetry.Categorised
func (e *BlockedError) Category() string {
	return telemetry.ErrorCategorySecurity
}

// IsBlocked reports whether err (or anything it wraps) is a BlockedError
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// ErrUnsupportedScheme is wrapped by URL checks for anything other than http and https
var ErrUnsupportedScheme = errors.New("only http:// and https:// URLs are allowed")

// Address ranges that net.IP helpers do not cover
var extraBlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"), // benchmarking
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"), // NAT64 can map to private IPv4
}

// Guard decides whether remote URLs and local files may be read
type Guard struct {
	deny         *DenyList
	allowPrivate bool
	lookup       func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// NewGuard creates a guard. allowPrivate disables the private address check.
func NewGuard(deny *DenyList, allowPrivate bool) *Guard {
	if deny == nil {
		deny = NewDenyList(nil, nil)
	}
	return &Guard{
		deny:         deny,
		allowPrivate: allowPrivate,
		lookup:       net.DefaultResolver.LookupNetIP,
	}
}

// CheckURL validates scheme, host, deny list and (for literal IPs) the address range.
// Host names are resolved and checked at dial time by DialContext.
func (g *Guard) CheckURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, rawURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("invalid URL: missing host in %s", rawURL)
	}

	if g.deny.IsDomainBlocked(host) {
		return nil, &BlockedError{Target: rawURL, Reason: "domain is on the deny list"}
	}

	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if err := g.checkAddr(addr, rawURL); err != nil {
			return nil, err
		}
	} else if !g.allowPrivate && isLocalHostname(host) {
		return nil, dangerous(rawURL, "local host name")
	}

	return parsed, nil
}

// CheckFile rejects files matched by the deny list
func (g *Guard) CheckFile(path string) error {
	if g.deny.IsFileBlocked(path) {
		return &BlockedError{Target: path, Reason: "path is on the deny list"}
	}
	return nil
}

// DialContext returns a dial function that resolves the host itself and refuses
// private addresses, so DNS rebinding and redirects cannot reach internal services.
func (g *Guard) DialContext(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	if g.allowPrivate {
		return dialer.DialContext
	}

	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}

		addrs, err := g.resolve(ctx, host)
		if err != nil {
			return nil, err
		}

		var dialErr error
		for _, addr := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(addr.Unmap().String(), port))
			if err == nil {
				return conn, nil
			}
			dialErr = err
		}
		return nil, dialErr
	}
}

// CheckHost resolves host and refuses it when any address is private. It covers requests sent
// through a proxy, where the dialled address is the proxy rather than the target.
func (g *Guard) CheckHost(ctx context.Context, host string) error {
	if g.allowPrivate {
		if g.deny.IsDomainBlocked(host) {
			return &BlockedError{Target: host, Reason: "domain is on the deny list"}
		}
		return nil
	}
	_, err := g.resolve(ctx, host)
	return err
}

// resolve looks host up and checks every address it maps to
func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if g.deny.IsDomainBlocked(host) {
		return nil, &BlockedError{Target: host, Reason: "domain is on the deny list"}
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		if isLocalHostname(host) && !g.allowPrivate {
			return nil, dangerous(host, "local host name")
		}
		if addrs, err = g.lookup(ctx, "ip", host); err != nil {
			return nil, err
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses found for %s", host)
	}

	for _, addr := range addrs {
		if err := g.checkAddr(addr, host); err != nil {
			return nil, err
		}
	}
	return addrs, nil
}

func (g *Guard) checkAddr(addr netip.Addr, target string) error {
	if g.allowPrivate {
		return nil
	}
	if IsPrivateAddr(addr) {
		return dangerous(target, "resolves to a private or reserved address")
	}
	return nil
}

// IsPrivateAddr reports loopback, private, link-local, unspecified, multicast and reserved ranges
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, prefix := range extraBlockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// WithinDir reports whether path is dir or inside it, with symlinks resolved on both sides
func WithinDir(path, dir string) (bool, error) {
	resolvedDir, err := resolvePath(dir)
	if err != nil {
		return false, err
	}
	resolvedPath, err := resolvePath(path)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(resolvedDir, resolvedPath)
	if err != nil {
		return false, nil
	}
	if rel == "." {
		return true, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel), nil
}

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(expandHomePath(path))
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return resolved, nil
}

func isLocalHostname(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal")
}

func dangerous(target, reason string) *BlockedError {
	return &BlockedError{
		Target: target,
		Reason: reason,
		msg:    fmt.Sprintf("fetching %s is potentially dangerous, aborting", target),
	}
}

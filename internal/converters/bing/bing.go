// Package bing converts Bing search result pages to Markdown.
package bing

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/fetch"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

// Converter renders each organic result (.b_algo) of a Bing SERP
type Converter struct {
	client *fetch.Client
	html   *htmlmd.Converter
	logger *logrus.Logger
}

// New creates a Bing converter. client should carry the search rate limit.
func New(client *fetch.Client, logger *logrus.Logger) *Converter {
	return &Converter{client: client, html: htmlmd.NewDocument(), logger: logger}
}

// Convert implements markdownify.Converter
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	target := src.URL
	if target == nil {
		parsed, err := url.Parse(src.Ref)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		target = parsed
	}

	query := target.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("not a Bing search URL: missing q parameter in %s", target.Redacted())
	}

	resp, err := c.client.Get(ctx, target.String(), nil)
	if err != nil {
		return "", err
	}

	return c.Render(query, resp.Text())
}

// Render converts the results of a Bing SERP to Markdown
func (c *Converter) Render(query, page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse search results: %w", err)
	}

	// Breadcrumb spans run into the following text once flattened
	doc.Find(".tptt").Each(func(_ int, s *goquery.Selection) {
		if s.Text() != "" {
			s.SetText(s.Text() + " ")
		}
	})
	doc.Find(".algoSlug_icon").Remove()

	var results []string
	doc.Find(".b_algo").Each(func(_ int, result *goquery.Selection) {
		result.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if decoded := DecodeRedirect(href); decoded != href {
				a.SetAttr("href", decoded)
			}
		})

		fragment, err := goquery.OuterHtml(result)
		if err != nil {
			return
		}
		md, err := c.html.Convert(fragment, "")
		if err != nil {
			c.logger.WithError(err).Debug("Failed to convert search result")
			return
		}
		if md = strings.TrimSpace(md); md != "" {
			results = append(results, md)
		}
	})

	c.logger.WithFields(logrus.Fields{
		"query":   query,
		"results": len(results),
	}).Debug("Parsed Bing results")

	var sb strings.Builder
	fmt.Fprintf(&sb, "## A Bing search for '%s' found the following results:\n\n", query)
	if len(results) == 0 {
		sb.WriteString("No results found.\n")
		return sb.String(), nil
	}
	sb.WriteString(strings.Join(results, "\n\n"))
	sb.WriteString("\n")
	return sb.String(), nil
}

// DecodeRedirect turns a Bing click-tracking link (/ck/a?...&u=a1<base64url>) into its destination.
// Links that are not redirects, or fail to decode, are returned unchanged.
func DecodeRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	encoded := u.Query().Get("u")
	if len(encoded) < 3 || !strings.HasPrefix(encoded, "a1") {
		return href
	}

	encoded = strings.TrimRight(encoded[2:], "=")
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return href
	}

	dest := string(decoded)
	if parsed, err := url.Parse(dest); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return href
	}
	return dest
}

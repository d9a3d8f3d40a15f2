// Package webpage fetches web pages and converts their main content to Markdown.
package webpage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/fetch"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

// Converter converts web pages. HTML goes through readability and html-to-markdown,
// PDFs are handed to the pdf converter, and plain text and JSON are passed through.
type Converter struct {
	client *fetch.Client
	pdf    markdownify.Converter
	html   *htmlmd.Converter
	logger *logrus.Logger
}

// New creates a webpage converter. pdf may be nil, in which case PDF responses are an error.
func New(client *fetch.Client, pdf markdownify.Converter, logger *logrus.Logger) *Converter {
	return &Converter{
		client: client,
		pdf:    pdf,
		html:   htmlmd.NewPage(),
		logger: logger,
	}
}

// Convert implements markdownify.Converter.
// A URL fragment keeps only that section of the page. The "readability" param (default true)
// toggles main-content extraction.
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	target := src.URL
	if target == nil {
		parsed, err := url.Parse(src.Ref)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		target = parsed
	}

	fragment := target.Fragment
	fetchURL := *target
	fetchURL.Fragment = ""
	fetchURL.RawFragment = ""

	resp, err := c.client.Get(ctx, fetchURL.String(), nil)
	if err != nil {
		return "", err
	}

	mediaType := resp.MediaType()
	c.logger.WithFields(logrus.Fields{
		"url":        fetchURL.Redacted(),
		"media_type": mediaType,
		"size":       len(resp.Body),
	}).Debug("Converting web page")

	var markdown string
	switch {
	case mediaType == "application/pdf" || bytes.HasPrefix(resp.Body, []byte("%PDF-")):
		return c.convertPDF(ctx, src, resp)
	case isHTML(mediaType, resp.Body):
		markdown, err = c.convertHTML(src, resp, fragment)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		markdown = jsonBlock(resp.Body)
	case strings.HasPrefix(mediaType, "text/"):
		markdown = htmlmd.Clean(resp.Text())
	default:
		return "", fmt.Errorf("unsupported content type %q, use the matching file tool with this URL instead", mediaType)
	}
	if err != nil {
		return "", err
	}

	if resp.Truncated {
		markdown += "\n_Content truncated at the maximum content size._\n"
	}
	return markdown, nil
}

func (c *Converter) convertHTML(src *markdownify.Source, resp *fetch.Response, fragment string) (string, error) {
	content := resp.Text()
	base := resp.URL

	title := pageTitle(content)
	useReadability := src.Bool("readability", true)

	if fragment != "" {
		filtered, err := htmlmd.FilterByFragment(c.logger, content, fragment)
		if err != nil {
			return "", err
		}
		if filtered != content {
			content = filtered
			useReadability = false
		}
	}

	if useReadability {
		parser := readability.NewParser()
		article, err := parser.Parse(strings.NewReader(content), base)
		switch {
		case err != nil:
			c.logger.WithError(err).Debug("Readability extraction failed, converting the full page")
		case strings.TrimSpace(article.Content) == "":
			c.logger.Debug("Readability found no main content, converting the full page")
		default:
			content = article.Content
			if t := strings.TrimSpace(article.Title); t != "" {
				title = t
			}
		}
	}

	domain := ""
	if base != nil {
		domain = base.Scheme + "://" + base.Host
	}
	markdown, err := c.html.Convert(content, domain)
	if err != nil {
		return "", err
	}

	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = htmlmd.Clean("# " + title + "\n\n" + markdown)
	}
	return markdown, nil
}

func (c *Converter) convertPDF(ctx context.Context, src *markdownify.Source, resp *fetch.Response) (string, error) {
	if c.pdf == nil {
		return "", fmt.Errorf("URL serves a PDF, use pdf-to-markdown instead")
	}
	if resp.Truncated {
		return "", fmt.Errorf("%w: PDF could not be downloaded in full", fetch.ErrTooLarge)
	}

	tmp, err := os.CreateTemp("", "markdownify-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil {
			c.logger.WithError(err).Warn("Failed to remove temp PDF")
		}
	}()

	_, writeErr := tmp.Write(resp.Body)
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return "", fmt.Errorf("failed to write temp PDF: %w", writeErr)
	}

	c.logger.WithField("url", resp.URL.Redacted()).Debug("Routing PDF response to the pdf converter")
	return c.pdf.Convert(ctx, &markdownify.Source{
		Ref:      src.Ref,
		Path:     tmp.Name(),
		URL:      resp.URL,
		MIMEType: "application/pdf",
		Params:   src.Params,
	})
}

func isHTML(mediaType string, body []byte) bool {
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	case "", "application/octet-stream":
		head := bytes.ToLower(body[:min(len(body), 512)])
		return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
	}
	return false
}

func pageTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

func jsonBlock(body []byte) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return "```\n" + strings.TrimSpace(string(body)) + "\n```\n"
	}
	return "```json\n" + pretty.String() + "\n```\n"
}

// Package imageinfo describes image files as Markdown: format, dimensions and EXIF metadata.
package imageinfo

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// EXIF fields rendered, in order
var exifFields = []struct {
	label string
	field exif.FieldName
}{
	{"Camera make", exif.Make},
	{"Camera model", exif.Model},
	{"Lens", exif.LensModel},
	{"Taken", exif.DateTimeOriginal},
	{"Exposure time", exif.ExposureTime},
	{"Aperture", exif.FNumber},
	{"ISO", exif.ISOSpeedRatings},
	{"Focal length", exif.FocalLength},
	{"Orientation", exif.Orientation},
	{"Description", exif.ImageDescription},
	{"Artist", exif.Artist},
	{"Copyright", exif.Copyright},
	{"Software", exif.Software},
}

// Converter converts image files
type Converter struct {
	logger *logrus.Logger
}

// New creates an image converter
func New(logger *logrus.Logger) *Converter {
	return &Converter{logger: logger}
}

// Convert implements markdownify.Converter
func (c *Converter) Convert(_ context.Context, src *markdownify.Source) (string, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", fmt.Errorf("unsupported or corrupt image: %w", err)
	}

	rows := [][]string{
		{"Property", "Value"},
		{"Format", strings.ToUpper(format)},
		{"Dimensions", fmt.Sprintf("%d x %d pixels", cfg.Width, cfg.Height)},
	}
	if src.MIMEType != "" {
		rows = append(rows, []string{"MIME type", src.MIMEType})
	}
	rows = append(rows, []string{"File size", formatBytes(info.Size())})

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", displayName(src))
	sb.WriteString(htmlmd.Table(rows))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind image: %w", err)
	}
	if exifRows := c.exifRows(f); len(exifRows) > 0 {
		sb.WriteString("\n## EXIF\n\n")
		sb.WriteString(htmlmd.Table(append([][]string{{"Tag", "Value"}}, exifRows...)))
	}

	return htmlmd.Clean(sb.String()), nil
}

func (c *Converter) exifRows(r io.Reader) [][]string {
	x, err := exif.Decode(r)
	if err != nil {
		c.logger.WithError(err).Debug("No EXIF metadata")
		return nil
	}

	var rows [][]string
	for _, f := range exifFields {
		tag, err := x.Get(f.field)
		if err != nil {
			continue
		}
		value := strings.Trim(tag.String(), `"`)
		if value == "" {
			continue
		}
		rows = append(rows, []string{f.label, value})
	}

	if lat, long, err := x.LatLong(); err == nil {
		rows = append(rows, []string{"GPS", fmt.Sprintf("%.6f, %.6f", lat, long)})
	}
	return rows
}

func displayName(src *markdownify.Source) string {
	if src.URL != nil {
		if base := filepath.Base(src.URL.Path); base != "" && base != "/" && base != "." {
			return base
		}
		return src.URL.Host
	}
	return filepath.Base(src.Path)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// Package audio converts audio files to Markdown: tag metadata plus an optional transcript.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

// Transcriber produces a Markdown transcript for a local audio file
type Transcriber interface {
	Convert(ctx context.Context, path string) (string, error)
}

// Converter converts audio files. Metadata is read from ID3, MP4, FLAC and Ogg tags.
// When a transcriber is configured the transcript is appended.
type Converter struct {
	transcriber Transcriber
	logger      *logrus.Logger
}

// New creates an audio converter. transcriber may be nil.
func New(transcriber Transcriber, logger *logrus.Logger) *Converter {
	return &Converter{transcriber: transcriber, logger: logger}
}

// Convert implements markdownify.Converter. The "transcribe" param (default true) toggles the transcript.
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat audio file: %w", err)
	}

	mimeType := src.MIMEType
	if mimeType == "" {
		if detected, err := mimetype.DetectFile(src.Path); err == nil {
			mimeType = detected.String()
		}
	}

	rows := [][]string{{"Property", "Value"}}
	meta, err := tag.ReadFrom(f)
	if err != nil {
		if !isAudioMIME(mimeType) {
			return "", fmt.Errorf("not an audio file (detected %s): %w", mimeType, err)
		}
		c.logger.WithError(err).WithField("path", src.Path).Debug("No readable audio tags")
	} else {
		rows = append(rows, metadataRows(meta)...)
	}
	if mimeType != "" {
		rows = append(rows, []string{"MIME type", mimeType})
	}
	rows = append(rows, []string{"File size", strconv.FormatInt(info.Size(), 10) + " bytes"})

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title(meta, src))
	sb.WriteString(htmlmd.Table(rows))

	if lyrics := lyricsOf(meta); lyrics != "" {
		fmt.Fprintf(&sb, "\n## Lyrics\n\n%s\n", lyrics)
	}

	if c.transcriber != nil && src.Bool("transcribe", true) {
		transcript, err := c.transcriber.Convert(ctx, src.Path)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.WithError(err).WithField("path", src.Path).Warn("Audio transcription failed, returning metadata only")
		case strings.TrimSpace(transcript) != "":
			fmt.Fprintf(&sb, "\n## Transcript\n\n%s\n", strings.TrimSpace(transcript))
		}
	}

	return htmlmd.Clean(sb.String()), nil
}

// isAudioMIME accepts audio types and the containers audio commonly ships in
func isAudioMIME(mimeType string) bool {
	mediaType, _, _ := strings.Cut(mimeType, ";")
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return true
	case mediaType == "video/mp4", mediaType == "video/webm", mediaType == "application/ogg":
		return true
	}
	return false
}

func metadataRows(m tag.Metadata) [][]string {
	var rows [][]string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			rows = append(rows, []string{label, value})
		}
	}

	add("Title", m.Title())
	add("Artist", m.Artist())
	add("Album", m.Album())
	add("Album artist", m.AlbumArtist())
	add("Composer", m.Composer())
	add("Genre", m.Genre())
	if year := m.Year(); year > 0 {
		add("Year", strconv.Itoa(year))
	}
	if track, total := m.Track(); track > 0 {
		if total > 0 {
			add("Track", fmt.Sprintf("%d of %d", track, total))
		} else {
			add("Track", strconv.Itoa(track))
		}
	}
	if disc, total := m.Disc(); disc > 0 {
		if total > 0 {
			add("Disc", fmt.Sprintf("%d of %d", disc, total))
		} else {
			add("Disc", strconv.Itoa(disc))
		}
	}
	add("Format", fmt.Sprintf("%s (%s)", m.FileType(), m.Format()))
	add("Comment", m.Comment())
	return rows
}

func lyricsOf(m tag.Metadata) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m.Lyrics())
}

func title(m tag.Metadata, src *markdownify.Source) string {
	if m != nil {
		if t := strings.TrimSpace(m.Title()); t != "" {
			if a := strings.TrimSpace(m.Artist()); a != "" {
				return a + " - " + t
			}
			return t
		}
	}
	if src.URL != nil {
		if base := filepath.Base(src.URL.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return filepath.Base(src.Path)
}

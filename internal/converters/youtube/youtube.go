// Package youtube converts YouTube videos to Markdown: title, metadata, description and transcript.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sammcj/mcp-markdownify/internal/cache"
	"github.com/sammcj/mcp-markdownify/internal/fetch"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is where watch pages and the InnerTube API live
	DefaultBaseURL = "https://www.youtube.com"

	innertubeClientName    = "ANDROID"
	innertubeClientVersion = "20.10.38"
	apiKeyCacheKey         = "innertube_api_key"
	apiKeyTTL              = 6 * time.Hour
)

// ErrNoTranscript is returned when a video has no caption track
var ErrNoTranscript = errors.New("no transcript available for this video")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Converter fetches the watch page for metadata and the InnerTube player API for caption tracks
type Converter struct {
	client  *fetch.Client
	baseURL string
	keys    *cache.Cache[string]
	logger  *logrus.Logger
}

// Option configures a Converter
type Option func(*Converter)

// WithBaseURL points the converter at a different YouTube host
func WithBaseURL(baseURL string) Option {
	return func(c *Converter) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// New creates a YouTube converter. client should carry the outbound rate limit.
func New(client *fetch.Client, logger *logrus.Logger, opts ...Option) *Converter {
	c := &Converter{
		client:  client,
		baseURL: DefaultBaseURL,
		keys:    cache.New[string](apiKeyTTL),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VideoID extracts the 11 character video ID from watch, short, embed, live and youtu.be URLs
func VideoID(u *url.URL) (string, error) {
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, prefix)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch host {
	case "youtu.be":
		id = segments[0]
	case "youtube.com", "youtube-nocookie.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live" || segments[0] == "v"):
			id = segments[1]
		}
	default:
		return "", fmt.Errorf("not a YouTube URL: %s", u.Redacted())
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("no video ID found in %s", u.Redacted())
	}
	return id, nil
}

// Convert implements markdownify.Converter.
// Params: "language" (default "en") picks the caption track, "timestamps" prefixes transcript lines
// with their start time, "transcript" (default true) toggles the transcript.
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	target := src.URL
	if target == nil {
		parsed, err := url.Parse(src.Ref)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		target = parsed
	}

	id, err := VideoID(target)
	if err != nil {
		return "", err
	}

	header := http.Header{}
	header.Set("Accept-Language", "en-US,en;q=0.9")
	resp, err := c.client.Get(ctx, c.baseURL+"/watch?v="+id, header)
	if err != nil {
		return "", err
	}

	video, err := ParseWatchPage(resp.Text())
	if err != nil {
		return "", err
	}
	video.ID = id

	if video.Title == "" {
		return "", fmt.Errorf("could not read video details for %s, the video may be private or unavailable", id)
	}

	var segments []Segment
	if src.Bool("transcript", true) {
		segments, err = c.transcript(ctx, video, src.String("language", "en"))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.WithError(err).WithField("video_id", id).Info("Transcript unavailable")
		}
	}

	return Render(video, segments, src.Bool("timestamps", false)), nil
}

func (c *Converter) transcript(ctx context.Context, video *Video, language string) ([]Segment, error) {
	tracks, err := c.playerTracks(ctx, video)
	if err != nil || len(tracks) == 0 {
		if err != nil {
			c.logger.WithError(err).Debug("InnerTube player request failed, using watch page caption tracks")
		}
		tracks = video.Captions
	}

	track, ok := SelectTrack(tracks, language)
	if !ok {
		return nil, ErrNoTranscript
	}

	captionURL := strings.Replace(track.BaseURL, "&fmt=srv3", "", 1)
	resp, err := c.client.Get(ctx, captionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch captions: %w", err)
	}

	segments, err := ParseTimedText(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, ErrNoTranscript
	}

	c.logger.WithFields(logrus.Fields{
		"video_id": video.ID,
		"language": track.LanguageCode,
		"kind":     track.Kind,
		"segments": len(segments),
	}).Debug("Fetched transcript")
	return segments, nil
}

// playerTracks asks the InnerTube player endpoint for caption tracks. The API key comes from the
// watch page and is cached for pages that do not carry one, such as consent interstitials.
func (c *Converter) playerTracks(ctx context.Context, video *Video) ([]CaptionTrack, error) {
	key := video.APIKey
	if key != "" {
		c.keys.Set(apiKeyCacheKey, key)
	} else if cached, ok := c.keys.Get(apiKeyCacheKey); ok {
		key = cached
	}
	if key == "" {
		return nil, errors.New("no InnerTube API key found")
	}

	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    innertubeClientName,
				"clientVersion": innertubeClientVersion,
			},
		},
		"videoId": video.ID,
	}

	var player playerResponse
	endpoint := c.baseURL + "/youtubei/v1/player?key=" + url.QueryEscape(key)
	if err := c.client.PostJSON(ctx, endpoint, payload, &player); err != nil {
		return nil, err
	}

	if status := player.PlayabilityStatus.Status; status != "" && status != "OK" {
		return nil, fmt.Errorf("video is not playable: %s %s", status, player.PlayabilityStatus.Reason)
	}
	return player.Captions.Renderer.CaptionTracks, nil
}

// SelectTrack picks a caption track for language: an exact manual track, then an exact
// auto-generated one, then a regional variant, then the first manual track, then anything.
func SelectTrack(tracks []CaptionTrack, language string) (CaptionTrack, bool) {
	if len(tracks) == 0 {
		return CaptionTrack{}, false
	}
	language = strings.ToLower(language)

	matchers := []func(CaptionTrack) bool{
		func(t CaptionTrack) bool { return strings.EqualFold(t.LanguageCode, language) && t.Kind != "asr" },
		func(t CaptionTrack) bool { return strings.EqualFold(t.LanguageCode, language) },
		func(t CaptionTrack) bool { return strings.HasPrefix(strings.ToLower(t.LanguageCode), language+"-") },
		func(t CaptionTrack) bool { return t.Kind != "asr" },
	}
	for _, match := range matchers {
		for _, t := range tracks {
			if t.BaseURL != "" && match(t) {
				return t, true
			}
		}
	}
	return tracks[0], tracks[0].BaseURL != ""
}

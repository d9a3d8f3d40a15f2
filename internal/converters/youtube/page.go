package youtube

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
)

var (
	apiKeyPattern   = regexp.MustCompile(`"INNERTUBE_API_KEY":\s*"([A-Za-z0-9_-]+)"`)
	isoDuration     = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)
	playerVarMarker = "ytInitialPlayerResponse = "
)

// Video holds what the watch page says about a video
type Video struct {
	ID          string
	Title       string
	Channel     string
	Published   string
	Views       string
	Duration    string
	Keywords    []string
	Description string
	APIKey      string
	Captions    []CaptionTrack
}

// CaptionTrack is one caption track listed by the player
type CaptionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		Title            string   `json:"title"`
		Author           string   `json:"author"`
		LengthSeconds    string   `json:"lengthSeconds"`
		ViewCount        string   `json:"viewCount"`
		ShortDescription string   `json:"shortDescription"`
		Keywords         []string `json:"keywords"`
	} `json:"videoDetails"`
	Captions struct {
		Renderer struct {
			CaptionTracks []CaptionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// ParseWatchPage reads metadata from the page's meta tags and, when present, the embedded
// ytInitialPlayerResponse, which carries the full description and caption tracks.
func ParseWatchPage(page string) (*Video, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse watch page: %w", err)
	}

	meta := func(selector string) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}

	v := &Video{
		Title:       firstNonEmpty(meta(`meta[property="og:title"]`), meta(`meta[name="title"]`), strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")),
		Description: firstNonEmpty(meta(`meta[property="og:description"]`), meta(`meta[name="description"]`)),
		Published:   firstNonEmpty(meta(`meta[itemprop="datePublished"]`), meta(`meta[itemprop="uploadDate"]`)),
		Views:       meta(`meta[itemprop="interactionCount"]`),
		Duration:    formatISODuration(meta(`meta[itemprop="duration"]`)),
	}
	if channel, ok := doc.Find(`span[itemprop="author"] link[itemprop="name"]`).First().Attr("content"); ok {
		v.Channel = strings.TrimSpace(channel)
	}
	if keywords := meta(`meta[name="keywords"]`); keywords != "" {
		for _, k := range strings.Split(keywords, ",") {
			if k = strings.TrimSpace(k); k != "" {
				v.Keywords = append(v.Keywords, k)
			}
		}
	}

	if m := apiKeyPattern.FindStringSubmatch(page); m != nil {
		v.APIKey = m[1]
	}

	if player, ok := embeddedPlayerResponse(page); ok {
		d := player.VideoDetails
		v.Title = firstNonEmpty(d.Title, v.Title)
		v.Channel = firstNonEmpty(d.Author, v.Channel)
		v.Description = firstNonEmpty(d.ShortDescription, v.Description)
		if d.ViewCount != "" {
			v.Views = d.ViewCount
		}
		if secs, err := strconv.Atoi(d.LengthSeconds); err == nil && secs > 0 {
			v.Duration = formatSeconds(secs)
		}
		if len(d.Keywords) > 0 {
			v.Keywords = d.Keywords
		}
		v.Captions = player.Captions.Renderer.CaptionTracks
	}

	return v, nil
}

func embeddedPlayerResponse(page string) (*playerResponse, bool) {
	idx := strings.Index(page, playerVarMarker)
	if idx < 0 {
		return nil, false
	}

	var player playerResponse
	if err := json.NewDecoder(strings.NewReader(page[idx+len(playerVarMarker):])).Decode(&player); err != nil {
		return nil, false
	}
	return &player, true
}

// Segment is one caption cue
type Segment struct {
	Start float64
	Text  string
}

// ParseTimedText parses the timedtext XML formats: <transcript><text start=".."> (seconds)
// and srv3 <timedtext><body><p t=".."> (milliseconds)
func ParseTimedText(data []byte) ([]Segment, error) {
	var doc struct {
		Texts []struct {
			Start string `xml:"start,attr"`
			Body  string `xml:",chardata"`
		} `xml:"text"`
		Paragraphs []struct {
			T     string   `xml:"t,attr"`
			Body  string   `xml:",chardata"`
			Spans []string `xml:"s"`
		} `xml:"body>p"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse captions: %w", err)
	}

	var segments []Segment
	add := func(start float64, text string) {
		text = strings.Join(strings.Fields(html.UnescapeString(text)), " ")
		if text != "" {
			segments = append(segments, Segment{Start: start, Text: text})
		}
	}

	for _, t := range doc.Texts {
		start, _ := strconv.ParseFloat(t.Start, 64)
		add(start, t.Body)
	}
	for _, p := range doc.Paragraphs {
		ms, _ := strconv.ParseFloat(p.T, 64)
		add(ms/1000, p.Body+strings.Join(p.Spans, ""))
	}
	return segments, nil
}

// Render writes the video as Markdown
func Render(v *Video, segments []Segment, timestamps bool) string {
	var sb strings.Builder
	sb.WriteString("# YouTube\n\n")
	fmt.Fprintf(&sb, "## %s\n\n", v.Title)

	var details []string
	addDetail := func(label, value string) {
		if value != "" {
			details = append(details, fmt.Sprintf("- **%s:** %s", label, value))
		}
	}
	addDetail("Channel", v.Channel)
	addDetail("Published", v.Published)
	addDetail("Views", formatCount(v.Views))
	addDetail("Duration", v.Duration)
	addDetail("Keywords", strings.Join(v.Keywords, ", "))
	if v.ID != "" {
		addDetail("URL", "https://www.youtube.com/watch?v="+v.ID)
	}
	if len(details) > 0 {
		sb.WriteString("### Video Metadata\n\n")
		sb.WriteString(strings.Join(details, "\n"))
		sb.WriteString("\n\n")
	}

	if v.Description != "" {
		fmt.Fprintf(&sb, "### Description\n\n%s\n\n", v.Description)
	}

	if len(segments) > 0 {
		sb.WriteString("### Transcript\n\n")
		if timestamps {
			for _, s := range segments {
				fmt.Fprintf(&sb, "[%s] %s\n", formatSeconds(int(s.Start)), s.Text)
			}
		} else {
			texts := make([]string, len(segments))
			for i, s := range segments {
				texts[i] = s.Text
			}
			sb.WriteString(strings.Join(texts, " "))
			sb.WriteString("\n")
		}
	}

	return htmlmd.Clean(sb.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func formatISODuration(d string) string {
	m := isoDuration.FindStringSubmatch(d)
	if m == nil {
		return ""
	}
	var total int
	for i, mult := range []int{3600, 60, 1} {
		if n, err := strconv.Atoi(m[i+1]); err == nil {
			total += n * mult
		}
	}
	if total == 0 {
		return ""
	}
	return formatSeconds(total)
}

// formatSeconds renders 75 as 1:15 and 3725 as 1:02:05
func formatSeconds(secs int) string {
	h, m, s := secs/3600, secs%3600/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// formatCount adds thousands separators to a plain digit string
func formatCount(n string) string {
	if n == "" {
		return ""
	}
	if _, err := strconv.ParseUint(n, 10, 64); err != nil {
		return n
	}
	var out []byte
	for i := range len(n) {
		if i > 0 && (len(n)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, n[i])
	}
	return string(out)
}

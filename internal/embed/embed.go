// Package embed classifies URLs in message content into embed cards. Extraction is a pure function over the text;
// nothing here performs network IO, so the gateway can call it inline while broadcasting a message.
package embed

import (
	"net/url"
	"regexp"
	"strings"
)

// MaxEmbeds caps how many URLs in one message produce cards.
const MaxEmbeds = 4

// maxPathRunes bounds the displayed path of a generic link card.
const maxPathRunes = 96

// Embed types.
const (
	TypeYouTube = "youtube"
	TypeTwitch  = "twitch"
	TypeLink    = "link"
)

// Embed is one rendered card. YouTube cards carry canonical, thumbnail, and embed URLs; Twitch cards carry an embed
// URL with a literal {parent} placeholder the client substitutes with its own hostname; link cards carry host and a
// truncated path.
type Embed struct {
	Type         string `json:"type"`
	URL          string `json:"url"`
	CanonicalURL string `json:"canonicalUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	EmbedURL     string `json:"embedUrl,omitempty"`
	Host         string `json:"host,omitempty"`
	Path         string `json:"path,omitempty"`
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var twitchSlug = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Extract scans content for up to MaxEmbeds http(s) URLs and classifies each.
func Extract(content string) []Embed {
	var embeds []Embed
	for _, raw := range urlPattern.FindAllString(content, -1) {
		if len(embeds) >= MaxEmbeds {
			break
		}
		raw = strings.TrimRight(raw, ".,;:!?)]}")
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		embeds = append(embeds, classify(raw, u))
	}
	return embeds
}

func classify(raw string, u *url.URL) Embed {
	if e, ok := youtube(raw, u); ok {
		return e
	}
	if e, ok := twitch(raw, u); ok {
		return e
	}
	return linkCard(raw, u)
}

func youtube(raw string, u *url.URL) (Embed, bool) {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtube.com", "music.youtube.com":
		segs := pathSegments(u)
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case len(segs) == 2 && (segs[0] == "shorts" || segs[0] == "embed" || segs[0] == "live"):
			id = segs[1]
		}
	case "youtu.be":
		if segs := pathSegments(u); len(segs) == 1 {
			id = segs[0]
		}
	default:
		return Embed{}, false
	}

	if !youtubeID.MatchString(id) {
		return Embed{}, false
	}
	return Embed{
		Type:         TypeYouTube,
		URL:          raw,
		CanonicalURL: "https://www.youtube.com/watch?v=" + id,
		ThumbnailURL: "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
		EmbedURL:     "https://www.youtube-nocookie.com/embed/" + id,
	}, true
}

func twitch(raw string, u *url.URL) (Embed, bool) {
	host := strings.ToLower(u.Hostname())
	segs := pathSegments(u)

	if host == "clips.twitch.tv" {
		if len(segs) == 1 && twitchSlug.MatchString(segs[0]) {
			return Embed{
				Type:     TypeTwitch,
				URL:      raw,
				EmbedURL: "https://clips.twitch.tv/embed?clip=" + segs[0] + "&parent={parent}",
			}, true
		}
		return Embed{}, false
	}

	if host != "twitch.tv" && host != "www.twitch.tv" {
		return Embed{}, false
	}
	switch {
	case len(segs) == 2 && segs[0] == "videos" && twitchSlug.MatchString(segs[1]):
		return Embed{
			Type:     TypeTwitch,
			URL:      raw,
			EmbedURL: "https://player.twitch.tv/?video=" + segs[1] + "&parent={parent}",
		}, true
	case len(segs) == 3 && segs[1] == "clip" && twitchSlug.MatchString(segs[2]):
		return Embed{
			Type:     TypeTwitch,
			URL:      raw,
			EmbedURL: "https://clips.twitch.tv/embed?clip=" + segs[2] + "&parent={parent}",
		}, true
	case len(segs) == 1 && twitchSlug.MatchString(segs[0]):
		return Embed{
			Type:     TypeTwitch,
			URL:      raw,
			EmbedURL: "https://player.twitch.tv/?channel=" + strings.ToLower(segs[0]) + "&parent={parent}",
		}, true
	}
	return Embed{}, false
}

func linkCard(raw string, u *url.URL) Embed {
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}
	if runes := []rune(path); len(runes) > maxPathRunes {
		path = string(runes[:maxPathRunes-1]) + "…"
	}
	return Embed{Type: TypeLink, URL: raw, Host: u.Hostname(), Path: path}
}

func pathSegments(u *url.URL) []string {
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

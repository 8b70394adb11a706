package embed

import (
	"strings"
	"testing"
)

func one(t *testing.T, content string) Embed {
	t.Helper()
	embeds := Extract(content)
	if len(embeds) != 1 {
		t.Fatalf("Extract(%q) = %d embeds, want 1", content, len(embeds))
	}
	return embeds[0]
}

func TestExtractYouTube(t *testing.T) {
	t.Parallel()
	urls := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://www.youtube.com/live/dQw4w9WgXcQ",
	}
	for _, u := range urls {
		e := one(t, "check this "+u)
		if e.Type != TypeYouTube {
			t.Errorf("Extract(%q) type = %s, want youtube", u, e.Type)
			continue
		}
		if e.CanonicalURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
			t.Errorf("Extract(%q) canonical = %s", u, e.CanonicalURL)
		}
		if !strings.Contains(e.ThumbnailURL, "dQw4w9WgXcQ") || !strings.Contains(e.EmbedURL, "dQw4w9WgXcQ") {
			t.Errorf("Extract(%q) thumbnail/embed missing id", u)
		}
	}
}

func TestExtractYouTubeRejectsBadIDs(t *testing.T) {
	t.Parallel()
	for _, u := range []string{
		"https://www.youtube.com/watch?v=tooshort",
		"https://youtu.be/way-too-long-to-be-an-id",
		"https://www.youtube.com/playlist?list=PL123",
	} {
		if e := one(t, u); e.Type != TypeLink {
			t.Errorf("Extract(%q) type = %s, want link fallback", u, e.Type)
		}
	}
}

func TestExtractTwitch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.twitch.tv/somechannel", "https://player.twitch.tv/?channel=somechannel&parent={parent}"},
		{"https://twitch.tv/SomeChannel", "https://player.twitch.tv/?channel=somechannel&parent={parent}"},
		{"https://www.twitch.tv/videos/123456789", "https://player.twitch.tv/?video=123456789&parent={parent}"},
		{"https://clips.twitch.tv/FunnyClipSlug", "https://clips.twitch.tv/embed?clip=FunnyClipSlug&parent={parent}"},
		{"https://www.twitch.tv/somechannel/clip/FunnyClipSlug", "https://clips.twitch.tv/embed?clip=FunnyClipSlug&parent={parent}"},
	}
	for _, tt := range tests {
		e := one(t, tt.url)
		if e.Type != TypeTwitch {
			t.Errorf("Extract(%q) type = %s, want twitch", tt.url, e.Type)
			continue
		}
		if e.EmbedURL != tt.want {
			t.Errorf("Extract(%q) embed = %s, want %s", tt.url, e.EmbedURL, tt.want)
		}
	}
}

func TestExtractGenericLink(t *testing.T) {
	t.Parallel()
	e := one(t, "see https://example.com/some/long/path?q=1")
	if e.Type != TypeLink || e.Host != "example.com" || e.Path != "/some/long/path?q=1" {
		t.Errorf("Extract() = %+v", e)
	}

	e = one(t, "https://example.com")
	if e.Path != "/" {
		t.Errorf("bare host path = %q, want /", e.Path)
	}
}

func TestExtractTruncatesLongPaths(t *testing.T) {
	t.Parallel()
	long := "https://example.com/" + strings.Repeat("a", 200)
	e := one(t, long)
	if got := len([]rune(e.Path)); got > 96 {
		t.Errorf("path length = %d runes, want at most 96", got)
	}
	if !strings.HasSuffix(e.Path, "…") {
		t.Errorf("truncated path %q should end with ellipsis", e.Path)
	}
}

func TestExtractCapsAtFour(t *testing.T) {
	t.Parallel()
	content := strings.Join([]string{
		"https://one.example.com",
		"https://two.example.com",
		"https://three.example.com",
		"https://four.example.com",
		"https://five.example.com",
	}, " ")
	embeds := Extract(content)
	if len(embeds) != MaxEmbeds {
		t.Fatalf("Extract() = %d embeds, want %d", len(embeds), MaxEmbeds)
	}
	if embeds[3].Host != "four.example.com" {
		t.Errorf("fourth embed host = %s, want four.example.com", embeds[3].Host)
	}
}

func TestExtractIgnoresNonHTTP(t *testing.T) {
	t.Parallel()
	if embeds := Extract("ftp://example.com/file and no links otherwise"); len(embeds) != 0 {
		t.Errorf("Extract() = %v, want none", embeds)
	}
	if embeds := Extract("plain text without links"); len(embeds) != 0 {
		t.Errorf("Extract() = %v, want none", embeds)
	}
}

func TestExtractStripsTrailingPunctuation(t *testing.T) {
	t.Parallel()
	e := one(t, "look at https://example.com/page.")
	if e.Path != "/page" {
		t.Errorf("path = %q, want /page", e.Path)
	}
}

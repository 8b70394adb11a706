package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/message"
)

type fakeChannels struct {
	channel.Repository
	channels []channel.Channel
}

func (f *fakeChannels) ListByType(_ context.Context, channelType string) ([]channel.Channel, error) {
	var out []channel.Channel
	for _, ch := range f.channels {
		if ch.Type == channelType {
			out = append(out, ch)
		}
	}
	return out, nil
}

type fakeItems struct {
	keys             map[string]bool
	fingerprints     map[string]bool
	fingerprintByKey map[string]string
	messageIDs       map[string]uuid.UUID
	released         []string
}

func newFakeItems() *fakeItems {
	return &fakeItems{keys: map[string]bool{}, fingerprints: map[string]bool{}, fingerprintByKey: map[string]string{}, messageIDs: map[string]uuid.UUID{}}
}

func (f *fakeItems) Reserve(_ context.Context, channelID uuid.UUID, itemKey, fingerprint string) (bool, error) {
	k := channelID.String() + "/" + itemKey
	if f.keys[k] {
		return false, nil
	}
	if fingerprint != "" {
		fk := channelID.String() + "/" + fingerprint
		if f.fingerprints[fk] {
			return false, nil
		}
		f.fingerprints[fk] = true
		f.fingerprintByKey[k] = fk
	}
	f.keys[k] = true
	return true, nil
}

func (f *fakeItems) SetMessageID(_ context.Context, channelID uuid.UUID, itemKey string, messageID uuid.UUID) error {
	f.messageIDs[channelID.String()+"/"+itemKey] = messageID
	return nil
}

func (f *fakeItems) Release(_ context.Context, channelID uuid.UUID, itemKey string) error {
	k := channelID.String() + "/" + itemKey
	delete(f.keys, k)
	// The real repository deletes the whole row, so the fingerprint goes with it.
	if fk, ok := f.fingerprintByKey[k]; ok {
		delete(f.fingerprints, fk)
		delete(f.fingerprintByKey, k)
	}
	f.released = append(f.released, itemKey)
	return nil
}

type fakeMessages struct {
	created []message.Message
	failFor string
}

func (f *fakeMessages) Create(_ context.Context, channelID, userID uuid.UUID, content string) (*message.Message, error) {
	if f.failFor != "" && strings.Contains(content, f.failFor) {
		return nil, errors.New("insert failed")
	}
	m := message.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.created = append(f.created, m)
	return &m, nil
}

type fakeBroadcast struct {
	messages []*message.Message
}

func (f *fakeBroadcast) BroadcastMessage(m *message.Message) {
	f.messages = append(f.messages, m)
}

func feedXML(items int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Test Feed</title>`)
	// Item 1 is the oldest.
	for i := 1; i <= items; i++ {
		fmt.Fprintf(&b,
			`<item><title>Item %d</title><link>https://example.com/%d</link><guid>guid-%d</guid>`+
				`<pubDate>Mon, 0%d Jan 2024 00:00:00 GMT</pubDate></item>`,
			i, i, i, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func serveFeed(t *testing.T, xml string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "corvid-server/") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(xml))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPoller(channels *fakeChannels, items *fakeItems, messages *fakeMessages, broadcast *fakeBroadcast) *Poller {
	return NewPoller(channels, items, messages, broadcast, uuid.New(), time.Minute, zerolog.Nop())
}

func rssChannel(feedURL string) channel.Channel {
	return channel.Channel{ID: uuid.New(), Name: "news", Type: channel.TypeRSS, FeedURL: &feedURL}
}

func TestPollPublishesOldestFiveFirst(t *testing.T) {
	srv := serveFeed(t, feedXML(7))
	ch := rssChannel(srv.URL)

	channels := &fakeChannels{channels: []channel.Channel{ch}}
	items := newFakeItems()
	messages := &fakeMessages{}
	broadcast := &fakeBroadcast{}

	p := newTestPoller(channels, items, messages, broadcast)
	p.PollAll(context.Background())

	if len(messages.created) != MaxItemsPerPoll {
		t.Fatalf("published = %d messages, want %d", len(messages.created), MaxItemsPerPoll)
	}
	for i, m := range messages.created {
		want := fmt.Sprintf("Item %d\nhttps://example.com/%d", i+1, i+1)
		if m.Content != want {
			t.Errorf("message %d content = %q, want %q", i, m.Content, want)
		}
	}
	if len(broadcast.messages) != MaxItemsPerPoll {
		t.Errorf("broadcast = %d messages, want %d", len(broadcast.messages), MaxItemsPerPoll)
	}

	// The next poll picks up the remaining two.
	p.PollAll(context.Background())
	if len(messages.created) != 7 {
		t.Fatalf("published after second poll = %d, want 7", len(messages.created))
	}
	if got := messages.created[5].Content; !strings.HasPrefix(got, "Item 6") {
		t.Errorf("sixth message = %q, want Item 6", got)
	}

	// A third poll finds nothing new.
	p.PollAll(context.Background())
	if len(messages.created) != 7 {
		t.Errorf("published after third poll = %d, want 7", len(messages.created))
	}
}

func TestPollReleasesReservationOnFailure(t *testing.T) {
	srv := serveFeed(t, feedXML(2))
	ch := rssChannel(srv.URL)

	channels := &fakeChannels{channels: []channel.Channel{ch}}
	items := newFakeItems()
	messages := &fakeMessages{failFor: "Item 2"}
	broadcast := &fakeBroadcast{}

	p := newTestPoller(channels, items, messages, broadcast)
	p.PollAll(context.Background())

	if len(messages.created) != 1 {
		t.Fatalf("published = %d messages, want 1", len(messages.created))
	}
	if len(items.released) != 1 {
		t.Fatalf("released = %d reservations, want 1", len(items.released))
	}

	// After the failure clears, the item goes out on the next poll.
	messages.failFor = ""
	p.PollAll(context.Background())
	if len(messages.created) != 2 {
		t.Errorf("published after retry = %d, want 2", len(messages.created))
	}
}

func TestPollSkipsChannelsWithoutFeed(t *testing.T) {
	channels := &fakeChannels{channels: []channel.Channel{{ID: uuid.New(), Type: channel.TypeRSS}}}
	messages := &fakeMessages{}
	p := newTestPoller(channels, newFakeItems(), messages, &fakeBroadcast{})
	p.PollAll(context.Background())
	if len(messages.created) != 0 {
		t.Errorf("published = %d messages, want 0", len(messages.created))
	}
}

func TestIntervalBounds(t *testing.T) {
	p := NewPoller(nil, nil, nil, nil, uuid.Nil, 0, zerolog.Nop())
	if p.interval != DefaultInterval {
		t.Errorf("zero interval = %v, want %v", p.interval, DefaultInterval)
	}
	p = NewPoller(nil, nil, nil, nil, uuid.Nil, time.Second, zerolog.Nop())
	if p.interval != MinInterval {
		t.Errorf("tiny interval = %v, want %v", p.interval, MinInterval)
	}
	p = NewPoller(nil, nil, nil, nil, uuid.Nil, time.Hour, zerolog.Nop())
	if p.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", p.interval)
	}
}

func TestItemKeyStability(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &gofeed.Item{GUID: "g", Link: "l", Title: "t", PublishedParsed: &ts}
	b := &gofeed.Item{GUID: "g", Link: "l", Title: "t", PublishedParsed: &ts}
	if ItemKey(a) != ItemKey(b) {
		t.Error("identical items must share a key")
	}

	c := &gofeed.Item{GUID: "other", Link: "l", Title: "t", PublishedParsed: &ts}
	if ItemKey(a) == ItemKey(c) {
		t.Error("different guids must produce different keys")
	}
}

func TestFingerprint(t *testing.T) {
	a := &gofeed.Item{GUID: "g1", Link: "https://example.com/x", Title: "Same"}
	b := &gofeed.Item{GUID: "g2", Link: "https://example.com/x", Title: "Same"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("items differing only by guid must share a fingerprint")
	}
	if Fingerprint(&gofeed.Item{}) != "" {
		t.Error("empty items have no fingerprint")
	}
}

func TestFingerprintDeduplicatesRewrittenGUIDs(t *testing.T) {
	// Same item served twice with a fresh guid each time.
	xml := `<?xml version="1.0"?><rss version="2.0"><channel><title>F</title>` +
		`<item><title>Same Story</title><link>https://example.com/story</link><guid>run-%d</guid></item>` +
		`</channel></rss>`

	run := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		run++
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, xml, run)
	}))
	t.Cleanup(srv.Close)

	ch := rssChannel(srv.URL)
	channels := &fakeChannels{channels: []channel.Channel{ch}}
	messages := &fakeMessages{}
	p := newTestPoller(channels, newFakeItems(), messages, &fakeBroadcast{})

	p.PollAll(context.Background())
	p.PollAll(context.Background())

	if len(messages.created) != 1 {
		t.Errorf("published = %d messages, want 1", len(messages.created))
	}
}

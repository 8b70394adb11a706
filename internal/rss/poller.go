package rss

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/message"
)

const (
	// DefaultInterval between feed polls.
	DefaultInterval = 2 * time.Minute

	// MinInterval floors operator-configured intervals so a typo cannot hammer upstream feeds.
	MinInterval = 15 * time.Second

	// MaxItemsPerPoll caps how many new items one poll publishes per channel. A newly added feed with years of
	// history trickles in instead of flooding the channel.
	MaxItemsPerPoll = 5

	fetchTimeout = 20 * time.Second

	userAgent    = "corvid-server/1.0 (+https://github.com/corvid-chat/corvid-server)"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"
)

// MessagePublisher is the slice of the message repository the poller needs.
type MessagePublisher interface {
	Create(ctx context.Context, channelID, userID uuid.UUID, content string) (*message.Message, error)
}

// Broadcaster delivers published feed messages to connected clients.
type Broadcaster interface {
	BroadcastMessage(m *message.Message)
}

// Poller periodically fetches every rss channel's feed and publishes unseen items as the RSS bot. Publication is
// reserve-then-publish: the dedupe row is claimed first, the message is written second, and a failed write releases
// the claim so the item is retried on the next poll.
type Poller struct {
	channels  channel.Repository
	items     Repository
	messages  MessagePublisher
	broadcast Broadcaster
	botID     uuid.UUID

	client   *http.Client
	parser   *gofeed.Parser
	interval time.Duration
	log      zerolog.Logger
}

// NewPoller creates a poller publishing as the given bot user. Intervals below MinInterval are raised to it; zero
// selects DefaultInterval.
func NewPoller(channels channel.Repository, items Repository, messages MessagePublisher, broadcast Broadcaster, botID uuid.UUID, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Poller{
		channels:  channels,
		items:     items,
		messages:  messages,
		broadcast: broadcast,
		botID:     botID,
		client:    &http.Client{Timeout: fetchTimeout},
		parser:    gofeed.NewParser(),
		interval:  interval,
		log:       logger.With().Str("component", "rss").Logger(),
	}
}

// Run polls until the context is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("rss poller started")
	p.PollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("rss poller stopped")
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll polls every rss channel once. Per-channel failures are logged and do not stop the sweep.
func (p *Poller) PollAll(ctx context.Context) {
	channels, err := p.channels.ListByType(ctx, channel.TypeRSS)
	if err != nil {
		p.log.Error().Err(err).Msg("list rss channels")
		return
	}
	for i := range channels {
		ch := &channels[i]
		if ch.FeedURL == nil {
			continue
		}
		if err := p.pollChannel(ctx, ch); err != nil {
			p.log.Warn().Err(err).Str("channel", ch.ID.String()).Str("feed", *ch.FeedURL).Msg("feed poll failed")
		}
	}
}

func (p *Poller) pollChannel(ctx context.Context, ch *channel.Channel) error {
	feed, err := p.fetch(ctx, *ch.FeedURL)
	if err != nil {
		return err
	}

	items := append([]*gofeed.Item(nil), feed.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return publishedTime(items[i]).Before(publishedTime(items[j]))
	})

	published := 0
	for _, item := range items {
		if published >= MaxItemsPerPoll {
			break
		}
		ok, err := p.items.Reserve(ctx, ch.ID, ItemKey(item), Fingerprint(item))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := p.publish(ctx, ch.ID, item); err != nil {
			p.log.Warn().Err(err).Str("channel", ch.ID.String()).Str("item", item.Title).Msg("item publication failed")
			continue
		}
		published++
	}
	return nil
}

func (p *Poller) publish(ctx context.Context, channelID uuid.UUID, item *gofeed.Item) error {
	key := ItemKey(item)
	msg, err := p.messages.Create(ctx, channelID, p.botID, itemContent(item))
	if err != nil {
		if relErr := p.items.Release(ctx, channelID, key); relErr != nil {
			p.log.Error().Err(relErr).Str("channel", channelID.String()).Msg("release rss reservation")
		}
		return fmt.Errorf("publish rss item: %w", err)
	}
	if err := p.items.SetMessageID(ctx, channelID, key, msg.ID); err != nil {
		// The message is out; losing the back-reference only affects bookkeeping.
		p.log.Warn().Err(err).Str("channel", channelID.String()).Msg("record rss message id")
	}
	p.broadcast.BroadcastMessage(msg)
	return nil
}

func (p *Poller) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}
	feed, err := p.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// itemContent renders an item the way the channel shows it: title on the first line, link on the second.
func itemContent(item *gofeed.Item) string {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	switch {
	case title == "":
		return link
	case link == "":
		return title
	default:
		return title + "\n" + link
	}
}

func publishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

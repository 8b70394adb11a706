package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// ItemKey derives the stable dedupe key for a feed item. GUID alone would suffice for well-behaved feeds, but many
// feeds omit or recycle GUIDs, so the key mixes in link, title, and timestamp.
func ItemKey(item *gofeed.Item) string {
	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC().Format("2006-01-02T15:04:05Z")
	} else {
		published = item.Published
	}
	raw := strings.Join([]string{item.GUID, item.Link, item.Title, published}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes the visible content of an item. Feeds that rewrite GUIDs on every fetch would otherwise
// republish identical items; the fingerprint catches those. Returns empty for items with no usable content.
func Fingerprint(item *gofeed.Item) string {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" && link == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(title + "\n" + link))
	return hex.EncodeToString(sum[:])
}

// Repository defines the data-access contract for RSS dedupe rows.
type Repository interface {
	// Reserve claims an item for publication. It returns false when the item key or content fingerprint was already
	// claimed, which makes publication exactly-once across concurrent polls.
	Reserve(ctx context.Context, channelID uuid.UUID, itemKey, fingerprint string) (bool, error)

	// SetMessageID records the message published for a reserved item.
	SetMessageID(ctx context.Context, channelID uuid.UUID, itemKey string, messageID uuid.UUID) error

	// Release drops a reservation after a failed publication so the item is retried on the next poll.
	Release(ctx context.Context, channelID uuid.UUID, itemKey string) error
}

package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/category"
	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/embed"
	"github.com/corvid-chat/corvid-server/internal/folder"
	"github.com/corvid-chat/corvid-server/internal/message"
	"github.com/corvid-chat/corvid-server/internal/readstate"
	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/sfu"
	"github.com/corvid-chat/corvid-server/internal/user"
)

// Wire views. These are the JSON shapes events carry; they keep database rows out of the protocol so either side can
// evolve independently.

type userView struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	Role      string    `json:"role"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u *user.User, online bool) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Role:      u.Role,
		Online:    online,
		CreatedAt: u.CreatedAt,
	}
}

type serverView struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Title            string     `json:"title"`
	RulesChannelID   *uuid.UUID `json:"rulesChannelId,omitempty"`
	WelcomeChannelID *uuid.UUID `json:"welcomeChannelId,omitempty"`
	IconRef          *string    `json:"iconRef,omitempty"`
	StorageType      string     `json:"storageType"`
	StorageLastError *string    `json:"storageLastError,omitempty"`
}

func newServerView(s *server.Server) serverView {
	return serverView{
		ID:               s.ID,
		Name:             s.Name,
		Title:            s.Title,
		RulesChannelID:   s.RulesChannelID,
		WelcomeChannelID: s.WelcomeChannelID,
		IconRef:          s.IconRef,
		StorageType:      s.StorageType,
		StorageLastError: s.StorageLastError,
	}
}

// storageSettingsView echoes the storage configuration to admins with the secret key redacted.
type storageSettingsView struct {
	StorageType      string     `json:"storageType"`
	S3               *s3View    `json:"s3,omitempty"`
	StorageLastError *string    `json:"storageLastError,omitempty"`
	StorageUpdatedAt *time.Time `json:"storageUpdatedAt,omitempty"`
}

type s3View struct {
	Endpoint  string  `json:"endpoint"`
	Region    string  `json:"region"`
	Bucket    string  `json:"bucket"`
	AccessKey string  `json:"accessKey"`
	Prefix    *string `json:"prefix,omitempty"`
	ForcePath bool    `json:"forcePathStyle,omitempty"`
}

func newStorageSettingsView(s *server.Server) storageSettingsView {
	view := storageSettingsView{
		StorageType:      s.StorageType,
		StorageLastError: s.StorageLastError,
		StorageUpdatedAt: s.StorageUpdatedAt,
	}
	if s.S3 != nil {
		view.S3 = &s3View{
			Endpoint:  s.S3.Endpoint,
			Region:    s.S3.Region,
			Bucket:    s.S3.Bucket,
			AccessKey: s.S3.AccessKey,
			Prefix:    s.S3.Prefix,
			ForcePath: s.S3.ForcePath,
		}
	}
	return view
}

type categoryView struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
}

func newCategoryView(c *category.Category) categoryView {
	return categoryView{ID: c.ID, Name: c.Name, Position: c.Position}
}

type channelView struct {
	ID         uuid.UUID  `json:"id"`
	CategoryID *uuid.UUID `json:"categoryId,omitempty"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Position   int        `json:"position"`
	FeedURL    *string    `json:"feedUrl,omitempty"`
}

func newChannelView(c *channel.Channel) channelView {
	return channelView{
		ID:         c.ID,
		CategoryID: c.CategoryID,
		Name:       c.Name,
		Type:       c.Type,
		Position:   c.Position,
		FeedURL:    c.FeedURL,
	}
}

type unreadView struct {
	ChannelID         uuid.UUID  `json:"channelId"`
	Unread            bool       `json:"unread"`
	LastReadMessageID *uuid.UUID `json:"lastReadMessageId,omitempty"`
}

func newUnreadView(u *readstate.ChannelUnread) unreadView {
	return unreadView{ChannelID: u.ChannelID, Unread: u.Unread, LastReadMessageID: u.LastReadMessageID}
}

type messageView struct {
	ID        uuid.UUID     `json:"id"`
	ChannelID uuid.UUID     `json:"channelId"`
	UserID    uuid.UUID     `json:"userId"`
	Username  string        `json:"username"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Embeds    []embed.Embed `json:"embeds,omitempty"`
}

func newMessageView(m *message.Message) messageView {
	return messageView{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		UserID:    m.UserID,
		Username:  m.AuthorUsername,
		Role:      m.AuthorRole,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Embeds:    embed.Extract(m.Content),
	}
}

type fileView struct {
	ID               uuid.UUID `json:"id"`
	ChannelID        uuid.UUID `json:"channelId"`
	FileName         string    `json:"fileName"`
	MimeType         *string   `json:"mimeType,omitempty"`
	SizeBytes        int64     `json:"sizeBytes"`
	UploaderID       uuid.UUID `json:"uploaderId"`
	UploaderUsername string    `json:"uploaderUsername"`
	CreatedAt        time.Time `json:"createdAt"`
}

func newFileView(f *folder.File) fileView {
	return fileView{
		ID:               f.ID,
		ChannelID:        f.ChannelID,
		FileName:         f.OriginalName,
		MimeType:         f.MimeType,
		SizeBytes:        f.SizeBytes,
		UploaderID:       f.UploaderUserID,
		UploaderUsername: f.UploaderUsername,
		CreatedAt:        f.CreatedAt,
	}
}

type peerView struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Muted    bool      `json:"muted"`
	Deafened bool      `json:"deafened"`
}

func peerViews(peers []sfu.PeerInfo) []peerView {
	out := make([]peerView, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerView{UserID: p.UserID, Username: p.Username, Muted: p.Muted, Deafened: p.Deafened})
	}
	return out
}

// Event payloads.

type userOfflinePayload struct {
	UserID uuid.UUID `json:"userId"`
}

type voiceMembershipPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username,omitempty"`
}

type voiceParticipantsPayload struct {
	ChannelID    uuid.UUID  `json:"channelId"`
	Participants []peerView `json:"participants"`
}

type producerClosedPayload struct {
	ProducerID string    `json:"producerId"`
	UserID     uuid.UUID `json:"userId"`
}

type producerPayload struct {
	ProducerID string    `json:"producerId"`
	UserID     uuid.UUID `json:"userId"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
}

func producerPayloads(infos []sfu.ProducerInfo) []producerPayload {
	out := make([]producerPayload, 0, len(infos))
	for _, p := range infos {
		out = append(out, producerPayload{ProducerID: p.ProducerID, UserID: p.UserID, Kind: p.Kind, Source: p.Source})
	}
	return out
}

type transportCreatedPayload struct {
	ChannelID      uuid.UUID       `json:"channelId"`
	Direction      string          `json:"direction"`
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type voiceStatePayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	Muted     bool      `json:"muted"`
	Deafened  bool      `json:"deafened"`
}

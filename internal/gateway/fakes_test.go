package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/category"
	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/folder"
	"github.com/corvid-chat/corvid-server/internal/message"
	"github.com/corvid-chat/corvid-server/internal/moderation"
	"github.com/corvid-chat/corvid-server/internal/readstate"
	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/sfu"
	"github.com/corvid-chat/corvid-server/internal/storage"
	"github.com/corvid-chat/corvid-server/internal/user"
)

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*user.User
	byKey map[string]*user.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]*user.User{}, byKey: map[string]*user.User{}}
}

func (f *fakeUsers) add(username, role string) *user.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &user.User{ID: uuid.New(), Username: username, PublicKey: "key:" + username, Role: role, CreatedAt: time.Now()}
	f.byID[u.ID] = u
	f.byKey[u.PublicKey] = u
	return u
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByPublicKey(_ context.Context, key string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byKey[key]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Create(_ context.Context, username, publicKey string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &user.User{ID: uuid.New(), Username: username, PublicKey: publicKey, Role: user.RoleUser, CreatedAt: time.Now()}
	f.byID[u.ID] = u
	f.byKey[publicKey] = u
	return u, nil
}

func (f *fakeUsers) UpdateUsername(_ context.Context, id uuid.UUID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		u.Username = username
	}
	return nil
}

func (f *fakeUsers) UpdateLastIP(_ context.Context, id uuid.UUID, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		u.LastIP = &ip
	}
	return nil
}

func (f *fakeUsers) SetRole(_ context.Context, id uuid.UUID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		u.Role = role
	}
	return nil
}

func (f *fakeUsers) List(context.Context) ([]user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]user.User, 0, len(f.byID))
	for _, u := range f.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (f *fakeUsers) EnsureSynthetic(_ context.Context, username, publicKey, role string) (*user.User, error) {
	if u, err := f.GetByPublicKey(context.Background(), publicKey); err == nil {
		return u, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &user.User{ID: uuid.New(), Username: username, PublicKey: publicKey, Role: role, CreatedAt: time.Now()}
	f.byID[u.ID] = u
	f.byKey[publicKey] = u
	return u, nil
}

type fakeServers struct {
	mu  sync.Mutex
	srv server.Server
}

func newFakeServers() *fakeServers {
	return &fakeServers{srv: server.Server{
		ID:          uuid.New(),
		Name:        "hub",
		Title:       "The Hub",
		StorageType: server.StorageLocalDir,
	}}
}

func (f *fakeServers) Get(context.Context) (*server.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.srv
	return &cp, nil
}

func (f *fakeServers) UpdateSettings(_ context.Context, _ uuid.UUID, params server.SettingsParams) (*server.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.Title != nil {
		f.srv.Title = *params.Title
	}
	if params.RulesChannelID != nil {
		f.srv.RulesChannelID = params.RulesChannelID
	}
	if params.SetRulesNull {
		f.srv.RulesChannelID = nil
	}
	if params.WelcomeChannelID != nil {
		f.srv.WelcomeChannelID = params.WelcomeChannelID
	}
	if params.SetWelcomeNull {
		f.srv.WelcomeChannelID = nil
	}
	if params.IconRef != nil {
		f.srv.IconRef = params.IconRef
	}
	if params.SetIconNull {
		f.srv.IconRef = nil
	}
	cp := f.srv
	return &cp, nil
}

func (f *fakeServers) UpdateStorage(_ context.Context, _ uuid.UUID, storageType string, s3 *server.S3Config) (*server.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.srv.StorageType = storageType
	f.srv.S3 = s3
	f.srv.StorageLastError = nil
	cp := f.srv
	return &cp, nil
}

func (f *fakeServers) SetStorageError(_ context.Context, _ uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.srv.StorageLastError = &msg
	return nil
}

func (f *fakeServers) SetWelcomeChannel(_ context.Context, _ uuid.UUID, channelID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.srv.WelcomeChannelID = &channelID
	return nil
}

type fakeCategories struct {
	mu   sync.Mutex
	list []category.Category
}

func (f *fakeCategories) List(context.Context) ([]category.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]category.Category(nil), f.list...), nil
}

func (f *fakeCategories) GetByID(_ context.Context, id uuid.UUID) (*category.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == id {
			cp := f.list[i]
			return &cp, nil
		}
	}
	return nil, category.ErrNotFound
}

func (f *fakeCategories) Create(_ context.Context, name string, position int) (*category.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := category.Category{ID: uuid.New(), Name: name, Position: position}
	f.list = append(f.list, c)
	return &c, nil
}

type fakeChannels struct {
	mu   sync.Mutex
	list []channel.Channel
}

func (f *fakeChannels) add(channelType string) *channel.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := channel.Channel{ID: uuid.New(), Name: channelType + "-channel", Type: channelType, CreatedAt: time.Now()}
	f.list = append(f.list, ch)
	return &ch
}

func (f *fakeChannels) List(context.Context) ([]channel.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.Channel(nil), f.list...), nil
}

func (f *fakeChannels) ListByType(_ context.Context, channelType string) ([]channel.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []channel.Channel
	for _, ch := range f.list {
		if ch.Type == channelType {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannels) GetByID(_ context.Context, id uuid.UUID) (*channel.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == id {
			cp := f.list[i]
			return &cp, nil
		}
	}
	return nil, channel.ErrNotFound
}

func (f *fakeChannels) Create(_ context.Context, params channel.CreateParams) (*channel.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := channel.Channel{
		ID:         uuid.New(),
		CategoryID: params.CategoryID,
		Name:       params.Name,
		Type:       params.Type,
		Position:   len(f.list),
		FeedURL:    params.FeedURL,
		CreatedAt:  time.Now(),
	}
	f.list = append(f.list, ch)
	return &ch, nil
}

func (f *fakeChannels) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			return nil
		}
	}
	return channel.ErrNotFound
}

func (f *fakeChannels) NextPosition(context.Context, *uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.list), nil
}

type fakeMessages struct {
	mu    sync.Mutex
	rows  []message.Message
	users *fakeUsers
	next  time.Time
}

func newFakeMessages(users *fakeUsers) *fakeMessages {
	return &fakeMessages{users: users, next: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeMessages) Create(_ context.Context, channelID, userID uuid.UUID, content string) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := message.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		CreatedAt: f.next,
	}
	if u, ok := f.users.byID[userID]; ok {
		m.AuthorUsername = u.Username
		m.AuthorRole = u.Role
	}
	f.next = f.next.Add(time.Second)
	f.rows = append(f.rows, m)
	return &m, nil
}

func (f *fakeMessages) List(_ context.Context, channelID uuid.UUID, cursor *message.Cursor, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for _, m := range f.rows {
		if m.ChannelID != channelID {
			continue
		}
		if cursor != nil && !beforeCursor(&m, cursor) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) > 0
	})
	if len(out) > limit+1 {
		out = out[:limit+1]
	}
	return out, nil
}

// beforeCursor mirrors the store's (created_at, id) row-value comparison so equal-timestamp rows paginate the same
// way here as they do in SQL.
func beforeCursor(m *message.Message, cur *message.Cursor) bool {
	if !m.CreatedAt.Equal(cur.CreatedAt) {
		return m.CreatedAt.Before(cur.CreatedAt)
	}
	return bytes.Compare(m.ID[:], cur.ID[:]) < 0
}

func (f *fakeMessages) PurgeByUser(_ context.Context, userID uuid.UUID, mode string, _ int) (int64, error) {
	if mode == message.DeleteModeNone {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []message.Message
	var purged int64
	for _, m := range f.rows {
		if m.UserID == userID {
			purged++
			continue
		}
		kept = append(kept, m)
	}
	f.rows = kept
	return purged, nil
}

func (f *fakeMessages) Tails(context.Context) ([]message.Tail, error) { return nil, nil }

type advanceCall struct {
	UserID    uuid.UUID
	ChannelID uuid.UUID
	MessageID uuid.UUID
	CreatedAt time.Time
}

type fakeReadstates struct {
	mu       sync.Mutex
	advances []advanceCall
	unread   []readstate.ChannelUnread
}

func (f *fakeReadstates) SeedForUser(context.Context, uuid.UUID) error    { return nil }
func (f *fakeReadstates) SeedForChannel(context.Context, uuid.UUID) error { return nil }

func (f *fakeReadstates) Advance(_ context.Context, userID, channelID, messageID uuid.UUID, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances = append(f.advances, advanceCall{UserID: userID, ChannelID: channelID, MessageID: messageID, CreatedAt: createdAt})
	return nil
}

func (f *fakeReadstates) UnreadForUser(context.Context, uuid.UUID) ([]readstate.ChannelUnread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]readstate.ChannelUnread(nil), f.unread...), nil
}

type fakeFiles struct {
	mu    sync.Mutex
	rows  []folder.File
	users *fakeUsers
}

func (f *fakeFiles) Create(_ context.Context, params folder.CreateParams) (*folder.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := folder.File{
		ID:              uuid.New(),
		ChannelID:       params.ChannelID,
		OriginalName:    params.OriginalName,
		StorageName:     params.StorageName,
		StorageProvider: params.StorageProvider,
		StorageKey:      params.StorageKey,
		MimeType:        params.MimeType,
		SizeBytes:       params.SizeBytes,
		UploaderUserID:  params.UploaderUserID,
		CreatedAt:       time.Now(),
	}
	if u, ok := f.users.byID[params.UploaderUserID]; ok {
		file.UploaderUsername = u.Username
	}
	f.rows = append(f.rows, file)
	return &file, nil
}

func (f *fakeFiles) GetByID(_ context.Context, id uuid.UUID) (*folder.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			cp := f.rows[i]
			return &cp, nil
		}
	}
	return nil, folder.ErrNotFound
}

func (f *fakeFiles) ListByChannel(_ context.Context, channelID uuid.UUID) ([]folder.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []folder.File
	for _, file := range f.rows {
		if file.ChannelID == channelID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeFiles) ListByProvider(_ context.Context, provider string) ([]folder.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []folder.File
	for _, file := range f.rows {
		if file.StorageProvider == provider {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeFiles) MarkMigrated(_ context.Context, id uuid.UUID, provider, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].StorageProvider = provider
			f.rows[i].StorageKey = &key
		}
	}
	return nil
}

func (f *fakeFiles) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return folder.ErrNotFound
}

type fakeActions struct {
	mu      sync.Mutex
	created []moderation.Action
	pending []moderation.Action
}

func (f *fakeActions) Create(_ context.Context, params moderation.CreateActionParams) (*moderation.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := moderation.Action{
		ID:                uuid.New(),
		TargetUserID:      params.TargetUserID,
		ModeratorUserID:   params.ModeratorUserID,
		ActionType:        params.ActionType,
		Reason:            params.Reason,
		DeleteMode:        params.DeleteMode,
		DeleteHours:       params.DeleteHours,
		BlacklistIdentity: params.BlacklistIdentity,
		BlacklistIP:       params.BlacklistIP,
		TargetIP:          params.TargetIP,
		Enforced:          params.Enforced,
		CreatedAt:         time.Now(),
	}
	f.created = append(f.created, a)
	return &a, nil
}

func (f *fakeActions) PendingForUser(_ context.Context, userID uuid.UUID) ([]moderation.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []moderation.Action
	for _, a := range f.pending {
		if a.TargetUserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActions) MarkEnforced(context.Context, uuid.UUID) error { return nil }

type fakeBans struct {
	mu    sync.Mutex
	rules []moderation.BanRule
	match *moderation.BanRule
}

func (f *fakeBans) Create(_ context.Context, params moderation.CreateBanParams) (*moderation.BanRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := moderation.BanRule{
		ID:                uuid.New(),
		TargetUserID:      params.TargetUserID,
		TargetPublicKey:   params.TargetPublicKey,
		TargetIP:          params.TargetIP,
		BlacklistIdentity: params.BlacklistIdentity,
		BlacklistIP:       params.BlacklistIP,
		Reason:            params.Reason,
		ModeratorUserID:   params.ModeratorUserID,
		Active:            true,
		CreatedAt:         time.Now(),
	}
	f.rules = append(f.rules, r)
	return &r, nil
}

func (f *fakeBans) Match(context.Context, *uuid.UUID, string, string) (*moderation.BanRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.match, nil
}

// fakeMediaEngine is a minimal in-process stand-in for the media engine, enough for join and state tests.
type fakeMediaEngine struct{}

func (fakeMediaEngine) NewRouter(context.Context) (sfu.Router, error) { return &fakeRouter{}, nil }
func (fakeMediaEngine) Close() error                                  { return nil }

type fakeRouter struct{}

func (*fakeRouter) RtpCapabilities() json.RawMessage { return json.RawMessage(`{"codecs":[]}`) }
func (*fakeRouter) CreateTransport(context.Context) (sfu.Transport, error) {
	return &fakeTransport{id: uuid.NewString()}, nil
}
func (*fakeRouter) CanConsume(string, json.RawMessage) bool { return true }
func (*fakeRouter) Close()                                  {}

type fakeTransport struct {
	id string
}

func (t *fakeTransport) ID() string { return t.id }
func (t *fakeTransport) Options() sfu.TransportOptions {
	return sfu.TransportOptions{
		ID:             t.id,
		IceParameters:  json.RawMessage(`{}`),
		IceCandidates:  json.RawMessage(`[]`),
		DtlsParameters: json.RawMessage(`{}`),
	}
}
func (t *fakeTransport) Connect(json.RawMessage) error { return nil }
func (t *fakeTransport) Produce(kind string, _ json.RawMessage) (sfu.Producer, error) {
	return &fakeProducer{id: uuid.NewString(), kind: kind}, nil
}
func (t *fakeTransport) Consume(producerID string, _ json.RawMessage) (sfu.Consumer, error) {
	return &fakeConsumer{id: uuid.NewString(), producerID: producerID}, nil
}
func (t *fakeTransport) Close() {}

type fakeProducer struct {
	id     string
	kind   string
	paused bool
}

func (p *fakeProducer) ID() string    { return p.id }
func (p *fakeProducer) Kind() string  { return p.kind }
func (p *fakeProducer) Pause() error  { p.paused = true; return nil }
func (p *fakeProducer) Resume() error { p.paused = false; return nil }
func (p *fakeProducer) Close()        {}

type fakeConsumer struct {
	id         string
	producerID string
}

func (c *fakeConsumer) ID() string                     { return c.id }
func (c *fakeConsumer) ProducerID() string             { return c.producerID }
func (c *fakeConsumer) Kind() string                   { return sfu.KindAudio }
func (c *fakeConsumer) RtpParameters() json.RawMessage { return json.RawMessage(`{}`) }
func (c *fakeConsumer) Resume() error                  { return nil }
func (c *fakeConsumer) Close()                         {}

// testHub bundles the hub and the fakes behind it so tests can reach into both sides.
type testHub struct {
	hub        *Hub
	users      *fakeUsers
	servers    *fakeServers
	categories *fakeCategories
	channels   *fakeChannels
	messages   *fakeMessages
	readstates *fakeReadstates
	files      *fakeFiles
	actions    *fakeActions
	bans       *fakeBans
}

const testAdminKey = "test-admin-key"

func newTestHub(t *testing.T, maxUpload int64) *testHub {
	t.Helper()

	users := newFakeUsers()
	servers := newFakeServers()
	categories := &fakeCategories{}
	channels := &fakeChannels{}
	messages := newFakeMessages(users)
	readstates := &fakeReadstates{}
	files := &fakeFiles{users: users}

	local, err := storage.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("local backend: %v", err)
	}
	store := storage.NewManager(local, servers, files, zerolog.Nop())
	rooms := sfu.NewRooms(fakeMediaEngine{}, zerolog.Nop())

	hub := NewHub(users, servers, categories, channels, messages, readstates, files,
		store, rooms, testAdminKey, maxUpload, zerolog.Nop())

	actions := &fakeActions{}
	bans := &fakeBans{}
	hub.SetModeration(moderation.NewEngine(actions, bans, users, messages, hub, zerolog.Nop()))

	return &testHub{
		hub:        hub,
		users:      users,
		servers:    servers,
		categories: categories,
		channels:   channels,
		messages:   messages,
		readstates: readstates,
		files:      files,
		actions:    actions,
		bans:       bans,
	}
}

// newTestClient builds a session with a buffered send channel, registered with the hub but without a network
// connection behind it. Handlers only touch the connection on buffer overflow and close, which these tests avoid.
func (th *testHub) newTestClient() *Client {
	c := &Client{
		hub:        th.hub,
		send:       make(chan []byte, 256),
		remoteAddr: "203.0.113.9:54321",
		log:        zerolog.Nop(),
	}
	c.alive.Store(true)
	th.hub.mu.Lock()
	th.hub.clients[c] = struct{}{}
	th.hub.mu.Unlock()
	return c
}

// newAuthedClient builds a registered session already bound to a user of the given role.
func (th *testHub) newAuthedClient(username, role string) (*Client, *user.User) {
	u := th.users.add(username, role)
	c := th.newTestClient()
	c.mu.Lock()
	c.authed = true
	c.userID = u.ID
	c.mu.Unlock()
	th.hub.bindUser(c, u.ID)
	return c, u
}

// nextEvent pops the next queued envelope from a session's send buffer.
func nextEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		env, err := decodeEnvelope(raw)
		if err != nil {
			t.Fatalf("undecodable queued event: %v", err)
		}
		return env
	default:
		t.Fatal("no event queued")
		return Envelope{}
	}
}

// drainEvents empties a session's send buffer, returning the event types seen.
func drainEvents(c *Client) []string {
	var types []string
	for {
		select {
		case raw := <-c.send:
			var env Envelope
			_ = json.Unmarshal(raw, &env)
			types = append(types, env.Type)
		default:
			return types
		}
	}
}

package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/user"
)

type fakeServers struct {
	srv  *server.Server
	gets int
}

func (f *fakeServers) Get(context.Context) (*server.Server, error) {
	f.gets++
	if f.srv == nil {
		f.srv = &server.Server{ID: uuid.New(), Name: "corvid", Title: "Corvid", StorageType: server.StorageLocalDir}
	}
	return f.srv, nil
}

func (f *fakeServers) UpdateSettings(context.Context, uuid.UUID, server.SettingsParams) (*server.Server, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeServers) UpdateStorage(context.Context, uuid.UUID, string, *server.S3Config) (*server.Server, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeServers) SetStorageError(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeServers) SetWelcomeChannel(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type fakeUsers struct {
	byKey map[string]*user.User
}

func (f *fakeUsers) GetByID(context.Context, uuid.UUID) (*user.User, error) {
	return nil, user.ErrNotFound
}

func (f *fakeUsers) GetByPublicKey(_ context.Context, key string) (*user.User, error) {
	if u, ok := f.byKey[key]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (f *fakeUsers) Create(context.Context, string, string) (*user.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeUsers) UpdateUsername(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeUsers) UpdateLastIP(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeUsers) SetRole(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeUsers) List(context.Context) ([]user.User, error) { return nil, nil }

func (f *fakeUsers) EnsureSynthetic(_ context.Context, username, publicKey, role string) (*user.User, error) {
	if f.byKey == nil {
		f.byKey = make(map[string]*user.User)
	}
	if u, ok := f.byKey[publicKey]; ok {
		return u, nil
	}
	u := &user.User{ID: uuid.New(), Username: username, PublicKey: publicKey, Role: role}
	f.byKey[publicKey] = u
	return u, nil
}

func TestRunSeedsSyntheticAccounts(t *testing.T) {
	servers := &fakeServers{}
	users := &fakeUsers{}

	res, err := Run(t.Context(), servers, users, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Server == nil || res.Server.ID == uuid.Nil {
		t.Fatal("expected server row")
	}
	if res.System == nil || res.System.Role != user.RoleSystem || res.System.Username != user.SystemUsername {
		t.Errorf("system user = %+v", res.System)
	}
	if res.RSSBot == nil || res.RSSBot.Role != user.RoleBot || res.RSSBot.Username != user.RSSBotUsername {
		t.Errorf("rss bot user = %+v", res.RSSBot)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	servers := &fakeServers{}
	users := &fakeUsers{}

	first, err := Run(t.Context(), servers, users, zerolog.Nop())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := Run(t.Context(), servers, users, zerolog.Nop())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.System.ID != second.System.ID {
		t.Errorf("system user recreated: %s then %s", first.System.ID, second.System.ID)
	}
	if first.RSSBot.ID != second.RSSBot.ID {
		t.Errorf("rss bot recreated: %s then %s", first.RSSBot.ID, second.RSSBot.ID)
	}
}

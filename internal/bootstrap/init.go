package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/user"
)

// Result carries the rows created or confirmed during startup seeding.
type Result struct {
	Server *server.Server
	System *user.User
	RSSBot *user.User
}

// Run makes sure the hub configuration row and the synthetic accounts exist. It is idempotent: the first start
// creates everything, later starts read it back.
func Run(ctx context.Context, servers server.Repository, users user.Repository, logger zerolog.Logger) (*Result, error) {
	srv, err := servers.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure server row: %w", err)
	}

	system, err := users.EnsureSynthetic(ctx, user.SystemUsername, user.SystemPublicKey, user.RoleSystem)
	if err != nil {
		return nil, fmt.Errorf("ensure system user: %w", err)
	}

	rssBot, err := users.EnsureSynthetic(ctx, user.RSSBotUsername, user.RSSBotPublicKey, user.RoleBot)
	if err != nil {
		return nil, fmt.Errorf("ensure rss bot user: %w", err)
	}

	logger.Info().
		Str("server_id", srv.ID.String()).
		Str("title", srv.Title).
		Msg("Hub configuration ready")

	return &Result{Server: srv, System: system, RSSBot: rssBot}, nil
}

package api

import (
	"errors"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/corvid-chat/corvid-server/internal/httputil"
	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/storage"
)

// iconCacheControl lets browsers and proxies cache the icon briefly; the reference changes when the icon does, so a
// short window is enough.
const iconCacheControl = "public, max-age=300"

var iconNamePattern = regexp.MustCompile(`^icon\.(png|jpg|webp|gif)$`)

var iconContentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
}

// IconHandler serves the server icon without authentication so login screens can show it.
type IconHandler struct {
	servers server.Repository
	store   *storage.Manager
	log     zerolog.Logger
}

// NewIconHandler creates a new icon handler.
func NewIconHandler(servers server.Repository, store *storage.Manager, logger zerolog.Logger) *IconHandler {
	return &IconHandler{
		servers: servers,
		store:   store,
		log:     logger.With().Str("component", "icons").Logger(),
	}
}

// ServeLocal handles GET /server-icons/:serverID/:name for icons held by the local directory backend. The request
// path must match the reference stored on the server row; anything else is a 404, never a disk probe.
func (h *IconHandler) ServeLocal(c fiber.Ctx) error {
	serverID := c.Params("serverID")
	name := c.Params("name")
	if storage.ValidateIDSegment(serverID) != nil || !iconNamePattern.MatchString(name) {
		return iconNotFound(c)
	}

	srv, err := h.servers.Get(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load server row")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "internal error")
	}
	if srv.IconRef == nil || *srv.IconRef != "/server-icons/"+serverID+"/"+name {
		return iconNotFound(c)
	}

	ext := strings.TrimPrefix(path.Ext(name), ".")
	return h.sendIcon(c, storage.IconKey("", srv.ID, ext), ext)
}

// ServeRemote handles GET /server-icons/s3/* where the wildcard is the URL-encoded object key. The key must match
// the stored reference exactly, so the endpoint cannot be used to read arbitrary bucket objects.
func (h *IconHandler) ServeRemote(c fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil || key == "" {
		return iconNotFound(c)
	}

	srv, err := h.servers.Get(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load server row")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "internal error")
	}
	if srv.IconRef == nil || *srv.IconRef != "s3:"+key {
		return iconNotFound(c)
	}

	return h.sendIcon(c, key, storage.NormalizeIconExt(path.Ext(key)))
}

func (h *IconHandler) sendIcon(c fiber.Ctx, key, ext string) error {
	rc, err := h.store.OpenIcon(c.Context(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			h.log.Error().Err(err).Str("key", key).Msg("open server icon")
		}
		return iconNotFound(c)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("read server icon")
		return iconNotFound(c)
	}

	contentType, ok := iconContentTypes[ext]
	if !ok {
		contentType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, iconCacheControl)
	return c.Send(data)
}

func iconNotFound(c fiber.Ctx) error {
	return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "icon not found")
}

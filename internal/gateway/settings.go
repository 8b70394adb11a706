package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/server"
	"github.com/corvid-chat/corvid-server/internal/storage"
)

// maxIconDimension is the bounding box icons are downscaled into before storage.
const maxIconDimension = 512

type updateSettingsPayload struct {
	ServerID         uuid.UUID        `json:"serverId"`
	Title            *string          `json:"title,omitempty"`
	RulesChannelID   *uuid.UUID       `json:"rulesChannelId,omitempty"`
	WelcomeChannelID *uuid.UUID       `json:"welcomeChannelId,omitempty"`
	IconDataURL      *string          `json:"iconDataUrl,omitempty"`
	RemoveIcon       bool             `json:"removeIcon,omitempty"`
	Storage          *storageSettings `json:"storage,omitempty"`
}

type storageSettings struct {
	StorageType string    `json:"storageType"`
	S3          *s3Config `json:"s3,omitempty"`
}

type s3Config struct {
	Endpoint  string  `json:"endpoint"`
	Region    string  `json:"region"`
	Bucket    string  `json:"bucket"`
	AccessKey string  `json:"accessKey"`
	SecretKey string  `json:"secretKey"`
	Prefix    *string `json:"prefix,omitempty"`
	ForcePath bool    `json:"forcePathStyle,omitempty"`
}

type storageTestResultPayload struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// handleUpdateServerSettings applies the admin settings form: title and channel references, icon upload or removal,
// and the storage configuration. Each section is applied independently so a failed storage probe does not discard a
// title change submitted in the same request.
func (h *Hub) handleUpdateServerSettings(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}
	if !u.IsAdmin() {
		c.sendError("admin role required")
		return
	}

	var req updateSettingsPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	srv, err := h.servers.Get(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("load server row")
		c.sendError("internal error")
		return
	}

	params := server.SettingsParams{
		Title:            req.Title,
		RulesChannelID:   req.RulesChannelID,
		WelcomeChannelID: req.WelcomeChannelID,
	}

	if req.RemoveIcon {
		params.SetIconNull = true
	} else if req.IconDataURL != nil {
		iconRef, iconErr := h.storeIcon(ctx, srv.ID, *req.IconDataURL)
		if iconErr != nil {
			c.sendError(iconErr.Error())
			return
		}
		params.IconRef = &iconRef
	}

	srv, err = h.servers.UpdateSettings(ctx, srv.ID, params)
	if err != nil {
		h.log.Error().Err(err).Msg("update server settings")
		c.sendError("settings update failed")
		return
	}

	if req.Storage != nil {
		srv = h.applyStorageSettings(ctx, c, srv, req.Storage)
	}

	h.log.Info().Str("moderator", u.ID.String()).Msg("server settings updated")
	view := newServerView(srv)
	h.BroadcastToAuthenticated(EventServerSettingsUpdated, view)
	// Mirror for clients still listening on the pre-rename event name.
	h.BroadcastToAuthenticated(EventServerUpdatedLegacy, view)
}

// applyStorageSettings probes and activates a storage change, reporting the probe outcome to the caller either way.
// On failure the previous configuration stays active and the reply carries the validation diagnostic.
func (h *Hub) applyStorageSettings(ctx context.Context, c *Client, srv *server.Server, cfg *storageSettings) *server.Server {
	var s3 *server.S3Config
	if cfg.S3 != nil {
		s3 = &server.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
			ForcePath: cfg.S3.ForcePath,
		}
	}

	updated, err := h.store.Reconfigure(ctx, srv.ID, cfg.StorageType, s3)
	if err != nil {
		c.sendEvent(EventStorageTestResult, storageTestResultPayload{OK: false, Message: err.Error()})
		return srv
	}

	c.sendEvent(EventStorageTestResult, storageTestResultPayload{OK: true})
	c.sendEvent(EventServerStorageSettings, newStorageSettingsView(updated))
	return updated
}

// storeIcon decodes a data-URL icon, downscales it, writes it through the active backend, and returns the reference
// to persist: a local path for the local backend, an "s3:" marker for the remote one.
func (h *Hub) storeIcon(ctx context.Context, serverID uuid.UUID, dataURL string) (string, error) {
	subtype, data, err := decodeImageDataURL(dataURL)
	if err != nil {
		return "", err
	}

	ext := storage.NormalizeIconExt(subtype)
	contentType := "image/" + subtype

	// png and jpeg pass through the resampler; webp and gif are stored as sent, since re-encoding would drop
	// animation frames and alpha.
	if ext == "png" || ext == "jpg" {
		if data, err = downscaleIcon(data, ext); err != nil {
			return "", err
		}
	}

	key, err := h.store.StoreIcon(ctx, serverID, ext, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		h.log.Error().Err(err).Msg("store server icon")
		return "", errors.New("icon upload failed")
	}

	if h.store.Provider() == server.StorageLocalDir {
		return fmt.Sprintf("/server-icons/%s/icon.%s", serverID, ext), nil
	}
	return "s3:" + key, nil
}

// decodeImageDataURL parses a "data:image/<subtype>;base64,<payload>" URL and returns the subtype and raw bytes.
func decodeImageDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:image/")
	if !ok {
		return "", nil, errors.New("icon must be an image data url")
	}
	subtype, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok || subtype == "" {
		return "", nil, errors.New("icon data url must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, errors.New("icon data is not valid base64")
	}
	if len(data) == 0 {
		return "", nil, errors.New("icon data is empty")
	}
	return strings.ToLower(subtype), data, nil
}

// downscaleIcon fits the image into the icon bounding box and re-encodes it in its original format. Images already
// inside the box are re-encoded unchanged in dimensions.
func downscaleIcon(data []byte, ext string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.New("icon image could not be decoded")
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxIconDimension || bounds.Dy() > maxIconDimension {
		img = imaging.Fit(img, maxIconDimension, maxIconDimension, imaging.Lanczos)
	}

	format := imaging.PNG
	if ext == "jpg" {
		format = imaging.JPEG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, errors.New("icon image could not be encoded")
	}
	return buf.Bytes(), nil
}

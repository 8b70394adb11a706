package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/corvid-chat/corvid-server/internal/channel"
	"github.com/corvid-chat/corvid-server/internal/folder"
)

type folderChannelPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type folderFilesListPayload struct {
	ChannelID uuid.UUID  `json:"channelId"`
	Files     []fileView `json:"files"`
}

type folderUploadPayload struct {
	ChannelID  uuid.UUID `json:"channelId"`
	FileName   string    `json:"fileName"`
	MimeType   *string   `json:"mimeType,omitempty"`
	DataBase64 string    `json:"dataBase64"`
}

type folderFileRefPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	FileID    uuid.UUID `json:"fileId"`
}

type folderDownloadPayload struct {
	ChannelID  uuid.UUID `json:"channelId"`
	FileID     uuid.UUID `json:"fileId"`
	FileName   string    `json:"fileName"`
	MimeType   *string   `json:"mimeType,omitempty"`
	DataBase64 string    `json:"dataBase64"`
}

func (h *Hub) handleFolderListFiles(ctx context.Context, c *Client, payload json.RawMessage) {
	var req folderChannelPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if _, ok := h.folderChannel(ctx, c, req.ChannelID); !ok {
		return
	}

	files, err := h.files.ListByChannel(ctx, req.ChannelID)
	if err != nil {
		h.log.Error().Err(err).Str("channel", req.ChannelID.String()).Msg("list folder files")
		c.sendError("internal error")
		return
	}
	views := make([]fileView, 0, len(files))
	for i := range files {
		views = append(views, newFileView(&files[i]))
	}
	c.sendEvent(EventFolderFilesList, folderFilesListPayload{ChannelID: req.ChannelID, Files: views})
}

// handleFolderUploadFile decodes an in-frame upload, enforces the size cap and extension deny-list, and writes the
// bytes through whichever storage backend is active. Admin only.
func (h *Hub) handleFolderUploadFile(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}
	if !u.IsAdmin() {
		c.sendError("admin role required")
		return
	}

	var req folderUploadPayload
	if !decodeInto(c, payload, &req) {
		return
	}
	if _, ok := h.folderChannel(ctx, c, req.ChannelID); !ok {
		return
	}

	name, err := folder.SanitizeName(req.FileName)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if err := folder.ValidateExtension(name); err != nil {
		c.sendError(err.Error())
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		c.sendError("file data is not valid base64")
		return
	}
	if len(data) == 0 {
		c.sendError(folder.ErrEmptyFile.Error())
		return
	}
	if int64(len(data)) > h.maxUpload {
		c.sendError(folder.ErrFileTooLarge.Error())
		return
	}

	contentType := "application/octet-stream"
	if req.MimeType != nil && *req.MimeType != "" {
		contentType = *req.MimeType
	}

	storageName := uuid.NewString() + filepath.Ext(name)
	provider, key, err := h.store.StoreFile(ctx, req.ChannelID, storageName, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		h.log.Error().Err(err).Str("channel", req.ChannelID.String()).Msg("store uploaded file")
		c.sendError("file upload failed")
		return
	}

	f, err := h.files.Create(ctx, folder.CreateParams{
		ChannelID:       req.ChannelID,
		OriginalName:    name,
		StorageName:     storageName,
		StorageProvider: provider,
		StorageKey:      &key,
		MimeType:        req.MimeType,
		SizeBytes:       int64(len(data)),
		UploaderUserID:  u.ID,
	})
	if err != nil {
		h.log.Error().Err(err).Str("channel", req.ChannelID.String()).Msg("record uploaded file")
		// Orphaned bytes are worse than a failed upload; best effort removal.
		if delErr := h.store.DeleteFile(ctx, &folder.File{StorageProvider: provider, StorageKey: &key}); delErr != nil {
			h.log.Warn().Err(delErr).Str("key", key).Msg("remove orphaned upload")
		}
		c.sendError("file upload failed")
		return
	}

	h.log.Info().
		Str("channel", req.ChannelID.String()).
		Str("file", f.ID.String()).
		Int64("size", f.SizeBytes).
		Str("provider", provider).
		Msg("folder file uploaded")

	c.sendEvent(EventFolderUploadSuccess, newFileView(f))
	h.BroadcastToAuthenticated(EventFolderFileUploaded, newFileView(f))
}

func (h *Hub) handleFolderDownloadFile(ctx context.Context, c *Client, payload json.RawMessage) {
	var req folderFileRefPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	f, ok := h.folderFile(ctx, c, req.ChannelID, req.FileID)
	if !ok {
		return
	}

	rc, err := h.store.OpenFile(ctx, f)
	if err != nil {
		h.log.Error().Err(err).Str("file", f.ID.String()).Msg("open stored file")
		c.sendError("file download failed")
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.log.Error().Err(err).Str("file", f.ID.String()).Msg("read stored file")
		c.sendError("file download failed")
		return
	}

	c.sendEvent(EventFolderFileDownload, folderDownloadPayload{
		ChannelID:  f.ChannelID,
		FileID:     f.ID,
		FileName:   f.OriginalName,
		MimeType:   f.MimeType,
		DataBase64: base64.StdEncoding.EncodeToString(data),
	})
}

// handleFolderDeleteFile removes the byte payload first, then the row. Admin only.
func (h *Hub) handleFolderDeleteFile(ctx context.Context, c *Client, payload json.RawMessage) {
	u, ok := h.sessionUser(ctx, c)
	if !ok {
		return
	}
	if !u.IsAdmin() {
		c.sendError("admin role required")
		return
	}

	var req folderFileRefPayload
	if !decodeInto(c, payload, &req) {
		return
	}

	f, ok := h.folderFile(ctx, c, req.ChannelID, req.FileID)
	if !ok {
		return
	}

	if err := h.store.DeleteFile(ctx, f); err != nil {
		h.log.Error().Err(err).Str("file", f.ID.String()).Msg("delete stored file")
		c.sendError("file deletion failed")
		return
	}
	if err := h.files.Delete(ctx, f.ID); err != nil {
		h.log.Error().Err(err).Str("file", f.ID.String()).Msg("delete file row")
		c.sendError("file deletion failed")
		return
	}

	h.log.Info().Str("channel", f.ChannelID.String()).Str("file", f.ID.String()).Msg("folder file deleted")
	ref := folderFileRefPayload{ChannelID: f.ChannelID, FileID: f.ID}
	c.sendEvent(EventFolderDeleteSuccess, ref)
	h.BroadcastToAuthenticated(EventFolderFileDeleted, ref)
}

// folderChannel loads a channel and checks that it is a folder channel.
func (h *Hub) folderChannel(ctx context.Context, c *Client, channelID uuid.UUID) (*channel.Channel, bool) {
	ch, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			c.sendError("channel not found")
			return nil, false
		}
		h.log.Error().Err(err).Str("channel", channelID.String()).Msg("load channel")
		c.sendError("internal error")
		return nil, false
	}
	if ch.Type != channel.TypeFolder {
		c.sendError("not a folder channel")
		return nil, false
	}
	return ch, true
}

// folderFile loads a file row and checks that it belongs to the named channel.
func (h *Hub) folderFile(ctx context.Context, c *Client, channelID, fileID uuid.UUID) (*folder.File, bool) {
	f, err := h.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, folder.ErrNotFound) {
			c.sendError("file not found")
			return nil, false
		}
		h.log.Error().Err(err).Str("file", fileID.String()).Msg("load file row")
		c.sendError("internal error")
		return nil, false
	}
	if f.ChannelID != channelID {
		c.sendError("file not found")
		return nil, false
	}
	return f, true
}

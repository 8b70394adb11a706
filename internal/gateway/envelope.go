package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the frame every gateway message travels in, both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrBadEnvelope is returned when an inbound frame is not a valid envelope.
var ErrBadEnvelope = errors.New("invalid message envelope")

// Inbound operation types.
const (
	opAuthRequest  = "auth:request"
	opAuthResponse = "auth:response"
	opPing         = "ping"

	opGetChannels     = "get_channels"
	opCreateChannel   = "create_channel"
	opDeleteChannel   = "delete_channel"
	opGetMessages     = "get_messages"
	opSendMessage     = "send_message"
	opMarkChannelRead = "mark_channel_read"
	opGetMembers      = "get_members"

	opFolderListFiles    = "folder_list_files"
	opFolderUploadFile   = "folder_upload_file"
	opFolderDownloadFile = "folder_download_file"
	opFolderDeleteFile   = "folder_delete_file"

	opJoinVoiceChannel  = "join_voice_channel"
	opCreateTransport   = "create_webrtc_transport"
	opConnectTransport  = "connect_webrtc_transport"
	opProduce           = "produce"
	opCloseProducer     = "close_producer"
	opConsume           = "consume"
	opResumeConsumer    = "resume_consumer"
	opLeaveVoiceChannel = "leave_voice_channel"
	opGetProducers      = "get_producers"
	opVoiceStateUpdate  = "voice_state_update"

	opKickMember           = "kick_member"
	opBanMember            = "ban_member"
	opSubmitAdminKey       = "submit_admin_key"
	opUpdateServerSettings = "update_server_settings"
)

// Outbound event types.
const (
	EventAuthenticated = "authenticated"
	EventAuthChallenge = "auth:challenge"
	EventAuthBanned    = "auth:banned"
	EventPong          = "pong"
	EventError         = "error"

	EventMemberList  = "member_list"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventUserUpdated = "user_updated"
	EventRoleUpdated = "role_updated"

	EventChannelsList   = "channels_list"
	EventChannelCreated = "channel_created"
	EventChannelDeleted = "channel_deleted"
	EventMessagesList   = "messages_list"
	EventNewMessage     = "new_message"

	EventFolderFilesList     = "folder_files_list"
	EventFolderFileUploaded  = "folder_file_uploaded"
	EventFolderFileDownload  = "folder_file_download"
	EventFolderFileDeleted   = "folder_file_deleted"
	EventFolderUploadSuccess = "folder_upload_success"
	EventFolderDeleteSuccess = "folder_delete_success"

	EventVoiceParticipantsList = "voice_participants_list"
	EventVoiceChannelJoined    = "voice_channel_joined"
	EventUserJoinedVoice       = "user_joined_voice"
	EventUserLeftVoice         = "user_left_voice"
	EventTransportCreated      = "webrtc_transport_created"
	EventTransportConnected    = "webrtc_transport_connected"
	EventProduced              = "produced"
	EventNewProducer           = "new_producer"
	EventProducerClosed        = "producer_closed"
	EventConsumed              = "consumed"
	EventVoiceStateUpdated     = "voice_state_updated"

	EventServerSettingsUpdated = "server_settings_updated"
	EventServerUpdatedLegacy   = "SERVER_UPDATED"
	EventServerStorageSettings = "server_storage_settings"
	EventStorageTestResult     = "server_storage_test_result"

	EventModerationEnforced = "moderation_action_enforced"
	EventModerationApplied  = "moderation_action_applied"
	EventMemberRemoved      = "member_removed"
)

// legacyAliases maps the uppercase types older clients still send to their current operations. JOIN_SERVER predates
// the challenge flow and opens authentication; CREATE_SERVER and UPDATE_SERVER_SETTINGS both land on the settings
// handler, which creates nothing because the single server row always exists.
var legacyAliases = map[string]string{
	"JOIN_SERVER":            opAuthRequest,
	"CREATE_SERVER":          opUpdateServerSettings,
	"UPDATE_SERVER_SETTINGS": opUpdateServerSettings,
}

// decodeEnvelope parses an inbound frame and normalizes legacy alias types.
func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, ErrBadEnvelope
	}
	if env.Type == "" {
		return Envelope{}, ErrBadEnvelope
	}
	if canonical, ok := legacyAliases[env.Type]; ok {
		env.Type = canonical
	}
	return env, nil
}

// encodeEvent wraps a payload in an envelope and serializes it.
func encodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

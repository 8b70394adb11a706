package gateway

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  bool
	}{
		{name: "plain operation", input: `{"type":"ping"}`, wantType: opPing},
		{name: "operation with payload", input: `{"type":"send_message","payload":{"content":"hi"}}`, wantType: opSendMessage},
		{name: "legacy join alias", input: `{"type":"JOIN_SERVER","payload":{}}`, wantType: opAuthRequest},
		{name: "legacy create alias", input: `{"type":"CREATE_SERVER"}`, wantType: opUpdateServerSettings},
		{name: "legacy settings alias", input: `{"type":"UPDATE_SERVER_SETTINGS"}`, wantType: opUpdateServerSettings},
		{name: "missing type", input: `{"payload":{}}`, wantErr: true},
		{name: "empty type", input: `{"type":""}`, wantErr: true},
		{name: "not json", input: `ping`, wantErr: true},
		{name: "wrong shape", input: `["ping"]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrBadEnvelope) {
					t.Fatalf("expected ErrBadEnvelope, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEnvelope: %v", err)
			}
			if env.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", env.Type, tt.wantType)
			}
		})
	}
}

func TestEncodeEventRoundTrips(t *testing.T) {
	raw, err := encodeEvent(EventPong, struct {
		N int `json:"n"`
	}{N: 7})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != EventPong {
		t.Fatalf("type = %q, want %q", env.Type, EventPong)
	}
	var payload struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.N != 7 {
		t.Fatalf("payload = %+v", payload)
	}
}

package events

import (
	"encoding/json"
	"fmt"
)

// MarshalFrame serializes one outbound frame. Frames are flat JSON
// objects: the payload's fields plus "type", an optional "session_id", and
// an optional top-level "revision". Replay frames always carry a revision;
// live frames never do.
func MarshalFrame(t EventType, sessionID string, revision *uint64, payload any) ([]byte, error) {
	m := map[string]any{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", t, err)
		}
	}
	m["type"] = t
	if sessionID != "" {
		m["session_id"] = sessionID
	}
	if revision != nil {
		m["revision"] = *revision
	}
	return json.Marshal(m)
}

// HelloPayload is sent once per connection, before anything else.
type HelloPayload struct {
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocol_version"`
}

// ErrorPayload reports a protocol, routing, or delivery problem. The
// connection stays open except for unauthorized.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// ErrorFrame builds a serialized error frame. Marshalling a flat map of
// strings cannot fail, so the byte slice is returned directly.
func ErrorFrame(code ErrorCode, message, sessionID string) []byte {
	data, _ := MarshalFrame(EventError, sessionID, nil, ErrorPayload{Code: code, Message: message})
	return data
}

package server

import (
	"encoding/json"
	"fmt"

	"github.com/jmfields/cowrite/presence"
)

// Message types exchanged over the push transport.
const (
	MsgConnect        = "client:connect"
	MsgDocumentOpen   = "client:document_open"
	MsgSyncRequest    = "client:sync_request"
	MsgPresenceUpdate = "client:presence_update"

	MsgReady             = "server:ready"
	MsgSyncResponse      = "server:sync_response"
	MsgPresenceBroadcast = "server:presence_broadcast"
	MsgError             = "server:error"
	MsgAccessDenied      = "server:access_denied"
)

// Envelope is the wire shape of every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage is the decoded form of an inbound message, one variant
// per message type.
type ClientMessage interface {
	clientMessage()
}

// ConnectMessage is the client handshake after the ready frame.
type ConnectMessage struct{}

// DocumentOpenMessage binds the connection to a document.
type DocumentOpenMessage struct {
	DocumentID  string `json:"documentId"`
	WorkspaceID string `json:"workspaceId"`
}

// SyncRequestMessage asks for the latest document content.
type SyncRequestMessage struct {
	DocumentID  string `json:"documentId"`
	WorkspaceID string `json:"workspaceId"`
}

// PresenceUpdateMessage carries a cursor or selection change.
type PresenceUpdateMessage struct {
	DocumentID string        `json:"documentId"`
	Presence   PresenceState `json:"presence"`
}

// PresenceState is the raw presence payload sent by push clients.
type PresenceState struct {
	UserID    string                  `json:"userId"`
	Cursor    *presence.PushCursor    `json:"cursor"`
	Selection *presence.PushSelection `json:"selection"`
}

func (ConnectMessage) clientMessage()        {}
func (DocumentOpenMessage) clientMessage()   {}
func (SyncRequestMessage) clientMessage()    {}
func (PresenceUpdateMessage) clientMessage() {}

// UnknownTypeError reports an unrecognized message type. The message is
// dropped; the connection stays open.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// DecodeClientMessage parses an envelope into its typed variant.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message envelope: %w", err)
	}

	switch env.Type {
	case MsgConnect:
		return ConnectMessage{}, nil
	case MsgDocumentOpen:
		var m DocumentOpenMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		return m, nil
	case MsgSyncRequest:
		var m SyncRequestMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		return m, nil
	case MsgPresenceUpdate:
		var m PresenceUpdateMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		return m, nil
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}
}

// ReadyPayload confirms a successful connection.
type ReadyPayload struct {
	ServerTime string `json:"serverTime"`
}

// DocumentPayload is document metadata and content in a sync response.
type DocumentPayload struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	UpdatedAt   string          `json:"updatedAt"`
	OwnerID     string          `json:"ownerId"`
	WorkspaceID string          `json:"workspaceId"`
	Content     json.RawMessage `json:"content"`
}

// SyncResponsePayload answers document_open and sync_request.
type SyncResponsePayload struct {
	Document DocumentPayload `json:"document"`
}

// OutboundPresence is the normalized presence state in a broadcast.
type OutboundPresence struct {
	UserID    string              `json:"userId"`
	Cursor    *presence.Cursor    `json:"cursor"`
	Selection *presence.Selection `json:"selection"`
}

// PresenceBroadcastPayload fans a presence change out to peers.
type PresenceBroadcastPayload struct {
	DocumentID string             `json:"documentId"`
	Presence   OutboundPresence   `json:"presence"`
	Event      presence.EventType `json:"event,omitempty"`
}

// ErrorPayload is a typed error sent to one connection.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// AccessDeniedPayload rejects a document open or sync request.
type AccessDeniedPayload struct {
	DocumentID  string `json:"documentId"`
	WorkspaceID string `json:"workspaceId"`
	Reason      string `json:"reason"`
}

// encodeMessage serializes a typed server message to wire bytes.
func encodeMessage(msgType string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	b, _ := json.Marshal(Envelope{Type: msgType, Payload: raw})
	return b
}

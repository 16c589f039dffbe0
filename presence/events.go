package presence

// Source identifies which transport a presence mutation arrived on.
// Events sourced from the push transport are not re-broadcast to it.
type Source string

const (
	SourceHTTP    Source = "http"
	SourceWS      Source = "ws"
	SourceTimeout Source = "timeout"
)

// EventType names the presence events streamed to subscribers.
type EventType string

const (
	EventSnapshot     EventType = "presence"
	EventUserJoined   EventType = "user_joined"
	EventUserLeft     EventType = "user_left"
	EventCursorUpdate EventType = "cursor_update"
)

// Selection is a text range. From is the anchor, To the head.
type Selection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Cursor is a caret position with an optional selected range.
type Cursor struct {
	Position int        `json:"position"`
	Range    *Selection `json:"range,omitempty"`
}

// UserInfo identifies a user joining or updating presence.
type UserInfo struct {
	ID     string
	Name   string
	Avatar string
}

// Collaborator is the public view of an online user.
type Collaborator struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color"`
}

// CursorPosition is a user's cursor as exposed to viewers.
type CursorPosition struct {
	UserID   string     `json:"userId"`
	Position int        `json:"position"`
	Range    *Selection `json:"range,omitempty"`
}

// Snapshot hydrates a newly subscribed viewer.
type Snapshot struct {
	Users   []Collaborator   `json:"users"`
	Cursors []CursorPosition `json:"cursors"`
}

// JoinedPayload is the body of a user_joined event.
type JoinedPayload struct {
	User   Collaborator    `json:"user"`
	Cursor *CursorPosition `json:"cursor"`
}

// LeftPayload is the body of a user_left event.
type LeftPayload struct {
	UserID string `json:"userId"`
}

// CursorUpdatePayload is the body of a cursor_update event.
type CursorUpdatePayload struct {
	UserID   string         `json:"userId"`
	Position CursorPosition `json:"position"`
}

// Event is a presence change delivered to per-document subscribers.
type Event struct {
	DocumentID string      `json:"documentId"`
	Type       EventType   `json:"type"`
	Payload    interface{} `json:"payload"`
}

// PushBroadcast asks the push-transport fan-out to deliver a presence
// change to every connection watching the document, except the acting
// user's own connections.
type PushBroadcast struct {
	DocumentID    string
	UserID        string
	Cursor        *Cursor
	Selection     *Selection
	EventType     EventType
	ExcludeUserID string
}

// PushFunc delivers a PushBroadcast over the push transport.
type PushFunc func(PushBroadcast)

// Package presence tracks which users are watching each document, their
// cursors and selections, and how many transport connections each user
// has open. All state lives in memory; durability is someone else's job.
package presence

import (
	"sync"
	"time"
)

// Status is a user's presence state within one document.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

const defaultGracePeriod = 30 * time.Second

// PresenceUser is the tracked state for one user in one document.
type PresenceUser struct {
	ID       string
	Name     string
	Avatar   string
	Color    string
	Status   Status
	Cursor   *Cursor
	LastSeen time.Time
}

// documentPresence holds per-document state. Created lazily on the
// first join or connection, deleted once both maps are empty.
type documentPresence struct {
	users       map[string]*PresenceUser
	connections map[string]int
}

// PushCursor is the raw cursor shape carried by push-transport presence
// updates. X is the linear position; Y is accepted and ignored.
type PushCursor struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PushSelection is the raw selection shape carried by push-transport
// presence updates.
type PushSelection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Config tunes the tracker's timers. Zero values mean 30s.
type Config struct {
	// DisconnectTimeout is the grace period between a user's last
	// connection closing and the user being marked offline.
	DisconnectTimeout time.Duration

	// CleanupTimeout is how long an offline user record lingers before
	// it is deleted.
	CleanupTimeout time.Duration
}

// Tracker is the presence state store. One instance serves every
// document; all mutation is serialized under a single mutex so reads
// and writes to a document's state never interleave.
type Tracker struct {
	mu      sync.Mutex
	docs    map[string]*documentPresence
	subs    map[string]map[int]chan Event
	nextSub int
	push    PushFunc
	relay   func(Event)

	timers          *scheduler
	disconnectAfter time.Duration
	cleanupAfter    time.Duration
	now             func() time.Time
}

// emission is an event decided under the lock and dispatched after it
// is released, so subscribers and broadcasters never run inside the
// critical section.
type emission struct {
	event *Event
	push  *PushBroadcast
}

// NewTracker creates a tracker with the given timer configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = defaultGracePeriod
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultGracePeriod
	}
	return &Tracker{
		docs:            make(map[string]*documentPresence),
		subs:            make(map[string]map[int]chan Event),
		timers:          newScheduler(),
		disconnectAfter: cfg.DisconnectTimeout,
		cleanupAfter:    cfg.CleanupTimeout,
		now:             time.Now,
	}
}

// SetPushBroadcaster wires the push-transport fan-out. Events sourced
// from the push transport itself are never delivered through it.
func (t *Tracker) SetPushBroadcaster(fn PushFunc) {
	t.mu.Lock()
	t.push = fn
	t.mu.Unlock()
}

// SetRelay wires an optional cross-instance event sink. Every emitted
// event is handed to it, regardless of source.
func (t *Tracker) SetRelay(fn func(Event)) {
	t.mu.Lock()
	t.relay = fn
	t.mu.Unlock()
}

// Subscribe returns a channel of presence events for a document and a
// function that cancels the subscription. Slow subscribers drop events
// rather than block the tracker.
func (t *Tracker) Subscribe(docID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	if t.subs[docID] == nil {
		t.subs[docID] = make(map[int]chan Event)
	}
	t.subs[docID][id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		if m := t.subs[docID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(t.subs, docID)
			}
		}
		t.mu.Unlock()
	}
}

// RegisterConnection records one more open transport for a user on a
// document and cancels any pending disconnect timer. Each call needs a
// matching UnregisterConnection.
func (t *Tracker) RegisterConnection(docID, userID string) {
	t.mu.Lock()
	dp := t.ensureDoc(docID)
	dp.connections[userID]++
	t.timers.cancel(timerKey{docID, userID, timerDisconnect})
	t.mu.Unlock()
}

// UnregisterConnection decrements the user's connection refcount. At
// zero it starts the disconnect grace timer instead of marking the user
// offline immediately.
func (t *Tracker) UnregisterConnection(docID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dp, ok := t.docs[docID]
	if !ok {
		return
	}
	current, ok := dp.connections[userID]
	if !ok {
		current = 1
	}
	current--
	if current <= 0 {
		delete(dp.connections, userID)
		t.scheduleDisconnect(docID, userID)
	} else {
		dp.connections[userID] = current
	}
}

// HandleDisconnect starts the disconnect grace timer for a user whose
// transport closed uncleanly.
func (t *Tracker) HandleDisconnect(docID, userID string) {
	t.mu.Lock()
	if _, ok := t.docs[docID]; ok {
		t.scheduleDisconnect(docID, userID)
	}
	t.mu.Unlock()
}

// JoinUser marks a user online in a document, emitting user_joined only
// if the user was not already online.
func (t *Tracker) JoinUser(docID string, info UserInfo, cursor *Cursor, src Source) {
	t.mu.Lock()
	dp := t.ensureDoc(docID)
	user, wasOnline := t.upsertUser(dp, info)
	if cursor != nil {
		user.Cursor = cursor
	}

	t.timers.cancel(timerKey{docID, user.ID, timerDisconnect})
	t.timers.cancel(timerKey{docID, user.ID, timerCleanup})

	var out []emission
	if !wasOnline {
		out = append(out, emission{event: &Event{
			DocumentID: docID,
			Type:       EventUserJoined,
			Payload:    JoinedPayload{User: toCollaborator(user), Cursor: toCursorPosition(user)},
		}})
	} else if cursor != nil {
		out = appendCursorEvent(out, docID, user)
	}
	out = append(out, pushEmission(docID, user, EventUserJoined, src))

	if dp.connections[user.ID] == 0 {
		t.scheduleDisconnect(docID, user.ID)
	}
	t.mu.Unlock()

	t.dispatch(out)
}

// LeaveUser marks a user offline, clears their cursor, emits user_left,
// and schedules removal of the record. No-op if already offline.
func (t *Tracker) LeaveUser(docID, userID string, src Source) {
	t.mu.Lock()
	out := t.leaveLocked(docID, userID, src)
	t.mu.Unlock()

	t.dispatch(out)
}

func (t *Tracker) leaveLocked(docID, userID string, src Source) []emission {
	dp, ok := t.docs[docID]
	if !ok {
		return nil
	}
	user, ok := dp.users[userID]
	if !ok || user.Status == StatusOffline {
		return nil
	}

	user.Status = StatusOffline
	user.Cursor = nil
	user.LastSeen = t.now()

	out := []emission{
		{event: &Event{DocumentID: docID, Type: EventUserLeft, Payload: LeftPayload{UserID: userID}}},
		pushEmission(docID, user, EventUserLeft, src),
	}

	t.timers.cancel(timerKey{docID, userID, timerDisconnect})
	t.scheduleCleanup(docID, userID)
	return out
}

// UpdateCursor records a user's cursor and marks them online. A cursor
// update from an unknown or offline user counts as a join.
func (t *Tracker) UpdateCursor(docID string, info UserInfo, cursor Cursor, src Source) {
	t.mu.Lock()
	dp := t.ensureDoc(docID)
	user, wasOnline := t.upsertUser(dp, info)
	user.Cursor = &cursor
	user.LastSeen = t.now()
	user.Status = StatusOnline

	t.timers.cancel(timerKey{docID, user.ID, timerDisconnect})
	t.timers.cancel(timerKey{docID, user.ID, timerCleanup})

	var out []emission
	if !wasOnline {
		out = append(out, emission{event: &Event{
			DocumentID: docID,
			Type:       EventUserJoined,
			Payload:    JoinedPayload{User: toCollaborator(user), Cursor: toCursorPosition(user)},
		}})
	}
	out = appendCursorEvent(out, docID, user)
	out = append(out, pushEmission(docID, user, EventCursorUpdate, src))

	if dp.connections[user.ID] == 0 {
		t.scheduleDisconnect(docID, user.ID)
	}
	t.mu.Unlock()

	t.dispatch(out)
}

// UpdateSelection normalizes a selection into the cursor shape. The
// cursor position is the selection head (`to`); the anchor survives
// only inside the range.
func (t *Tracker) UpdateSelection(docID string, info UserInfo, sel Selection, src Source) {
	t.UpdateCursor(docID, info, Cursor{Position: sel.To, Range: &sel}, src)
}

// HandlePushUpdate translates a raw push-transport presence payload
// into a cursor or selection update sourced from the push transport.
func (t *Tracker) HandlePushUpdate(docID string, info UserInfo, cursor *PushCursor, sel *PushSelection) {
	if sel != nil {
		t.UpdateSelection(docID, info, Selection{From: sel.Anchor, To: sel.Head}, SourceWS)
		return
	}
	if cursor != nil {
		t.UpdateCursor(docID, info, Cursor{Position: cursor.X}, SourceWS)
	}
}

// GetSnapshot returns the online users and their cursors for a
// document, used to hydrate a newly subscribed viewer.
func (t *Tracker) GetSnapshot(docID string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{Users: []Collaborator{}, Cursors: []CursorPosition{}}
	dp, ok := t.docs[docID]
	if !ok {
		return snap
	}
	for _, user := range dp.users {
		if user.Status != StatusOnline {
			continue
		}
		snap.Users = append(snap.Users, toCollaborator(user))
		if cp := toCursorPosition(user); cp != nil {
			snap.Cursors = append(snap.Cursors, *cp)
		}
	}
	return snap
}

// ConnectionCount returns the open-transport refcount for a user.
func (t *Tracker) ConnectionCount(docID, userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dp, ok := t.docs[docID]; ok {
		return dp.connections[userID]
	}
	return 0
}

// IsOnline reports whether a user is currently marked online.
func (t *Tracker) IsOnline(docID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dp, ok := t.docs[docID]; ok {
		if u, ok := dp.users[userID]; ok {
			return u.Status == StatusOnline
		}
	}
	return false
}

// DeliverRemote forwards an event produced by another instance to local
// subscribers. It never mutates presence state, so relayed traffic
// cannot double-count connections or re-arm timers.
func (t *Tracker) DeliverRemote(ev Event) {
	t.deliver(ev)
}

func (t *Tracker) ensureDoc(docID string) *documentPresence {
	dp, ok := t.docs[docID]
	if !ok {
		dp = &documentPresence{
			users:       make(map[string]*PresenceUser),
			connections: make(map[string]int),
		}
		t.docs[docID] = dp
	}
	return dp
}

// upsertUser creates or revives a user record, keeping prior name,
// avatar, color, and cursor when the new info omits them.
func (t *Tracker) upsertUser(dp *documentPresence, info UserInfo) (*PresenceUser, bool) {
	existing := dp.users[info.ID]
	wasOnline := existing != nil && existing.Status == StatusOnline

	user := &PresenceUser{
		ID:       info.ID,
		Name:     info.Name,
		Avatar:   info.Avatar,
		Color:    PickColor(info.ID),
		Status:   StatusOnline,
		LastSeen: t.now(),
	}
	if existing != nil {
		if user.Name == "" {
			user.Name = existing.Name
		}
		if user.Avatar == "" {
			user.Avatar = existing.Avatar
		}
		user.Cursor = existing.Cursor
	}
	if user.Name == "" {
		user.Name = "Anonymous"
	}
	dp.users[info.ID] = user
	return user, wasOnline
}

// scheduleDisconnect arms the grace timer. When it fires, the user is
// marked offline only if they still have zero connections and are still
// online; anything else makes the fire a no-op.
func (t *Tracker) scheduleDisconnect(docID, userID string) {
	t.timers.schedule(timerKey{docID, userID, timerDisconnect}, t.disconnectAfter, func() {
		t.mu.Lock()
		dp, ok := t.docs[docID]
		if !ok {
			t.mu.Unlock()
			return
		}
		if dp.connections[userID] > 0 {
			t.mu.Unlock()
			return
		}
		user, ok := dp.users[userID]
		if !ok || user.Status == StatusOffline {
			t.mu.Unlock()
			return
		}
		out := t.leaveLocked(docID, userID, SourceTimeout)
		t.mu.Unlock()

		t.dispatch(out)
	})
}

// scheduleCleanup arms removal of an offline user record. The whole
// document entry is dropped once no users and no connections remain.
func (t *Tracker) scheduleCleanup(docID, userID string) {
	t.timers.schedule(timerKey{docID, userID, timerCleanup}, t.cleanupAfter, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		dp, ok := t.docs[docID]
		if !ok {
			return
		}
		user, ok := dp.users[userID]
		if !ok || user.Status == StatusOnline {
			return
		}
		if dp.connections[userID] > 0 {
			return
		}
		delete(dp.users, userID)
		if len(dp.users) == 0 && len(dp.connections) == 0 {
			delete(t.docs, docID)
		}
	})
}

// pushEmission builds the push-transport tee for an event, suppressing
// anything that originated on the push transport itself: the origin
// connection already has the data and rebroadcasting would echo.
func pushEmission(docID string, user *PresenceUser, typ EventType, src Source) emission {
	if src == SourceWS {
		return emission{}
	}
	var sel *Selection
	if user.Cursor != nil {
		sel = user.Cursor.Range
	}
	return emission{push: &PushBroadcast{
		DocumentID:    docID,
		UserID:        user.ID,
		Cursor:        user.Cursor,
		Selection:     sel,
		EventType:     typ,
		ExcludeUserID: user.ID,
	}}
}

func appendCursorEvent(out []emission, docID string, user *PresenceUser) []emission {
	cp := toCursorPosition(user)
	if cp == nil {
		return out
	}
	return append(out, emission{event: &Event{
		DocumentID: docID,
		Type:       EventCursorUpdate,
		Payload:    CursorUpdatePayload{UserID: user.ID, Position: *cp},
	}})
}

func (t *Tracker) dispatch(ems []emission) {
	t.mu.Lock()
	push := t.push
	relay := t.relay
	t.mu.Unlock()

	for _, em := range ems {
		if em.event != nil {
			t.deliver(*em.event)
			if relay != nil {
				relay(*em.event)
			}
		}
		if em.push != nil && push != nil {
			push(*em.push)
		}
	}
}

func (t *Tracker) deliver(ev Event) {
	t.mu.Lock()
	channels := make([]chan Event, 0, len(t.subs[ev.DocumentID]))
	for _, ch := range t.subs[ev.DocumentID] {
		channels = append(channels, ch)
	}
	t.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
			// Subscriber too slow, drop event.
		}
	}
}

func toCollaborator(user *PresenceUser) Collaborator {
	return Collaborator{ID: user.ID, Name: user.Name, Avatar: user.Avatar, Color: user.Color}
}

func toCursorPosition(user *PresenceUser) *CursorPosition {
	if user.Cursor == nil {
		return nil
	}
	return &CursorPosition{UserID: user.ID, Position: user.Cursor.Position, Range: user.Cursor.Range}
}

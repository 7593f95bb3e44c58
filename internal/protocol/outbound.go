package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"collabtext/internal/store"
)

// Outbound type names. Edits and cursor moves go out under the same names
// they come in with.
const (
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeVersionSaved = "version_saved"
	TypeSuggestion   = "ai_suggestion"
	TypeError        = "error"
	TypeEvicted      = "session_evicted"
)

// TimestampLayout formats version timestamps on the wire.
const TimestampLayout = "2006-01-02 15:04:05"

// InvalidJSON is the notice text sent for frames that are not JSON objects.
const InvalidJSON = "Invalid JSON format"

type PresenceEvent struct {
	Type     string       `json:"type"`
	Username string       `json:"username"`
	UserID   store.UserID `json:"user_id"`
}

type EditEvent struct {
	Type           string       `json:"type"`
	Content        string       `json:"content"`
	CursorPosition int          `json:"cursor_position"`
	UserID         store.UserID `json:"user_id"`
	Username       string       `json:"username"`
}

type CursorEvent struct {
	Type           string       `json:"type"`
	CursorPosition int          `json:"cursor_position"`
	UserID         store.UserID `json:"user_id"`
	Username       string       `json:"username"`
}

// VersionSavedEvent is broadcast to the room.
type VersionSavedEvent struct {
	Type          string       `json:"type"`
	VersionNumber int          `json:"version_number"`
	UserID        store.UserID `json:"user_id"`
	Username      string       `json:"username"`
	Timestamp     string       `json:"timestamp"`
}

// VersionSavedAck goes only to the connection that asked for the save.
type VersionSavedAck struct {
	Type          string `json:"type"`
	VersionNumber int    `json:"version_number"`
	Timestamp     string `json:"timestamp"`
}

type SuggestionReply struct {
	Type         string   `json:"type"`
	Suggestion   []string `json:"suggestion"`
	OriginalText string   `json:"original_text"`
}

type ErrorNotice struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// EvictionNotice travels on the room channel only. Every server replica
// closes the named user's connections to the room and never forwards the
// notice to clients.
type EvictionNotice struct {
	Type   string       `json:"type"`
	UserID store.UserID `json:"user_id"`
}

func Eviction(id store.UserID) EvictionNotice {
	return EvictionNotice{Type: TypeEvicted, UserID: id}
}

var evictionPrefix = []byte(`{"type":"` + TypeEvicted + `"`)

// ParseEviction reports whether raw is an encoded EvictionNotice and, if so,
// whose connections it targets.
func ParseEviction(raw []byte) (store.UserID, bool) {
	if !bytes.HasPrefix(raw, evictionPrefix) {
		return 0, false
	}
	var n EvictionNotice
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n.UserID, true
}

func UserJoined(u store.User) PresenceEvent {
	return PresenceEvent{Type: TypeUserJoined, Username: u.Username, UserID: u.ID}
}

func UserLeft(u store.User) PresenceEvent {
	return PresenceEvent{Type: TypeUserLeft, Username: u.Username, UserID: u.ID}
}

func EditBroadcast(u store.User, e Edit) EditEvent {
	return EditEvent{Type: TypeEdit, Content: e.Content, CursorPosition: e.CursorPosition, UserID: u.ID, Username: u.Username}
}

func CursorBroadcast(u store.User, c CursorMove) CursorEvent {
	return CursorEvent{Type: TypeCursorMove, CursorPosition: c.CursorPosition, UserID: u.ID, Username: u.Username}
}

func VersionSaved(u store.User, v store.Version) VersionSavedEvent {
	return VersionSavedEvent{
		Type:          TypeVersionSaved,
		VersionNumber: v.Number,
		UserID:        u.ID,
		Username:      u.Username,
		Timestamp:     FormatTimestamp(v.CreatedAt),
	}
}

func VersionAck(v store.Version) VersionSavedAck {
	return VersionSavedAck{Type: TypeVersionSaved, VersionNumber: v.Number, Timestamp: FormatTimestamp(v.CreatedAt)}
}

func Suggestions(text string, hints []string) SuggestionReply {
	if hints == nil {
		hints = []string{}
	}
	return SuggestionReply{Type: TypeSuggestion, Suggestion: hints, OriginalText: text}
}

func Error(msg string) ErrorNotice {
	return ErrorNotice{Type: TypeError, Error: msg}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Encode marshals an outbound event.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

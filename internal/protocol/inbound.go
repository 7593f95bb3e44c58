// Package protocol is the JSON wire format spoken on a document socket.
//
// Every message is one JSON object with a "type" discriminator. Inbound
// messages decode into one of a closed set of Go types; a missing type means
// an edit.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed means the body is not a JSON object. The sender gets an
	// error notice.
	ErrMalformed = errors.New("malformed message")
	// ErrInvalidPayload means required fields are missing or have the wrong
	// type. The message is dropped without a reply.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Inbound type names.
const (
	TypeEdit              = "edit"
	TypeCursorMove        = "cursor_move"
	TypeSaveVersion       = "save_version"
	TypeSuggestionRequest = "ai_suggestion_request"
)

// Kind enumerates inbound message kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindEdit
	KindCursorMove
	KindSaveVersion
	KindSuggestionRequest
)

func (k Kind) String() string {
	switch k {
	case KindEdit:
		return TypeEdit
	case KindCursorMove:
		return TypeCursorMove
	case KindSaveVersion:
		return TypeSaveVersion
	case KindSuggestionRequest:
		return TypeSuggestionRequest
	default:
		return "unknown"
	}
}

// Message is an inbound message. The concrete type is one of Edit,
// CursorMove, SaveVersion, SuggestionRequest or Unknown.
type Message interface {
	Kind() Kind
}

type Edit struct {
	Content        string
	CursorPosition int
}

type CursorMove struct {
	CursorPosition int
}

type SaveVersion struct {
	Content string
}

type SuggestionRequest struct {
	Text string
}

// Unknown carries an unrecognized type name. It is ignored.
type Unknown struct {
	Type string
}

func (Edit) Kind() Kind              { return KindEdit }
func (CursorMove) Kind() Kind        { return KindCursorMove }
func (SaveVersion) Kind() Kind       { return KindSaveVersion }
func (SuggestionRequest) Kind() Kind { return KindSuggestionRequest }
func (Unknown) Kind() Kind           { return KindUnknown }

// Decode parses one inbound frame. It returns an error wrapping ErrMalformed
// or ErrInvalidPayload.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	typ := TypeEdit
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return nil, fmt.Errorf("%w: type: %v", ErrInvalidPayload, err)
		}
	}

	switch typ {
	case TypeEdit:
		var p struct {
			Content        *string `json:"content"`
			CursorPosition *int    `json:"cursor_position"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Content == nil {
			return nil, fmt.Errorf("%w: edit without content", ErrInvalidPayload)
		}
		return Edit{Content: *p.Content, CursorPosition: deref(p.CursorPosition)}, nil

	case TypeCursorMove:
		var p struct {
			CursorPosition *int `json:"cursor_position"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return CursorMove{CursorPosition: deref(p.CursorPosition)}, nil

	case TypeSaveVersion:
		var p struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Content == nil {
			return nil, fmt.Errorf("%w: save_version without content", ErrInvalidPayload)
		}
		return SaveVersion{Content: *p.Content}, nil

	case TypeSuggestionRequest:
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return SuggestionRequest{Text: p.Text}, nil
	}
	return Unknown{Type: typ}, nil
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

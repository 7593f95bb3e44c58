package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collabtext/internal/protocol"
	"collabtext/internal/store"
	"collabtext/internal/versioning"
)

// dispatch handles one inbound frame. A returned error concerns this frame
// only; the connection stays joined.
func (c *Connection) dispatch(ctx context.Context, data []byte) error {
	msg, err := protocol.Decode(data)
	if errors.Is(err, protocol.ErrMalformed) {
		if rerr := c.reply(protocol.Error(protocol.InvalidJSON)); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	if err != nil {
		return err
	}

	c.log.Debug().Stringer("kind", msg.Kind()).Msg("received message")
	switch m := msg.(type) {
	case protocol.Edit:
		return c.handleEdit(ctx, m)
	case protocol.CursorMove:
		return c.handleCursorMove(ctx, m)
	case protocol.SaveVersion:
		return c.handleSaveVersion(ctx, m)
	case protocol.SuggestionRequest:
		return c.handleSuggestionRequest(m)
	case protocol.Unknown:
		c.log.Debug().Str("type", m.Type).Msg("ignoring unknown message type")
	}
	return nil
}

// handleEdit persists the content, possibly records a version, and relays
// the edit to the room. The relay happens even when persisting failed.
func (c *Connection) handleEdit(ctx context.Context, m protocol.Edit) error {
	_, saveErr := c.engine.saveEdit(ctx, c.user, c.doc, m.Content)
	if saveErr != nil {
		saveErr = fmt.Errorf("save edit: %w", saveErr)
	}
	pubErr := c.engine.publish(ctx, c.doc, protocol.EditBroadcast(c.user, m))
	return errors.Join(saveErr, pubErr)
}

func (c *Connection) handleCursorMove(ctx context.Context, m protocol.CursorMove) error {
	return c.engine.publish(ctx, c.doc, protocol.CursorBroadcast(c.user, m))
}

// handleSaveVersion always records a version. The room hears about it and
// the saver gets its own acknowledgment; on failure nobody hears anything.
func (c *Connection) handleSaveVersion(ctx context.Context, m protocol.SaveVersion) error {
	v, err := c.engine.saveVersion(ctx, c.user, c.doc, m.Content)
	if err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	pubErr := c.engine.publish(ctx, c.doc, protocol.VersionSaved(c.user, v))
	return errors.Join(pubErr, c.reply(protocol.VersionAck(v)))
}

// SaveVersion records a version outside any connection, as the HTTP API
// does, and announces it to the room. Numbering is shared with the
// websocket path. A non-nil error with a numbered version means only the
// announcement failed.
func (e *Engine) SaveVersion(ctx context.Context, user store.User, doc store.DocumentID, content string) (store.Version, error) {
	v, err := e.saveVersion(ctx, user, doc, content)
	if err != nil {
		return store.Version{}, err
	}
	return v, e.publish(ctx, doc, protocol.VersionSaved(user, v))
}

func (c *Connection) handleSuggestionRequest(m protocol.SuggestionRequest) error {
	hints := c.engine.suggester.Suggest(m.Text)
	c.log.Debug().Int("hints", len(hints)).Int("text_length", len(m.Text)).Msg("generated suggestions")
	return c.reply(protocol.Suggestions(m.Text, hints))
}

// saveEdit writes content and, when it changed, asks the versioning policy
// whether to record a version. It returns the new version, if any.
func (e *Engine) saveEdit(ctx context.Context, user store.User, doc store.DocumentID, content string) (*store.Version, error) {
	changed, err := e.store.UpdateContent(ctx, doc, content)
	if err != nil || !changed {
		return nil, err
	}

	now := e.now()
	hasPrior := true
	var elapsed time.Duration
	latest, err := e.store.LatestVersion(ctx, doc)
	switch {
	case errors.Is(err, store.ErrNoVersion):
		hasPrior = false
	case err != nil:
		return nil, err
	default:
		elapsed = now.Sub(latest.CreatedAt)
	}
	if !versioning.ShouldVersion(versioning.Length(content), hasPrior, elapsed) {
		return nil, nil
	}

	v, err := e.store.CreateVersion(ctx, doc, content, user, now)
	if err != nil {
		return nil, err
	}
	e.log.Info().
		Str("doc_id", string(doc)).
		Int("version", v.Number).
		Str("username", user.Username).
		Msg("created version")
	return &v, nil
}

// saveVersion writes content and records a version unconditionally. No
// version is created when the content write fails.
func (e *Engine) saveVersion(ctx context.Context, user store.User, doc store.DocumentID, content string) (store.Version, error) {
	if _, err := e.store.UpdateContent(ctx, doc, content); err != nil {
		return store.Version{}, err
	}
	v, err := e.store.CreateVersion(ctx, doc, content, user, e.now())
	if err != nil {
		return store.Version{}, err
	}
	e.log.Info().
		Str("doc_id", string(doc)).
		Int("version", v.Number).
		Str("username", user.Username).
		Msg("manually created version")
	return v, nil
}

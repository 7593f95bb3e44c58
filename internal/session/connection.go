package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabtext/internal/protocol"
	"collabtext/internal/room"
	"collabtext/internal/store"
)

// CloseAccessDenied is the websocket close code sent to rejected clients.
const CloseAccessDenied = 4003

// privateBuffer bounds replies queued for the writer (acks, errors, hints).
const privateBuffer = 16

// Transport is the client socket. *websocket.Conn satisfies it. Reads happen
// on the serving goroutine and writes on the connection's writer goroutine,
// one of each at a time.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Connection is one client session on one document. The same user in two
// tabs is two connections with distinct handles.
type Connection struct {
	engine *Engine
	t      Transport
	user   store.User
	doc    store.DocumentID
	handle string
	log    zerolog.Logger

	state   atomic.Int32
	sub     room.Subscription
	private chan []byte
	done    chan struct{} // closed to stop the writer
	written chan struct{} // closed when the writer has returned
	beat    chan struct{} // closed to stop the presence heartbeat
	beaten  chan struct{} // closed when the heartbeat has returned

	closeOnce sync.Once
	leaveOnce sync.Once
}

func newConnection(e *Engine, t Transport, user store.User, doc store.DocumentID, handle string) *Connection {
	c := &Connection{
		engine:  e,
		t:       t,
		user:    user,
		doc:     doc,
		handle:  handle,
		private: make(chan []byte, privateBuffer),
		done:    make(chan struct{}),
		written: make(chan struct{}),
		beat:    make(chan struct{}),
		beaten:  make(chan struct{}),
	}
	c.log = e.log.With().
		Str("doc_id", string(doc)).
		Int64("user_id", int64(user.ID)).
		Str("username", user.Username).
		Str("conn", handle).
		Logger()
	return c
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

func (c *Connection) info() Info {
	return Info{Handle: c.handle, User: c.user, DocumentID: c.doc, State: c.State()}
}

// forceClose closes the socket; the read loop then exits and runs cleanup.
func (c *Connection) forceClose() {
	c.closeOnce.Do(func() { c.t.Close() })
}

// authorize moves Connecting -> Authorized, or closes the connection.
func (c *Connection) authorize(ctx context.Context) error {
	c.log.Info().Msg("user attempting to connect")
	ok, err := c.engine.policy.CanJoin(ctx, c.user, c.doc)
	if err == nil && ok {
		c.setState(StateAuthorized)
		return nil
	}

	c.setState(StateClosing)
	if err != nil {
		c.log.Error().Err(err).Msg("access check failed")
		err = fmt.Errorf("%w: %v", ErrAccessDenied, err)
	} else {
		c.log.Warn().Msg("user denied access")
		err = ErrAccessDenied
	}
	c.t.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseAccessDenied, "access denied"))
	c.forceClose()
	c.setState(StateClosed)
	return err
}

// join moves Authorized -> Joined: presence entry, room subscription, then
// the user_joined broadcast, which this connection also receives.
func (c *Connection) join(ctx context.Context) error {
	fail := func(err error) error {
		c.setState(StateClosing)
		c.forceClose()
		c.setState(StateClosed)
		return err
	}

	if err := c.engine.presence.Add(ctx, c.doc, c.user, c.handle); err != nil {
		c.log.Error().Err(err).Msg("add presence")
		return fail(fmt.Errorf("add presence: %w", err))
	}
	sub, err := c.engine.group.Subscribe(ctx, c.doc)
	if err != nil {
		c.log.Error().Err(err).Msg("join room")
		if err := c.engine.presence.Remove(context.WithoutCancel(ctx), c.doc, c.user, c.handle); err != nil {
			c.log.Error().Err(err).Msg("remove presence")
		}
		return fail(fmt.Errorf("join room: %w", err))
	}
	c.sub = sub
	c.setState(StateJoined)
	go c.writePump()
	go c.heartbeat(context.WithoutCancel(ctx))

	if err := c.engine.publish(ctx, c.doc, protocol.UserJoined(c.user)); err != nil {
		c.log.Error().Err(err).Msg("announce join")
	}
	c.log.Info().Msg("user connected")
	return nil
}

// leave moves Joined -> Closing -> Closed exactly once.
func (c *Connection) leave(ctx context.Context) {
	c.leaveOnce.Do(func() {
		c.setState(StateClosing)

		// Stop refreshing first so a late refresh cannot revive the entry.
		close(c.beat)
		<-c.beaten
		if err := c.engine.presence.Remove(ctx, c.doc, c.user, c.handle); err != nil {
			c.log.Error().Err(err).Msg("remove presence")
		}
		if err := c.sub.Close(); err != nil {
			c.log.Error().Err(err).Msg("leave room")
		}
		if err := c.engine.publish(ctx, c.doc, protocol.UserLeft(c.user)); err != nil {
			c.log.Error().Err(err).Msg("announce leave")
		}

		close(c.done)
		c.forceClose()
		<-c.written
		c.setState(StateClosed)
		c.log.Info().Msg("user disconnected")
	})
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.t.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("read loop finished")
			return
		}
		if err := c.dispatch(ctx, data); err != nil {
			c.logFailure(err)
		}
	}
}

func (c *Connection) logFailure(err error) {
	switch {
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrInvalidPayload):
		c.log.Warn().Err(err).Msg("message rejected")
	case errors.Is(err, store.ErrNotFound):
		c.log.Warn().Err(err).Msg("document gone")
	default:
		c.log.Error().Err(err).Msg("message failed")
	}
}

// heartbeat keeps the presence entry alive while the connection is joined.
func (c *Connection) heartbeat(ctx context.Context) {
	defer close(c.beaten)
	ticker := time.NewTicker(c.engine.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.engine.presence.Refresh(ctx, c.doc, c.user, c.handle); err != nil {
				c.log.Warn().Err(err).Msg("refresh presence")
			}
		case <-c.beat:
			return
		}
	}
}

// writePump owns all writes to the socket: room broadcasts and private
// replies.
func (c *Connection) writePump() {
	defer close(c.written)
	msgs := c.sub.Messages()
	for {
		var raw []byte
		select {
		case raw = <-c.private:
		case m, ok := <-msgs:
			if !ok {
				// Closed by leave, or dropped for falling behind.
				c.forceClose()
				return
			}
			if id, ok := protocol.ParseEviction(m); ok {
				if id == c.user.ID {
					c.log.Info().Msg("evicted")
					c.forceClose()
					return
				}
				continue
			}
			raw = m
		case <-c.done:
			return
		}
		if err := c.t.WriteMessage(websocket.TextMessage, raw); err != nil {
			c.log.Debug().Err(err).Msg("write failed")
			c.forceClose()
			return
		}
	}
}

// reply queues an event for this connection only.
func (c *Connection) reply(event any) error {
	raw, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	select {
	case c.private <- raw:
		return nil
	case <-c.written:
		return errors.New("connection closed")
	}
}

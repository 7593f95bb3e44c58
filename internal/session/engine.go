// Package session runs document rooms: it authorizes each connection, records
// presence, subscribes it to the room's broadcast group, dispatches its
// messages and cleans up after it.
//
// Each connection is served on its own goroutine and handles its messages one
// at a time, in arrival order. Different connections, on the same document or
// not, run concurrently. The engine holds no document content; every edit
// round-trips through the store.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"collabtext/internal/access"
	"collabtext/internal/presence"
	"collabtext/internal/protocol"
	"collabtext/internal/room"
	"collabtext/internal/store"
	"collabtext/internal/suggest"
)

// Config wires the engine to its collaborators.
type Config struct {
	Store     store.Store
	Policy    access.Policy
	Presence  presence.Tracker
	Group     room.Group
	Suggester suggest.Suggester
	Logger    zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// PresenceRefresh is how often joined connections refresh their presence
	// entry. Defaults to presence.RefreshInterval.
	PresenceRefresh time.Duration
}

// Engine serves connections. It is safe for concurrent use.
type Engine struct {
	store     store.Store
	policy    access.Policy
	presence  presence.Tracker
	group     room.Group
	suggester suggest.Suggester
	log       zerolog.Logger
	now       func() time.Time
	refresh   time.Duration

	mu       sync.Mutex
	conns    map[string]*Connection // by handle
	shutdown bool
	active   sync.WaitGroup
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:     cfg.Store,
		policy:    cfg.Policy,
		presence:  cfg.Presence,
		group:     cfg.Group,
		suggester: cfg.Suggester,
		log:       cfg.Logger,
		now:       cfg.Now,
		refresh:   cfg.PresenceRefresh,
		conns:     make(map[string]*Connection),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.refresh <= 0 {
		e.refresh = presence.RefreshInterval
	}
	if e.suggester == nil {
		e.suggester = suggest.Rules{}
	}
	return e
}

// Serve runs one connection for user on doc until the client disconnects,
// the connection is closed by Evict or Shutdown, or ctx is cancelled. It
// returns ErrAccessDenied when the policy rejects the user, and nil after a
// normal disconnect.
func (e *Engine) Serve(ctx context.Context, t Transport, user store.User, doc store.DocumentID) error {
	c := newConnection(e, t, user, doc, uuid.NewString())
	if !e.track(c) {
		t.Close()
		return ErrShuttingDown
	}
	defer e.untrack(c)

	if err := c.authorize(ctx); err != nil {
		return err
	}
	if err := c.join(ctx); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, c.forceClose)
	defer stop()

	c.readLoop(ctx)
	c.leave(context.WithoutCancel(ctx))
	return nil
}

func (e *Engine) track(c *Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return false
	}
	e.conns[c.handle] = c
	e.active.Add(1)
	return true
}

func (e *Engine) untrack(c *Connection) {
	e.mu.Lock()
	delete(e.conns, c.handle)
	e.mu.Unlock()
	e.active.Done()
}

// Info describes a live connection.
type Info struct {
	Handle     string
	User       store.User
	DocumentID store.DocumentID
	State      State
}

// Connections lists the connections currently served by this engine.
func (e *Engine) Connections() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Info, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c.info())
	}
	return out
}

// Evict force-closes every connection userID holds on doc and returns how
// many were closed. Each one still goes through full cleanup.
func (e *Engine) Evict(doc store.DocumentID, userID store.UserID) int {
	e.mu.Lock()
	var victims []*Connection
	for _, c := range e.conns {
		if c.doc == doc && c.user.ID == userID {
			victims = append(victims, c)
		}
	}
	e.mu.Unlock()

	for _, c := range victims {
		c.forceClose()
	}
	return len(victims)
}

// Revoke evicts userID from doc on every server replica sharing the
// broadcast group: it closes the local connections and publishes an
// eviction notice that the other replicas act on. It returns the number of
// local connections closed.
func (e *Engine) Revoke(ctx context.Context, doc store.DocumentID, userID store.UserID) (int, error) {
	n := e.Evict(doc, userID)
	if err := e.publish(ctx, doc, protocol.Eviction(userID)); err != nil {
		return n, fmt.Errorf("revoke: %w", err)
	}
	return n, nil
}

// Shutdown refuses new connections, force-closes the live ones and waits for
// their cleanup to finish or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.forceClose()
	}

	done := make(chan struct{})
	go func() {
		e.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) publish(ctx context.Context, doc store.DocumentID, event any) error {
	raw, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	if err := e.group.Publish(ctx, doc, raw); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

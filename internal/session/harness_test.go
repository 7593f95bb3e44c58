package session

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"collabtext/internal/access"
	"collabtext/internal/presence"
	"collabtext/internal/room"
	"collabtext/internal/store"
)

var (
	alice   = store.User{ID: 1, Username: "alice"}
	bob     = store.User{ID: 2, Username: "bob"}
	carol   = store.User{ID: 3, Username: "carol"}
	mallory = store.User{ID: 66, Username: "mallory"}
)

const waitFor = 2 * time.Second

// fakeConn is an in-memory Transport. Frames pushed on in are read by the
// engine; frames the engine writes land on out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closeFrame []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-f.closed:
		return 0, nil, net.ErrClosed
	default:
	}
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	if messageType == websocket.CloseMessage {
		f.mu.Lock()
		f.closeFrame = data
		f.mu.Unlock()
		return nil
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sentCloseFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeFrame
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *store.Memory
	presence *presence.Memory
	rooms    *room.Registry
	clock    *fakeClock
	engine   *Engine
	doc      store.Document
}

// newHarness builds an engine over in-memory collaborators and one private
// document owned by alice with bob and carol as collaborators.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets tweak adjust the engine configuration before the
// engine is built.
func newHarnessWith(t *testing.T, tweak func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    store.NewMemory(),
		presence: presence.NewMemory(),
		rooms:    room.NewRegistry(zerolog.Nop()),
		clock:    &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	doc, err := h.store.CreateDocument(ctx, store.Document{
		Title:         "shared",
		Owner:         alice,
		Collaborators: []store.User{bob, carol},
	})
	require.NoError(t, err)
	h.doc = doc
	h.engine = New(h.config(tweak))
	return h
}

func (h *harness) config(tweak func(*Config)) Config {
	cfg := Config{
		Store:    h.store,
		Policy:   access.NewDocumentPolicy(h.store),
		Presence: h.presence,
		Group:    h.rooms,
		Logger:   zerolog.Nop(),
		Now:      h.clock.Now,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	return cfg
}

type client struct {
	t    *testing.T
	user store.User
	conn *fakeConn
	done chan error
}

func (h *harness) connect(user store.User) *client {
	return h.connectTo(h.engine, user)
}

func (h *harness) connectTo(e *Engine, user store.User) *client {
	c := &client{t: h.t, user: user, conn: newFakeConn(), done: make(chan error, 1)}
	go func() { c.done <- e.Serve(h.ctx, c.conn, user, h.doc.ID) }()
	return c
}

// join connects user and waits for its own user_joined echo.
func (h *harness) join(user store.User) *client {
	c := h.connect(user)
	c.expectPresence("user_joined", user)
	return c
}

func (c *client) sendRaw(s string) {
	c.conn.in <- []byte(s)
}

func (c *client) send(v any) {
	raw, err := json.Marshal(v)
	require.NoError(c.t, err)
	c.conn.in <- raw
}

func (c *client) next() map[string]any {
	c.t.Helper()
	select {
	case raw := <-c.conn.out:
		var m map[string]any
		require.NoError(c.t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(waitFor):
		c.t.Fatalf("%s: timed out waiting for a message", c.user.Username)
		return nil
	}
}

func (c *client) expect(typ string) map[string]any {
	c.t.Helper()
	m := c.next()
	require.Equal(c.t, typ, m["type"], "%s got %v", c.user.Username, m)
	return m
}

func (c *client) expectPresence(typ string, who store.User) {
	c.t.Helper()
	m := c.expect(typ)
	require.Equal(c.t, who.Username, m["username"])
	require.Equal(c.t, float64(who.ID), m["user_id"])
}

func (c *client) expectNothing() {
	c.t.Helper()
	select {
	case raw := <-c.conn.out:
		c.t.Fatalf("%s: unexpected message %s", c.user.Username, raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// disconnect closes the client side and waits for Serve to return.
func (c *client) disconnect() error {
	c.t.Helper()
	close(c.conn.in)
	return c.wait()
}

func (c *client) wait() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(waitFor):
		c.t.Fatalf("%s: Serve did not return", c.user.Username)
		return nil
	}
}

package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"collabtext/internal/store"
)

// DefaultBuffer is how many undelivered messages a subscriber may queue
// before it is dropped.
const DefaultBuffer = 256

type client struct {
	reg    *Registry
	doc    store.DocumentID
	send   chan []byte
	closed bool // guarded by reg.mu
}

func (c *client) Messages() <-chan []byte { return c.send }

func (c *client) Close() error {
	c.reg.unregister(c)
	return nil
}

// hub is the membership list of one room.
type hub struct {
	clients map[*client]bool
}

// Registry is the in-process Group. A room is created by its first
// subscriber and removed with its last one; it has no other state.
type Registry struct {
	mu     sync.Mutex
	rooms  map[store.DocumentID]*hub
	buffer int
	log    zerolog.Logger
}

var _ Group = (*Registry)(nil)

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[store.DocumentID]*hub),
		buffer: DefaultBuffer,
		log:    log,
	}
}

// WithBuffer sets the per-subscriber queue length. Call before use.
func (r *Registry) WithBuffer(n int) *Registry {
	r.buffer = n
	return r
}

func (r *Registry) Subscribe(_ context.Context, doc store.DocumentID) (Subscription, error) {
	c := &client{reg: r, doc: doc, send: make(chan []byte, r.buffer)}

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.rooms[doc]
	if !ok {
		h = &hub{clients: make(map[*client]bool)}
		r.rooms[doc] = h
		r.log.Debug().Str("doc_id", string(doc)).Msg("room created")
	}
	h.clients[c] = true
	return c, nil
}

// Publish queues msg for every subscriber of doc. A subscriber whose queue
// is full is dropped: its Messages channel is closed.
func (r *Registry) Publish(_ context.Context, doc store.DocumentID, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.rooms[doc]
	if !ok {
		return nil
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			r.log.Warn().Str("doc_id", string(doc)).Msg("dropping slow subscriber")
			r.removeLocked(h, c)
		}
	}
	return nil
}

func (r *Registry) unregister(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.rooms[c.doc]; ok {
		r.removeLocked(h, c)
	}
}

func (r *Registry) removeLocked(h *hub, c *client) {
	if c.closed {
		return
	}
	c.closed = true
	delete(h.clients, c)
	close(c.send)
	if len(h.clients) == 0 {
		delete(r.rooms, c.doc)
		r.log.Debug().Str("doc_id", string(c.doc)).Msg("room removed")
	}
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Members returns the number of subscribers of doc.
func (r *Registry) Members(doc store.DocumentID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.rooms[doc]; ok {
		return len(h.clients)
	}
	return 0
}

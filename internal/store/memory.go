package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memDocument struct {
	mu       sync.Mutex // serializes content writes and version numbering
	doc      Document
	versions []Version // oldest first
}

// Memory is an in-process Store. Each document carries its own lock, so
// writers on different documents never contend.
type Memory struct {
	mu   sync.RWMutex
	docs map[DocumentID]*memDocument
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[DocumentID]*memDocument),
		now:  time.Now,
	}
}

func (m *Memory) get(id DocumentID) (*memDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *Memory) CreateDocument(_ context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = NewDocumentID()
	}
	now := m.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	doc.Collaborators = append([]User(nil), doc.Collaborators...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = &memDocument{doc: doc}
	return cloneDocument(doc), nil
}

func (m *Memory) GetDocument(_ context.Context, id DocumentID) (Document, error) {
	d, err := m.get(id)
	if err != nil {
		return Document{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneDocument(d.doc), nil
}

func (m *Memory) ListDocuments(_ context.Context, user UserID) ([]Document, error) {
	m.mu.RLock()
	all := make([]*memDocument, 0, len(m.docs))
	for _, d := range m.docs {
		all = append(all, d)
	}
	m.mu.RUnlock()

	var out []Document
	for _, d := range all {
		d.mu.Lock()
		if d.doc.VisibleTo(user) {
			out = append(out, cloneDocument(d.doc))
		}
		d.mu.Unlock()
	}
	SortDocuments(out)
	return out, nil
}

func (m *Memory) UpdateContent(_ context.Context, id DocumentID, content string) (bool, error) {
	d, err := m.get(id)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc.Content == content {
		return false, nil
	}
	d.doc.Content = content
	d.doc.UpdatedAt = m.now().UTC()
	return true, nil
}

func (m *Memory) LatestVersion(_ context.Context, id DocumentID) (Version, error) {
	d, err := m.get(id)
	if err != nil {
		return Version{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.versions) == 0 {
		return Version{}, ErrNoVersion
	}
	return d.versions[len(d.versions)-1], nil
}

func (m *Memory) CreateVersion(_ context.Context, id DocumentID, content string, author User, at time.Time) (Version, error) {
	d, err := m.get(id)
	if err != nil {
		return Version{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	latest := 0
	if n := len(d.versions); n > 0 {
		latest = d.versions[n-1].Number
	}
	v := Version{
		ID:         uuid.New(),
		DocumentID: id,
		Number:     NextVersionNumber(latest),
		Content:    content,
		Author:     author,
		CreatedAt:  at.UTC(),
	}
	d.versions = append(d.versions, v)
	return v, nil
}

func (m *Memory) ListVersions(_ context.Context, id DocumentID) ([]Version, error) {
	d, err := m.get(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Version, 0, len(d.versions))
	for i := len(d.versions) - 1; i >= 0; i-- {
		out = append(out, d.versions[i])
	}
	return out, nil
}

func (m *Memory) AddCollaborator(_ context.Context, id DocumentID, user User) error {
	d, err := m.get(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.doc.HasCollaborator(user.ID) {
		d.doc.Collaborators = append(d.doc.Collaborators, user)
	}
	return nil
}

func (m *Memory) RemoveCollaborator(_ context.Context, id DocumentID, userID UserID) error {
	d, err := m.get(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.doc.Collaborators[:0]
	for _, u := range d.doc.Collaborators {
		if u.ID != userID {
			kept = append(kept, u)
		}
	}
	d.doc.Collaborators = kept
	return nil
}

// DeleteDocument removes a document and its history. Sessions already joined
// to it see ErrNotFound on their next write.
func (m *Memory) DeleteDocument(_ context.Context, id DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneDocument(d Document) Document {
	d.Collaborators = append([]User(nil), d.Collaborators...)
	return d
}

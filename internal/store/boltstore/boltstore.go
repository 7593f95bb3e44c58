// Package boltstore is an embedded store.Store backed by a bbolt file. It
// serves single-node deployments that do not run Postgres.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"collabtext/internal/store"
)

var (
	documentsBucket = []byte("documents")
	versionsBucket  = []byte("versions")
)

// Store keeps documents as JSON values in one bucket and each document's
// versions in a nested bucket keyed by big-endian version number. bbolt runs
// one write transaction at a time, which makes version numbering atomic.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(documentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(versionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func versionKey(n int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}

func readDocument(tx *bolt.Tx, id store.DocumentID) (store.Document, error) {
	raw := tx.Bucket(documentsBucket).Get([]byte(id))
	if raw == nil {
		return store.Document{}, store.ErrNotFound
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return store.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

func writeDocument(tx *bolt.Tx, doc store.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return tx.Bucket(documentsBucket).Put([]byte(doc.ID), raw)
}

func (s *Store) CreateDocument(_ context.Context, doc store.Document) (store.Document, error) {
	if doc.ID == "" {
		doc.ID = store.NewDocumentID()
	}
	now := s.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	err := s.db.Update(func(tx *bolt.Tx) error {
		return writeDocument(tx, doc)
	})
	if err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (s *Store) GetDocument(_ context.Context, id store.DocumentID) (store.Document, error) {
	var doc store.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		doc, err = readDocument(tx, id)
		return err
	})
	return doc, err
}

func (s *Store) ListDocuments(_ context.Context, user store.UserID) ([]store.Document, error) {
	var out []store.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(k, raw []byte) error {
			var doc store.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			if doc.VisibleTo(user) {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	store.SortDocuments(out)
	return out, nil
}

func (s *Store) UpdateContent(_ context.Context, id store.DocumentID, content string) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc.Content == content {
			return nil
		}
		doc.Content = content
		doc.UpdatedAt = s.now().UTC()
		changed = true
		return writeDocument(tx, doc)
	})
	return changed, err
}

func (s *Store) LatestVersion(_ context.Context, id store.DocumentID) (store.Version, error) {
	var v store.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := readDocument(tx, id); err != nil {
			return err
		}
		b := tx.Bucket(versionsBucket).Bucket([]byte(id))
		if b == nil {
			return store.ErrNoVersion
		}
		_, raw := b.Cursor().Last()
		if raw == nil {
			return store.ErrNoVersion
		}
		return json.Unmarshal(raw, &v)
	})
	return v, err
}

func (s *Store) CreateVersion(_ context.Context, id store.DocumentID, content string, author store.User, at time.Time) (store.Version, error) {
	var v store.Version
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := readDocument(tx, id); err != nil {
			return err
		}
		b, err := tx.Bucket(versionsBucket).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		latest := 0
		if k, _ := b.Cursor().Last(); k != nil {
			latest = int(binary.BigEndian.Uint64(k))
		}
		v = store.Version{
			ID:         uuid.New(),
			DocumentID: id,
			Number:     store.NextVersionNumber(latest),
			Content:    content,
			Author:     author,
			CreatedAt:  at.UTC(),
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(versionKey(v.Number), raw)
	})
	if err != nil {
		return store.Version{}, err
	}
	return v, nil
}

func (s *Store) ListVersions(_ context.Context, id store.DocumentID) ([]store.Version, error) {
	var out []store.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := readDocument(tx, id); err != nil {
			return err
		}
		b := tx.Bucket(versionsBucket).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, raw := c.Last(); k != nil; k, raw = c.Prev() {
			var v store.Version
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Store) AddCollaborator(_ context.Context, id store.DocumentID, user store.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc.HasCollaborator(user.ID) {
			return nil
		}
		doc.Collaborators = append(doc.Collaborators, user)
		return writeDocument(tx, doc)
	})
}

func (s *Store) RemoveCollaborator(_ context.Context, id store.DocumentID, userID store.UserID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		kept := doc.Collaborators[:0]
		for _, u := range doc.Collaborators {
			if u.ID != userID {
				kept = append(kept, u)
			}
		}
		doc.Collaborators = kept
		return writeDocument(tx, doc)
	})
}

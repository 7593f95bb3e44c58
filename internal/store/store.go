// Package store defines the Document Store collaborator used by the session
// engine and the REST surface: documents, their collaborators and their
// numbered version history.
//
// Backends live in subpackages (postgres, bolt); Memory is the in-process
// backend used by tests and single-node development servers.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the referenced document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrNoVersion is returned by LatestVersion when no version was saved yet.
	ErrNoVersion = errors.New("document has no versions")
)

// DocumentID identifies a document and, by extension, its room.
type DocumentID string

// UserID is the numeric id assigned by the identity provider.
type UserID int64

// User is the identity attached to a connection. It never changes for the
// life of a connection.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

type Document struct {
	ID            DocumentID `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Owner         User       `json:"owner"`
	Collaborators []User     `json:"collaborators"`
	IsPublic      bool       `json:"is_public"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasCollaborator reports whether id is listed as a collaborator.
func (d Document) HasCollaborator(id UserID) bool {
	for _, u := range d.Collaborators {
		if u.ID == id {
			return true
		}
	}
	return false
}

// VisibleTo reports whether id owns, collaborates on, or can read doc
// because it is public.
func (d Document) VisibleTo(id UserID) bool {
	return d.Owner.ID == id || d.HasCollaborator(id) || d.IsPublic
}

// Version is an immutable snapshot of a document's content. Numbers start
// at 1 and increase by one per document.
type Version struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID DocumentID `json:"document_id"`
	Number     int        `json:"version_number"`
	Content    string     `json:"content"`
	Author     User       `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store persists documents and their version history.
//
// CreateVersion must allocate version numbers atomically per document: two
// concurrent calls for the same document never observe the same latest
// version. Content writes are last-writer-wins.
type Store interface {
	// CreateDocument stores doc, assigning an id when doc.ID is empty.
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id DocumentID) (Document, error)
	// ListDocuments returns the documents visible to user, most recently
	// updated first.
	ListDocuments(ctx context.Context, user UserID) ([]Document, error)
	// UpdateContent overwrites the document content and reports whether the
	// stored content differed from content.
	UpdateContent(ctx context.Context, id DocumentID, content string) (bool, error)
	// LatestVersion returns ErrNoVersion when the document has no versions.
	LatestVersion(ctx context.Context, id DocumentID) (Version, error)
	// CreateVersion appends a version numbered latest+1 (or 1).
	CreateVersion(ctx context.Context, id DocumentID, content string, author User, at time.Time) (Version, error)
	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, id DocumentID) ([]Version, error)
	AddCollaborator(ctx context.Context, id DocumentID, user User) error
	RemoveCollaborator(ctx context.Context, id DocumentID, userID UserID) error
	Close() error
}

// NewDocumentID returns a fresh random document id.
func NewDocumentID() DocumentID {
	return DocumentID(uuid.NewString())
}

// NextVersionNumber returns the number that follows latest. A zero latest
// means the document has no versions yet.
func NextVersionNumber(latest int) int {
	return latest + 1
}

// SortDocuments orders docs most recently updated first, breaking ties by id.
func SortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

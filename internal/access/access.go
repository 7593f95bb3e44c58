// Package access decides who may join a document room.
package access

import (
	"context"
	"errors"

	"collabtext/internal/store"
)

// Policy answers whether user may open doc.
type Policy interface {
	CanJoin(ctx context.Context, user store.User, doc store.DocumentID) (bool, error)
}

// DocumentPolicy grants access to the owner, to collaborators and to anyone
// when the document is public.
type DocumentPolicy struct {
	Store store.Store
}

func NewDocumentPolicy(s store.Store) *DocumentPolicy {
	return &DocumentPolicy{Store: s}
}

// CanJoin treats a missing document as a denial, not an error.
func (p *DocumentPolicy) CanJoin(ctx context.Context, user store.User, id store.DocumentID) (bool, error) {
	doc, err := p.Store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return Allowed(doc, user), nil
}

func Allowed(doc store.Document, user store.User) bool {
	return doc.VisibleTo(user.ID)
}

// IsOwner reports whether user owns doc.
func IsOwner(doc store.Document, user store.User) bool {
	return doc.Owner.ID == user.ID
}

// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	owner_id    BIGINT NOT NULL,
	owner_name  TEXT NOT NULL,
	is_public   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS document_collaborators (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	user_id     BIGINT NOT NULL,
	username    TEXT NOT NULL,
	PRIMARY KEY (document_id, user_id)
);
CREATE TABLE IF NOT EXISTS document_versions (
	id             UUID PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version_number INTEGER NOT NULL,
	content        TEXT NOT NULL,
	author_id      BIGINT NOT NULL,
	author_name    TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, version_number)
);`

// Store is safe for concurrent use. Version numbering locks the document row
// (SELECT ... FOR UPDATE) for the duration of the read-latest/insert
// transaction; the unique constraint backs that up.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool and makes sure the schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	if doc.ID == "" {
		doc.ID = store.NewDocumentID()
	}
	now := s.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Document{}, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, title, content, owner_id, owner_name, is_public, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.Title, doc.Content, doc.Owner.ID, doc.Owner.Username, doc.IsPublic, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return store.Document{}, fmt.Errorf("insert document: %w", err)
	}
	for _, u := range doc.Collaborators {
		if err := addCollaborator(ctx, tx, doc.ID, u); err != nil {
			return store.Document{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Store) GetDocument(ctx context.Context, id store.DocumentID) (store.Document, error) {
	doc := store.Document{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT title, content, owner_id, owner_name, is_public, created_at, updated_at
		 FROM documents WHERE id = $1`, id).
		Scan(&doc.Title, &doc.Content, &doc.Owner.ID, &doc.Owner.Username, &doc.IsPublic, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("select document: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, username FROM document_collaborators WHERE document_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return store.Document{}, fmt.Errorf("select collaborators: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return store.Document{}, err
		}
		doc.Collaborators = append(doc.Collaborators, u)
	}
	return doc, rows.Err()
}

func (s *Store) ListDocuments(ctx context.Context, user store.UserID) ([]store.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id FROM documents d
		 WHERE d.owner_id = $1 OR d.is_public
		    OR EXISTS (SELECT 1 FROM document_collaborators c WHERE c.document_id = d.id AND c.user_id = $1)
		 ORDER BY d.updated_at DESC, d.id`, user)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}

	out := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetDocument(ctx, store.DocumentID(id))
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted since the listing
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, id store.DocumentID) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) UpdateContent(ctx context.Context, id store.DocumentID, content string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET content = $2, updated_at = $3
		 WHERE id = $1 AND content IS DISTINCT FROM $2`, id, content, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("update content: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Nothing updated: either the content was unchanged or the row is gone.
	if err := s.exists(ctx, s.pool, id); err != nil {
		return false, err
	}
	return false, nil
}

const selectVersion = `SELECT id, version_number, content, author_id, author_name, created_at FROM document_versions`

func scanVersion(row pgx.Row, id store.DocumentID) (store.Version, error) {
	v := store.Version{DocumentID: id}
	err := row.Scan(&v.ID, &v.Number, &v.Content, &v.Author.ID, &v.Author.Username, &v.CreatedAt)
	return v, err
}

func (s *Store) LatestVersion(ctx context.Context, id store.DocumentID) (store.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		selectVersion+` WHERE document_id = $1 ORDER BY version_number DESC LIMIT 1`, id), id)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.exists(ctx, s.pool, id); err != nil {
			return store.Version{}, err
		}
		return store.Version{}, store.ErrNoVersion
	}
	if err != nil {
		return store.Version{}, fmt.Errorf("select latest version: %w", err)
	}
	return v, nil
}

func (s *Store) CreateVersion(ctx context.Context, id store.DocumentID, content string, author store.User, at time.Time) (store.Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Version{}, err
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Version{}, store.ErrNotFound
	}
	if err != nil {
		return store.Version{}, fmt.Errorf("lock document: %w", err)
	}

	var latest int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1`, id).Scan(&latest)
	if err != nil {
		return store.Version{}, fmt.Errorf("select latest version number: %w", err)
	}

	v := store.Version{
		ID:         uuid.New(),
		DocumentID: id,
		Number:     store.NextVersionNumber(latest),
		Content:    content,
		Author:     author,
		CreatedAt:  at.UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO document_versions (id, document_id, version_number, content, author_id, author_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, id, v.Number, v.Content, author.ID, author.Username, v.CreatedAt)
	if err != nil {
		return store.Version{}, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Version{}, err
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, id store.DocumentID) ([]store.Version, error) {
	if err := s.exists(ctx, s.pool, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, selectVersion+` WHERE document_id = $1 ORDER BY version_number DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("select versions: %w", err)
	}
	defer rows.Close()
	var out []store.Version
	for rows.Next() {
		v, err := scanVersion(rows, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func addCollaborator(ctx context.Context, tx pgx.Tx, id store.DocumentID, user store.User) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO document_collaborators (document_id, user_id, username) VALUES ($1, $2, $3)
		 ON CONFLICT (document_id, user_id) DO NOTHING`, id, user.ID, user.Username)
	if err != nil {
		return fmt.Errorf("insert collaborator: %w", err)
	}
	return nil
}

func (s *Store) AddCollaborator(ctx context.Context, id store.DocumentID, user store.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.exists(ctx, tx, id); err != nil {
		return err
	}
	if err := addCollaborator(ctx, tx, id, user); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) RemoveCollaborator(ctx context.Context, id store.DocumentID, userID store.UserID) error {
	if err := s.exists(ctx, s.pool, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM document_collaborators WHERE document_id = $1 AND user_id = $2`, id, userID)
	return err
}

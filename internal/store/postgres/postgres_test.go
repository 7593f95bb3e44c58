package postgres

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/store"
)

// openTestStore connects to DATABASE_URL and skips the test when unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	s, err := New(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresVersions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	alice := store.User{ID: 1, Username: "alice"}

	doc, err := s.CreateDocument(ctx, store.Document{Title: "pg", Owner: alice})
	require.NoError(t, err)

	_, err = s.LatestVersion(ctx, doc.ID)
	assert.ErrorIs(t, err, store.ErrNoVersion)

	changed, err := s.UpdateContent(ctx, doc.ID, "hello")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.UpdateContent(ctx, doc.ID, "hello")
	require.NoError(t, err)
	assert.False(t, changed)

	const writers = 8
	var (
		mu      sync.Mutex
		numbers []int
		wg      sync.WaitGroup
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.CreateVersion(ctx, doc.ID, "hello", alice, time.Now())
			if assert.NoError(t, err) {
				mu.Lock()
				numbers = append(numbers, v.Number)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}

	list, err := s.ListVersions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, list, writers)
}

func TestPostgresMissingDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetDocument(ctx, "does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UpdateContent(ctx, "does-not-exist", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.CreateVersion(ctx, "does-not-exist", "x", store.User{ID: 1}, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresListDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	// ids unique to this run; the database outlives the test
	base := store.UserID(time.Now().UnixNano())
	owner := store.User{ID: base, Username: "owner"}
	member := store.User{ID: base + 1, Username: "member"}
	stranger := store.User{ID: base + 2, Username: "stranger"}

	shared, err := s.CreateDocument(ctx, store.Document{Title: "shared", Owner: owner, Collaborators: []store.User{member}})
	require.NoError(t, err)
	private, err := s.CreateDocument(ctx, store.Document{Title: "private", Owner: owner})
	require.NoError(t, err)

	ids := func(u store.User) map[store.DocumentID]bool {
		docs, err := s.ListDocuments(ctx, u.ID)
		require.NoError(t, err)
		out := map[store.DocumentID]bool{}
		for _, d := range docs {
			out[d.ID] = true
		}
		return out
	}

	assert.True(t, ids(owner)[shared.ID])
	assert.True(t, ids(owner)[private.ID])
	assert.True(t, ids(member)[shared.ID])
	assert.False(t, ids(member)[private.ID])
	assert.False(t, ids(stranger)[shared.ID])
}

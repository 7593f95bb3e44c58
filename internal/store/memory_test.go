package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = User{ID: 1, Username: "alice"}

func TestMemoryUpdateContentReportsChange(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc, err := s.CreateDocument(ctx, Document{Title: "notes", Owner: alice})
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)

	changed, err := s.UpdateContent(ctx, doc.ID, "hello")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateContent(ctx, doc.ID, "hello")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestMemoryMissingDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.GetDocument(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateContent(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CreateVersion(ctx, "nope", "x", alice, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LatestVersion(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryVersionsNumberedFromOne(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc, err := s.CreateDocument(ctx, Document{Owner: alice})
	require.NoError(t, err)

	_, err = s.LatestVersion(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNoVersion)

	for i := 1; i <= 3; i++ {
		v, err := s.CreateVersion(ctx, doc.ID, "x", alice, time.Now())
		require.NoError(t, err)
		assert.Equal(t, i, v.Number)
	}

	latest, err := s.LatestVersion(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Number)

	list, err := s.ListVersions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 3, list[0].Number)
	assert.Equal(t, 1, list[2].Number)
}

func TestMemoryConcurrentVersionsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc, err := s.CreateDocument(ctx, Document{Owner: alice})
	require.NoError(t, err)

	const writers = 64
	numbers := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.CreateVersion(ctx, doc.ID, "x", alice, time.Now())
			if assert.NoError(t, err) {
				numbers[i] = v.Number
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}
}

func TestMemoryCollaborators(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc, err := s.CreateDocument(ctx, Document{Owner: alice})
	require.NoError(t, err)

	bob := User{ID: 2, Username: "bob"}
	require.NoError(t, s.AddCollaborator(ctx, doc.ID, bob))
	require.NoError(t, s.AddCollaborator(ctx, doc.ID, bob))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, got.Collaborators, 1)
	assert.True(t, got.HasCollaborator(bob.ID))

	require.NoError(t, s.RemoveCollaborator(ctx, doc.ID, bob.ID))
	got, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, got.HasCollaborator(bob.ID))
}

func TestMemoryDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc, err := s.CreateDocument(ctx, Document{Owner: alice})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))
	assert.ErrorIs(t, s.DeleteDocument(ctx, doc.ID), ErrNotFound)
	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	bob := User{ID: 2, Username: "bob"}
	carol := User{ID: 3, Username: "carol"}

	owned, err := s.CreateDocument(ctx, Document{Title: "owned", Owner: alice})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	shared, err := s.CreateDocument(ctx, Document{Title: "shared", Owner: bob, Collaborators: []User{alice}})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	public, err := s.CreateDocument(ctx, Document{Title: "public", Owner: carol, IsPublic: true})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = s.CreateDocument(ctx, Document{Title: "private", Owner: carol})
	require.NoError(t, err)

	// touching a document moves it to the front
	clock = clock.Add(time.Minute)
	_, err = s.UpdateContent(ctx, owned.ID, "edited")
	require.NoError(t, err)

	docs, err := s.ListDocuments(ctx, alice.ID)
	require.NoError(t, err)
	var ids []DocumentID
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []DocumentID{owned.ID, public.ID, shared.ID}, ids)

	docs, err = s.ListDocuments(ctx, 99)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, public.ID, docs[0].ID)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/chat-relay/internal/config"
	"github.com/ashureev/chat-relay/internal/domain"
)

// runContract checks the ordering and id guarantees every backend must keep.
// Backends shared between test runs may already hold turns, so assertions are
// relative to the history observed at the start.
func runContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("AppendThenList", func(t *testing.T) {
		before, err := s.ListAll(ctx)
		require.NoError(t, err)

		user, err := s.Append(ctx, domain.AuthorUser, "hi")
		require.NoError(t, err)
		reply, err := s.Append(ctx, domain.AuthorAssistant, "hello there")
		require.NoError(t, err)

		require.Greater(t, reply.ID, user.ID)
		require.False(t, reply.CreatedAt.Before(user.CreatedAt))

		after, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, after, len(before)+2)

		last := after[len(after)-2:]
		require.Equal(t, user.ID, last[0].ID)
		require.Equal(t, domain.AuthorUser, last[0].Author)
		require.Equal(t, "hi", last[0].Text)
		require.Equal(t, reply.ID, last[1].ID)
		require.Equal(t, domain.AuthorAssistant, last[1].Author)
		require.Equal(t, "hello there", last[1].Text)
	})

	t.Run("ListIsStable", func(t *testing.T) {
		first, err := s.ListAll(ctx)
		require.NoError(t, err)
		second, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("OrderedByID", func(t *testing.T) {
		turns, err := s.ListAll(ctx)
		require.NoError(t, err)
		for i := 1; i < len(turns); i++ {
			require.Greater(t, turns[i].ID, turns[i-1].ID)
			require.False(t, turns[i].CreatedAt.Before(turns[i-1].CreatedAt))
		}
	})

	t.Run("ConcurrentAppendsGetDistinctIDs", func(t *testing.T) {
		const n = 40
		before, err := s.ListAll(ctx)
		require.NoError(t, err)

		var wg sync.WaitGroup
		ids := make(chan int64, n)
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				turn, err := s.Append(ctx, domain.AuthorUser, fmt.Sprintf("msg-%d", i))
				if err != nil {
					errs <- err
					return
				}
				ids <- turn.ID
			}(i)
		}
		wg.Wait()
		close(ids)
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		seen := make(map[int64]struct{}, n)
		for id := range ids {
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %d", id)
			seen[id] = struct{}{}
		}
		require.Len(t, seen, n)

		after, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, after, len(before)+n)
	})

	t.Run("ListSince", func(t *testing.T) {
		marker, err := s.Append(ctx, domain.AuthorUser, "marker")
		require.NoError(t, err)
		next, err := s.Append(ctx, domain.AuthorAssistant, "after marker")
		require.NoError(t, err)

		since, err := s.ListSince(ctx, marker.ID)
		require.NoError(t, err)
		require.Len(t, since, 1)
		require.Equal(t, next.ID, since[0].ID)

		none, err := s.ListSince(ctx, next.ID)
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	turns, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)

	runContract(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_, err := s.Append(ctx, domain.AuthorUser, "first draft")
	require.NoError(t, err)

	turns, err := s.ListAll(ctx)
	require.NoError(t, err)
	turns[0].Text = "mutated"

	again, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "first draft", again[0].Text)
}

func newTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteStore(t *testing.T) {
	s, _ := newTestSQLite(t)

	turns, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)

	runContract(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	first, err := s.Append(ctx, domain.AuthorUser, "remember me")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	turns, err := reopened.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, first.ID, turns[0].ID)
	require.Equal(t, "remember me", turns[0].Text)
	require.True(t, first.CreatedAt.Equal(turns[0].CreatedAt))

	second, err := reopened.Append(ctx, domain.AuthorAssistant, "I do")
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)
	require.False(t, second.CreatedAt.Before(first.CreatedAt))
}

func TestSQLiteStoreInMemory(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runContract(t, s)
}

func TestSQLiteStoreClosedIsUnavailable(t *testing.T) {
	s, _ := newTestSQLite(t)
	require.NoError(t, s.Close())

	_, err := s.Append(context.Background(), domain.AuthorUser, "too late")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStorageUnavailable))

	_, err = s.ListAll(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestSQLiteStoreRejectsUnknownAuthor(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_turns (author, text, created_at) VALUES (?, ?, ?)`, "Robot", "beep", int64(1))
	require.NoError(t, err)

	_, err = s.ListAll(ctx)
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorContains(t, err, `unknown author "Robot"`)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "cassandra"})
	require.Error(t, err)
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)
}

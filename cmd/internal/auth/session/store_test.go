package session

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"fms/cmd/identity/ids"
	"fms/cmd/internal/db/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeHarness builds a Store and mints owner ids valid for it.
type storeHarness struct {
	store    Store
	newOwner func(t *testing.T) string
}

func newRow(t *testing.T, owner string, created time.Time, ttl time.Duration) Row {
	t.Helper()
	id, err := ids.NewULID(created)
	require.NoError(t, err)
	return Row{
		ID:         id,
		OwnerID:    owner,
		SecretHash: "hash-" + id,
		CreatedAt:  created,
		ExpiresAt:  created.Add(ttl),
	}
}

func put(t *testing.T, s Store, rows ...Row) {
	t.Helper()
	require.NoError(t, s.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
		for _, r := range rows {
			if err := tx.Put(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
}

func get(t *testing.T, s Store, id string) (Row, error) {
	t.Helper()
	var row Row
	err := s.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
		var err error
		row, err = tx.Get(ctx, id)
		return err
	})
	return row, err
}

func runStoreContract(t *testing.T, h storeHarness) {
	t.Run("PutGetList", func(t *testing.T) {
		owner := h.newOwner(t)
		a := newRow(t, owner, t0, time.Hour)
		a.Meta = ClientMeta{UserAgent: "curl/8", IP: netip.MustParseAddr("192.0.2.7")}
		b := newRow(t, owner, t0.Add(time.Second), time.Hour)
		b.Meta = ClientMeta{IP: netip.MustParseAddr("2001:db8::1")}
		put(t, h.store, a, b)

		got, err := get(t, h.store, a.ID)
		require.NoError(t, err)
		require.Equal(t, a.OwnerID, got.OwnerID)
		require.Equal(t, a.SecretHash, got.SecretHash)
		require.True(t, a.CreatedAt.Equal(got.CreatedAt))
		require.True(t, a.ExpiresAt.Equal(got.ExpiresAt))
		require.Equal(t, a.Meta, got.Meta)

		var rows []Row
		require.NoError(t, h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			rows, err = tx.ListByOwner(ctx, owner)
			return err
		}))
		require.Len(t, rows, 2)
		require.Equal(t, a.ID, rows[0].ID)
		require.Equal(t, b.ID, rows[1].ID)
		require.Equal(t, b.Meta, rows[1].Meta)

		_, err = get(t, h.store, "01J00000000000000000000000")
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("IDsAreNeverReused", func(t *testing.T) {
		owner := h.newOwner(t)
		a := newRow(t, owner, t0, time.Hour)
		put(t, h.store, a)

		err := h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			return tx.Put(ctx, a)
		})
		require.ErrorIs(t, err, errSessionIDTaken)

		require.NoError(t, h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			if _, err := tx.DeleteByID(ctx, a.ID); err != nil {
				return err
			}
			return tx.Retire(ctx, Retired{SessionID: a.ID, OwnerID: owner, RetiredAt: t0, ExpiresAt: a.ExpiresAt})
		}))

		err = h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			return tx.Put(ctx, a)
		})
		require.ErrorIs(t, err, errSessionIDTaken)

		var ret Retired
		require.NoError(t, h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			ret, err = tx.GetRetired(ctx, a.ID)
			return err
		}))
		require.Equal(t, owner, ret.OwnerID)
		require.True(t, ret.ExpiresAt.Equal(a.ExpiresAt))
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		owner := h.newOwner(t)
		a := newRow(t, owner, t0, time.Hour)
		boom := errors.New("boom")

		err := h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			if err := tx.Put(ctx, a); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = get(t, h.store, a.ID)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("DeleteAllByOwner", func(t *testing.T) {
		owner, other := h.newOwner(t), h.newOwner(t)
		put(t, h.store,
			newRow(t, owner, t0, time.Hour),
			newRow(t, owner, t0, time.Hour),
			newRow(t, other, t0, time.Hour),
		)

		var n int64
		require.NoError(t, h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			if err := tx.LockOwner(ctx, owner); err != nil {
				return err
			}
			var err error
			n, err = tx.DeleteAllByOwner(ctx, owner)
			return err
		}))
		require.EqualValues(t, 2, n)

		var deleted bool
		require.NoError(t, h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			rows, err := tx.ListByOwner(ctx, other)
			if err != nil {
				return err
			}
			require.Len(t, rows, 1)
			deleted, err = tx.DeleteByID(ctx, rows[0].ID)
			return err
		}))
		require.True(t, deleted)
	})

	t.Run("SweepDeletesOnlyExpired", func(t *testing.T) {
		owner := h.newOwner(t)
		now := t0.Add(-24 * time.Hour)

		// Clear anything left below the cutoff by earlier runs.
		_, err := h.store.DeleteExpiredBefore(t.Context(), now)
		require.NoError(t, err)

		s1 := newRow(t, owner, now.Add(-2*time.Hour), time.Hour)
		s2 := newRow(t, owner, now, time.Hour)
		edge := newRow(t, owner, now.Add(-time.Hour), time.Hour) // expires exactly at now
		put(t, h.store, s1, s2, edge)
		gone := newRow(t, owner, now.Add(-2*time.Hour), time.Hour)
		require.NoError(t, h.store.WithinTx(t.Context(), func(ctx context.Context, tx Tx) error {
			return tx.Retire(ctx, Retired{SessionID: gone.ID, OwnerID: owner, RetiredAt: now, ExpiresAt: gone.ExpiresAt})
		}))

		res, err := h.store.DeleteExpiredBefore(t.Context(), now)
		require.NoError(t, err)
		require.Equal(t, SweepResult{Sessions: 1, Retired: 1}, res)

		_, err = get(t, h.store, s1.ID)
		require.ErrorIs(t, err, ErrSessionNotFound)
		_, err = get(t, h.store, s2.ID)
		require.NoError(t, err)
		_, err = get(t, h.store, edge.ID)
		require.NoError(t, err)
	})

	t.Run("ManagerScenario", func(t *testing.T) {
		owner := h.newOwner(t)
		clock := newTestClock(time.Now().UTC().Truncate(time.Second))
		m := newTestManager(t, h.store, clock)
		ctx := t.Context()

		s1, err := m.Create(ctx, owner, ClientMeta{UserAgent: "web", IP: netip.MustParseAddr("198.51.100.4")})
		require.NoError(t, err)
		s2, err := m.Rotate(ctx, s1.Credential, ClientMeta{})
		require.NoError(t, err)
		require.NotEqual(t, s1.SessionID, s2.SessionID)

		clock.Advance(time.Minute)
		_, err = m.Rotate(ctx, s1.Credential, ClientMeta{})
		require.ErrorIs(t, err, ErrSessionNotFound)
		require.ErrorIs(t, err, ErrRefreshReuseDetected)
		require.Empty(t, liveSessions(t, m, owner))
	})

	t.Run("ManagerConcurrentRotate", func(t *testing.T) {
		const n = 8

		owner := h.newOwner(t)
		clock := newTestClock(time.Now().UTC().Truncate(time.Second))
		m := newTestManager(t, h.store, clock)
		ctx := t.Context()

		s, err := m.Create(ctx, owner, ClientMeta{})
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []Issued
		)
		for range n {
			wg.Go(func() {
				got, err := m.Rotate(ctx, s.Credential, ClientMeta{})
				if err != nil {
					assert.ErrorIs(t, err, ErrSessionNotFound)
					assert.NotErrorIs(t, err, ErrRefreshReuseDetected)
					return
				}
				mu.Lock()
				wins = append(wins, got)
				mu.Unlock()
			})
		}
		wg.Wait()

		require.Len(t, wins, 1)
		rows := liveSessions(t, m, owner)
		require.Len(t, rows, 1)
		require.Equal(t, wins[0].SessionID, rows[0].ID)
	})
}

func anyOwner(t *testing.T) string { return ids.NewPrincipalID() }

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, storeHarness{store: NewMemoryStore(), newOwner: anyOwner})
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLiteStore(dbtest.SQLitePath(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, storeHarness{store: s, newOwner: anyOwner})
}

func TestMemoryStore_OwnerLockSerializes(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockOwner(ctx, "U1"); err != nil {
				return err
			}
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.WithinTx(waitCtx, func(ctx context.Context, tx Tx) error {
		return tx.LockOwner(ctx, "U1")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Other owners are independent.
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.LockOwner(ctx, "U2")
	}))

	close(release)
	require.Eventually(t, func() bool {
		return s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.LockOwner(ctx, "U1")
		}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_TxUnusableAfterReturn(t *testing.T) {
	s := NewMemoryStore()
	var leaked Tx
	require.NoError(t, s.WithinTx(t.Context(), func(_ context.Context, tx Tx) error {
		leaked = tx
		return nil
	}))
	_, err := leaked.Get(t.Context(), "x")
	require.ErrorIs(t, err, errTxDone)
}

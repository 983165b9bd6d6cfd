package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
//
// Writes of a transaction are staged and applied atomically on commit, before
// the transaction's owner locks are released.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Row
	retired  map[string]Retired
	owners   map[string]*ownerLock
}

type ownerLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Row),
		retired:  make(map[string]Retired),
		owners:   make(map[string]*ownerLock),
	}
}

// WithinTx implements Store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:       s,
		puts:    make(map[string]Row),
		deletes: make(map[string]struct{}),
		retires: make(map[string]Retired),
		held:    make(map[string]struct{}),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// DeleteExpiredBefore implements Store.
func (s *MemoryStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return SweepResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult
	for id, r := range s.sessions {
		if r.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			res.Sessions++
		}
	}
	for id, r := range s.retired {
		if r.ExpiresAt.Before(cutoff) {
			delete(s.retired, id)
			res.Retired++
		}
	}
	return res, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) lock(ctx context.Context, owner string) error {
	s.mu.Lock()
	l, ok := s.owners[owner]
	if !ok {
		l = &ownerLock{ch: make(chan struct{}, 1)}
		s.owners[owner] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.unref(owner, l)
		return ctx.Err()
	}
}

func (s *MemoryStore) unlock(owner string) {
	s.mu.Lock()
	l := s.owners[owner]
	s.mu.Unlock()

	<-l.ch
	s.unref(owner, l)
}

func (s *MemoryStore) unref(owner string, l *ownerLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.owners, owner)
	}
}

type memTx struct {
	s *MemoryStore

	puts    map[string]Row
	deletes map[string]struct{}
	retires map[string]Retired
	held    map[string]struct{}
	done    bool
}

func (t *memTx) Get(ctx context.Context, id string) (Row, error) {
	if err := t.usable(ctx); err != nil {
		return Row{}, err
	}
	if r, ok := t.puts[id]; ok {
		return r, nil
	}
	if _, ok := t.deletes[id]; ok {
		return Row{}, ErrSessionNotFound
	}

	t.s.mu.Lock()
	r, ok := t.s.sessions[id]
	t.s.mu.Unlock()
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return r, nil
}

func (t *memTx) LockOwner(ctx context.Context, ownerID string) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	if _, ok := t.held[ownerID]; ok {
		return nil
	}
	if err := t.s.lock(ctx, ownerID); err != nil {
		return err
	}
	t.held[ownerID] = struct{}{}
	return nil
}

func (t *memTx) Put(ctx context.Context, row Row) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	if _, ok := t.puts[row.ID]; ok {
		return errSessionIDTaken
	}
	if _, ok := t.retires[row.ID]; ok {
		return errSessionIDTaken
	}

	t.s.mu.Lock()
	_, live := t.s.sessions[row.ID]
	_, retired := t.s.retired[row.ID]
	t.s.mu.Unlock()
	if live || retired {
		return errSessionIDTaken
	}

	t.puts[row.ID] = row
	return nil
}

func (t *memTx) DeleteByID(ctx context.Context, id string) (bool, error) {
	if err := t.usable(ctx); err != nil {
		return false, err
	}
	if _, ok := t.puts[id]; ok {
		delete(t.puts, id)
		return true, nil
	}
	if _, ok := t.deletes[id]; ok {
		return false, nil
	}

	t.s.mu.Lock()
	_, ok := t.s.sessions[id]
	t.s.mu.Unlock()
	if !ok {
		return false, nil
	}
	t.deletes[id] = struct{}{}
	return true, nil
}

func (t *memTx) DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error) {
	if err := t.usable(ctx); err != nil {
		return 0, err
	}

	var n int64
	for id, r := range t.puts {
		if r.OwnerID == ownerID {
			delete(t.puts, id)
			n++
		}
	}

	t.s.mu.Lock()
	for id, r := range t.s.sessions {
		if r.OwnerID != ownerID {
			continue
		}
		if _, ok := t.deletes[id]; ok {
			continue
		}
		t.deletes[id] = struct{}{}
		n++
	}
	t.s.mu.Unlock()
	return n, nil
}

func (t *memTx) ListByOwner(ctx context.Context, ownerID string) ([]Row, error) {
	if err := t.usable(ctx); err != nil {
		return nil, err
	}

	var out []Row
	t.s.mu.Lock()
	for id, r := range t.s.sessions {
		if r.OwnerID != ownerID {
			continue
		}
		if _, ok := t.deletes[id]; ok {
			continue
		}
		out = append(out, r)
	}
	t.s.mu.Unlock()

	for _, r := range t.puts {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Row) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) Retire(ctx context.Context, r Retired) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	t.retires[r.SessionID] = r
	return nil
}

func (t *memTx) GetRetired(ctx context.Context, id string) (Retired, error) {
	if err := t.usable(ctx); err != nil {
		return Retired{}, err
	}
	if r, ok := t.retires[id]; ok {
		return r, nil
	}

	t.s.mu.Lock()
	r, ok := t.s.retired[id]
	t.s.mu.Unlock()
	if !ok {
		return Retired{}, ErrSessionNotFound
	}
	return r, nil
}

func (t *memTx) usable(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	return ctx.Err()
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id := range t.deletes {
		delete(t.s.sessions, id)
	}
	for id, r := range t.puts {
		t.s.sessions[id] = r
	}
	for id, r := range t.retires {
		if _, ok := t.s.retired[id]; !ok {
			t.s.retired[id] = r
		}
	}
}

func (t *memTx) release() {
	t.done = true
	for owner := range t.held {
		t.s.unlock(owner)
	}
	clear(t.held)
}

var _ Store = (*MemoryStore)(nil)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/msgarchive/internal/jid"
)

// role selects one of the interned identity tables.
type role int

const (
	roleAccount role = iota
	roleRemote
)

func (r role) table() string {
	if r == roleAccount {
		return "account"
	}
	return "remote"
}

// interner caches identity -> surrogate key per role. Keys created inside a
// transaction stay pending until it commits so a rollback never leaves a
// cached key that does not exist. The cache is unbounded; identities are
// few and never change.
type interner struct {
	mu        sync.Mutex
	committed [2]map[jid.JID]int64
	pending   [2]map[jid.JID]int64
}

func newInterner() *interner {
	in := &interner{}
	for i := range in.committed {
		in.committed[i] = make(map[jid.JID]int64)
		in.pending[i] = make(map[jid.JID]int64)
	}
	return in
}

func (in *interner) get(r role, j jid.JID) (int64, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if pk, ok := in.committed[r][j]; ok {
		return pk, true
	}
	pk, ok := in.pending[r][j]
	return pk, ok
}

func (in *interner) put(r role, j jid.JID, pk int64, pending bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if pending {
		in.pending[r][j] = pk
		return
	}
	in.committed[r][j] = pk
}

func (in *interner) promote() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range in.pending {
		for j, pk := range in.pending[i] {
			in.committed[i][j] = pk
		}
		clear(in.pending[i])
	}
}

func (in *interner) discard() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range in.pending {
		clear(in.pending[i])
	}
}

func (in *interner) evict(r role, j jid.JID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.committed[r], j)
	delete(in.pending[r], j)
}

// intern returns the key for j, inserting the identity row if needed.
func (s *Store) intern(ctx context.Context, q queryer, r role, j jid.JID) (int64, error) {
	pk, found, err := s.lookup(ctx, q, r, j)
	if err != nil || found {
		return pk, err
	}

	err = q.QueryRowContext(ctx,
		"INSERT INTO "+r.table()+" (jid) VALUES (?) RETURNING pk", j.String()).Scan(&pk)
	if err != nil {
		return 0, fmt.Errorf("intern %s %s: %w", r.table(), j, err)
	}
	s.interns.put(r, j, pk, true)
	return pk, nil
}

// lookup returns the key for j without creating it.
func (s *Store) lookup(ctx context.Context, q queryer, r role, j jid.JID) (int64, bool, error) {
	if pk, ok := s.interns.get(r, j); ok {
		return pk, true, nil
	}

	var pk int64
	err := q.QueryRowContext(ctx, "SELECT pk FROM "+r.table()+" WHERE jid = ?", j.String()).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s %s: %w", r.table(), j, err)
	}
	// Rows found by SELECT predate any open transaction; inserts made by
	// one are always in the pending set already.
	s.interns.put(r, j, pk, false)
	return pk, true, nil
}

// conversationKeys interns both sides of a conversation.
func (s *Store) conversationKeys(ctx context.Context, q queryer, account, remote jid.JID) (int64, int64, error) {
	accountPK, err := s.intern(ctx, q, roleAccount, account)
	if err != nil {
		return 0, 0, err
	}
	remotePK, err := s.intern(ctx, q, roleRemote, remote)
	if err != nil {
		return 0, 0, err
	}
	return accountPK, remotePK, nil
}

// lookupConversation resolves both sides of a conversation for reads.
// found is false when either side was never stored.
func (s *Store) lookupConversation(ctx context.Context, q queryer, account, remote jid.JID) (accountPK, remotePK int64, found bool, err error) {
	accountPK, found, err = s.lookup(ctx, q, roleAccount, account)
	if err != nil || !found {
		return 0, 0, false, err
	}
	remotePK, found, err = s.lookup(ctx, q, roleRemote, remote)
	if err != nil || !found {
		return 0, 0, false, err
	}
	return accountPK, remotePK, true, nil
}

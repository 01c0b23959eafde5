package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/msgarchive/internal/jid"
)

// RosterItem is one contact list entry.
type RosterItem struct {
	JID          jid.JID  `json:"jid"`
	Name         string   `json:"name,omitempty"`
	Subscription string   `json:"subscription"`
	Ask          string   `json:"ask,omitempty"`
	Approved     bool     `json:"approved,omitempty"`
	Groups       []string `json:"groups,omitempty"`
}

// StoreRoster replaces the cached roster of account.
func (s *Store) StoreRoster(ctx context.Context, account string, items []RosterItem) error {
	defer s.timeit("store_roster")()
	if items == nil {
		items = []RosterItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.execLocked(ctx, `
		INSERT INTO roster (account, roster) VALUES (?, ?)
		ON CONFLICT (account) DO UPDATE SET roster = excluded.roster`,
		account, string(data))
	if err != nil {
		return fmt.Errorf("store roster: %w", err)
	}
	return nil
}

// LoadRoster returns the cached roster of account keyed by bare address.
// The boolean is false when no roster was stored.
func (s *Store) LoadRoster(ctx context.Context, account string) (map[jid.JID]RosterItem, bool, error) {
	defer s.timeit("load_roster")()
	s.mu.Lock()
	var data string
	err := s.queryerLocked().QueryRowContext(ctx, "SELECT roster FROM roster WHERE account = ?", account).Scan(&data)
	s.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load roster: %w", err)
	}

	var items []RosterItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, false, fmt.Errorf("decode roster: %w", err)
	}
	roster := make(map[jid.JID]RosterItem, len(items))
	for _, item := range items {
		roster[item.JID] = item
	}
	return roster, true, nil
}

// RemoveRoster deletes the cached roster of account and commits at once.
func (s *Store) RemoveRoster(ctx context.Context, account string) error {
	defer s.timeit("remove_roster")()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.execLocked(ctx, "DELETE FROM roster WHERE account = ?", account); err != nil {
		return fmt.Errorf("remove roster: %w", err)
	}
	return s.commitLocked()
}

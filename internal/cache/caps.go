package cache

import (
	"context"
	"fmt"
	"time"
)

// capsMaxAge is how long a capabilities entry survives without being seen.
const capsMaxAge = 90 * 24 * time.Hour

type capsKey struct {
	method, hash string
}

// AddCapsEntry stores the serialized disco info for a capabilities hash.
func (s *Store) AddCapsEntry(ctx context.Context, method, hash string, data []byte) error {
	defer s.timeit("add_caps_entry")()
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.execLocked(ctx, `
		INSERT INTO caps_cache (hash_method, hash, data, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (hash_method, hash) DO UPDATE SET data = excluded.data, last_seen = excluded.last_seen`,
		method, hash, data, s.now().Unix())
	if err != nil {
		return fmt.Errorf("add caps entry: %w", err)
	}
	s.caps[capsKey{method, hash}] = data
	return nil
}

// CapsEntry returns the disco info stored for a capabilities hash.
func (s *Store) CapsEntry(method, hash string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.caps[capsKey{method, hash}]
	return data, ok
}

// UpdateCapsTime marks a capabilities hash as seen now.
func (s *Store) UpdateCapsTime(ctx context.Context, method, hash string) error {
	defer s.timeit("update_caps_time")()
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.execLocked(ctx, "UPDATE caps_cache SET last_seen = ? WHERE hash_method = ? AND hash = ?",
		s.now().Unix(), method, hash)
	if err != nil {
		return fmt.Errorf("update caps time: %w", err)
	}
	return nil
}

func (s *Store) cleanCapsLocked(ctx context.Context) error {
	cutoff := s.now().Add(-capsMaxAge).Unix()
	if _, err := s.execLocked(ctx, "DELETE FROM caps_cache WHERE last_seen < ?", cutoff); err != nil {
		return fmt.Errorf("clean caps: %w", err)
	}
	return nil
}

func (s *Store) loadCapsLocked(ctx context.Context) error {
	rows, err := s.queryerLocked().QueryContext(ctx, "SELECT hash_method, hash, data FROM caps_cache")
	if err != nil {
		return fmt.Errorf("load caps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key capsKey
		var data []byte
		if err := rows.Scan(&key.method, &key.hash, &data); err != nil {
			return fmt.Errorf("load caps: %w", err)
		}
		s.caps[key] = data
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load caps: %w", err)
	}
	s.log.Info("loaded capabilities", "count", len(s.caps))
	return nil
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/msgarchive/internal/jid"
)

// ContactProperty names a cached per-contact value.
type ContactProperty string

const (
	ContactAvatar   ContactProperty = "avatar"
	ContactNickname ContactProperty = "nickname"
)

// Valid reports whether p is a known property. Properties are spliced into
// SQL as column names, so only these are accepted.
func (p ContactProperty) Valid() bool {
	return p == ContactAvatar || p == ContactNickname
}

type propKey struct {
	account string
	addr    jid.JID
	prop    ContactProperty
}

type contactValue struct {
	value   sql.NullString
	updated time.Time
}

// SetMUCAvatar caches the avatar hash of a room. An empty sha clears it.
func (s *Store) SetMUCAvatar(ctx context.Context, account string, room jid.JID, sha string) error {
	defer s.timeit("set_muc")()
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.execLocked(ctx, `
		INSERT INTO muc (account, jid, avatar) VALUES (?, ?, ?)
		ON CONFLICT (account, jid) DO UPDATE SET avatar = excluded.avatar`,
		account, room.String(), nullString(sha))
	if err != nil {
		return fmt.Errorf("set muc avatar: %w", err)
	}
	s.muc[propKey{account, room, ContactAvatar}] = sha
	return nil
}

// MUCAvatar returns the cached avatar hash of a room.
func (s *Store) MUCAvatar(ctx context.Context, account string, room jid.JID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := propKey{account, room, ContactAvatar}
	if sha, ok := s.muc[key]; ok {
		return sha, sha != "", nil
	}

	var sha sql.NullString
	err := s.queryerLocked().QueryRowContext(ctx,
		"SELECT avatar FROM muc WHERE account = ? AND jid = ?", account, room.String()).Scan(&sha)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("get muc avatar: %w", err)
	}
	s.muc[key] = sha.String
	return sha.String, sha.Valid && sha.String != "", nil
}

// SetContact caches a contact property and the time it was set. An empty
// value clears it.
func (s *Store) SetContact(ctx context.Context, account string, addr jid.JID, prop ContactProperty, value string) error {
	if !prop.Valid() {
		return fmt.Errorf("set contact: unknown property %q", prop)
	}
	defer s.timeit("set_contact")()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	query := fmt.Sprintf(`
		INSERT INTO contact (account, jid, %[1]s, %[1]s_ts) VALUES (?, ?, ?, ?)
		ON CONFLICT (account, jid) DO UPDATE SET %[1]s = excluded.%[1]s, %[1]s_ts = excluded.%[1]s_ts`, prop)
	v := nullString(value)
	if _, err := s.execLocked(ctx, query, account, addr.String(), v, epoch(now)); err != nil {
		return fmt.Errorf("set contact: %w", err)
	}
	s.contacts[propKey{account, addr, prop}] = contactValue{value: v, updated: now}
	return nil
}

// Contact returns a cached contact property and when it was last set.
func (s *Store) Contact(ctx context.Context, account string, addr jid.JID, prop ContactProperty) (string, time.Time, bool, error) {
	if !prop.Valid() {
		return "", time.Time{}, false, fmt.Errorf("get contact: unknown property %q", prop)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := propKey{account, addr, prop}
	if cv, ok := s.contacts[key]; ok {
		return cv.value.String, cv.updated, cv.value.Valid, nil
	}

	var value sql.NullString
	var ts sql.NullFloat64
	query := fmt.Sprintf("SELECT %[1]s, %[1]s_ts FROM contact WHERE account = ? AND jid = ?", prop)
	err := s.queryerLocked().QueryRowContext(ctx, query, account, addr.String()).Scan(&value, &ts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, fmt.Errorf("get contact: %w", err)
	}
	cv := contactValue{value: value}
	if ts.Valid {
		cv.updated = fromEpoch(ts.Float64)
	}
	s.contacts[key] = cv
	return cv.value.String, cv.updated, cv.value.Valid, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(f float64) time.Time {
	return time.UnixMicro(int64(f * 1e6)).UTC()
}

// RemoveAccount deletes everything cached for account and commits at once.
func (s *Store) RemoveAccount(ctx context.Context, account string) error {
	defer s.timeit("remove_account")()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"roster", "muc", "contact", "unread"} {
		if _, err := s.execLocked(ctx, "DELETE FROM "+table+" WHERE account = ?", account); err != nil {
			return fmt.Errorf("remove account from %s: %w", table, err)
		}
	}
	for key := range s.muc {
		if key.account == account {
			delete(s.muc, key)
		}
	}
	for key := range s.contacts {
		if key.account == account {
			delete(s.contacts, key)
		}
	}
	return s.commitLocked()
}

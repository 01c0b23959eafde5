package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/msgarchive/internal/jid"
)

// Unread is the unread counter of one conversation.
type Unread struct {
	Account   string
	JID       jid.JID
	Count     int
	MessageID string
	Timestamp time.Time
}

// AllUnread returns every unread counter.
func (s *Store) AllUnread(ctx context.Context) ([]Unread, error) {
	defer s.timeit("get_unread")()
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.queryerLocked().QueryContext(ctx,
		"SELECT account, jid, count, message_id, timestamp FROM unread ORDER BY account, jid")
	if err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}
	defer rows.Close()

	var result []Unread
	for rows.Next() {
		var u Unread
		var addr string
		var messageID sql.NullString
		var ts float64
		if err := rows.Scan(&u.Account, &addr, &u.Count, &messageID, &ts); err != nil {
			return nil, fmt.Errorf("get unread: %w", err)
		}
		if u.JID, err = jid.Parse(addr); err != nil {
			s.log.Warn("skipping unread counter with invalid address", "jid", addr, "error", err)
			continue
		}
		u.MessageID = messageID.String
		u.Timestamp = fromEpoch(ts)
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}
	return result, nil
}

// UnreadCount returns the unread counter of a conversation.
func (s *Store) UnreadCount(ctx context.Context, account string, addr jid.JID) (*Unread, error) {
	defer s.timeit("get_unread_count")()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked(ctx, account, addr)
}

func (s *Store) unreadLocked(ctx context.Context, account string, addr jid.JID) (*Unread, error) {
	u := Unread{Account: account, JID: addr}
	var messageID sql.NullString
	var ts float64
	err := s.queryerLocked().QueryRowContext(ctx,
		"SELECT count, message_id, timestamp FROM unread WHERE account = ? AND jid = ?",
		account, addr.String()).Scan(&u.Count, &messageID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unread count: %w", err)
	}
	u.MessageID = messageID.String
	u.Timestamp = fromEpoch(ts)
	return &u, nil
}

// SetUnreadCount records the unread counter of a conversation. An existing
// counter only has its count replaced; the first unread message is kept.
func (s *Store) SetUnreadCount(ctx context.Context, account string, addr jid.JID, count int, messageID string, ts time.Time) error {
	defer s.timeit("set_unread_count")()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.unreadLocked(ctx, account, addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.updateUnreadLocked(ctx, account, addr, count)
	}

	_, err = s.execLocked(ctx,
		"INSERT INTO unread (account, jid, count, message_id, timestamp) VALUES (?, ?, ?, ?, ?)",
		account, addr.String(), count, nullString(messageID), epoch(ts))
	if err != nil {
		return fmt.Errorf("set unread count: %w", err)
	}
	return nil
}

// UpdateUnreadCount replaces the count of an existing counter.
func (s *Store) UpdateUnreadCount(ctx context.Context, account string, addr jid.JID, count int) error {
	defer s.timeit("update_unread_count")()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUnreadLocked(ctx, account, addr, count)
}

func (s *Store) updateUnreadLocked(ctx context.Context, account string, addr jid.JID, count int) error {
	_, err := s.execLocked(ctx, "UPDATE unread SET count = ? WHERE account = ? AND jid = ?",
		count, account, addr.String())
	if err != nil {
		return fmt.Errorf("update unread count: %w", err)
	}
	return nil
}

// ResetUnreadCount removes the counter of a conversation.
func (s *Store) ResetUnreadCount(ctx context.Context, account string, addr jid.JID) error {
	defer s.timeit("reset_unread_count")()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.execLocked(ctx, "DELETE FROM unread WHERE account = ? AND jid = ?", account, addr.String()); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return nil
}

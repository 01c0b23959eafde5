package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/queryir"
)

// sideTables hold records joined to messages by protocol identifiers.
var sideTables = []string{"error", "moderation", "retraction", "reaction", "displayed_marker", "receipt"}

// DeleteMessage removes a message with its corrections and the error,
// moderation and retraction records that refer to it. Rows it owns
// (attachments, reply, file transfers) go with it. Interned identities are
// kept. deleted is false when no message has the key.
func (s *Store) DeleteMessage(ctx context.Context, pk int64) (deleted bool, err error) {
	defer s.timeit("delete_message")()

	err = s.withTx(ctx, "delete message", func(tx *sql.Tx) error {
		msgs, err := s.selectMessages(ctx, tx, queryir.Select{Filter: queryir.Equals{Field: "pk", Value: pk}})
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			s.log.Warn("deletion failed, no message found", "pk", pk)
			return nil
		}
		if _, err := s.deleteMessage(ctx, tx, msgs[0]); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// deleteMessage deletes m and its revision chain, returning the keys of
// every message row removed.
func (s *Store) deleteMessage(ctx context.Context, q queryer, m *storedMessage) ([]int64, error) {
	chain, err := s.revisionChain(ctx, q, m)
	if err != nil {
		return nil, err
	}

	var removed []int64
	for _, rev := range append([]*storedMessage{m}, chain...) {
		if err := deleteReferences(ctx, q, rev); err != nil {
			return nil, err
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM message WHERE pk = ?", rev.row.PK); err != nil {
			return nil, fmt.Errorf("delete message %d: %w", rev.row.PK, err)
		}
		removed = append(removed, rev.row.PK)
	}
	return removed, nil
}

// deleteReferences removes the error, moderation and retraction records
// that point at m.
func deleteReferences(ctx context.Context, q queryer, m *storedMessage) error {
	row := m.row
	scope := []any{m.remotePK, m.accountPK}

	if row.ID != "" {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM error WHERE message_id = ? AND fk_remote_pk = ? AND fk_account_pk = ?",
			append([]any{row.ID}, scope...)...); err != nil {
			return fmt.Errorf("delete error: %w", err)
		}
	}

	if row.StanzaID != "" {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM moderation WHERE stanza_id = ? AND fk_remote_pk = ? AND fk_account_pk = ?",
			append([]any{row.StanzaID}, scope...)...); err != nil {
			return fmt.Errorf("delete moderation: %w", err)
		}
	}

	if ref := refID(&row.Message); ref != "" {
		query := "DELETE FROM retraction WHERE id = ? AND fk_remote_pk = ? AND fk_account_pk = ? AND direction = ?"
		args := append(append([]any{ref}, scope...), int(row.Direction))
		if m.occupant.Valid {
			query += " AND (fk_occupant_pk IS NULL OR fk_occupant_pk = ?)"
			args = append(args, m.occupant.Int64)
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete retraction: %w", err)
		}
	}
	return nil
}

// RemoveHistoryForJID removes every message of a conversation together
// with its side records. Archive sync state is kept.
func (s *Store) RemoveHistoryForJID(ctx context.Context, account, remote jid.JID) error {
	defer s.timeit("remove_history_for_jid")()

	err := s.withTx(ctx, "remove history", func(tx *sql.Tx) error {
		accountPK, remotePK, found, err := s.lookupConversation(ctx, tx, account, remote)
		if err != nil || !found {
			return err
		}
		for _, table := range append(sideTables, "message") {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE fk_account_pk = ? AND fk_remote_pk = ?", accountPK, remotePK)
			if err != nil {
				return fmt.Errorf("remove %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("removed history", "account", account.String(), "remote", remote.String())
	return nil
}

// RemoveAllHistory removes every message and side record of every account.
func (s *Store) RemoveAllHistory(ctx context.Context) error {
	defer s.timeit("remove_all_history")()

	err := s.withTx(ctx, "remove all history", func(tx *sql.Tx) error {
		for _, table := range append(sideTables, "message") {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("remove %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("removed all chat history")
	return nil
}

// RemoveAccount removes the account and everything stored for it. Remote
// identities are kept.
func (s *Store) RemoveAccount(ctx context.Context, account jid.JID) error {
	defer s.timeit("remove_account")()

	err := s.withTx(ctx, "remove account", func(tx *sql.Tx) error {
		pk, found, err := s.lookup(ctx, tx, roleAccount, account)
		if err != nil || !found {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM account WHERE pk = ?", pk); err != nil {
			return fmt.Errorf("remove account: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.interns.evict(roleAccount, account)
	return nil
}

// CleanupChatHistory deletes, for every configured account with a history
// limit, the messages older than the limit. A limit of zero removes every
// message older than now. Accounts with NoHistoryLimit are skipped. Returns
// the number of message rows removed.
func (s *Store) CleanupChatHistory(ctx context.Context) (int, error) {
	defer s.timeit("cleanup_chat_history")()

	if s.accounts == nil {
		return 0, nil
	}

	var total int
	err := s.withTx(ctx, "cleanup chat history", func(tx *sql.Tx) error {
		for _, acc := range s.accounts.Accounts() {
			// Only NoHistoryLimit is negative in practice; any other negative
			// limit is treated the same.
			if acc.HistoryMaxAge < 0 {
				continue
			}
			accountPK, found, err := s.lookup(ctx, tx, roleAccount, acc.Address)
			if err != nil {
				return err
			}
			if !found {
				continue
			}

			threshold := s.now().Add(-acc.HistoryMaxAge)
			msgs, err := s.selectMessages(ctx, tx, queryir.Select{
				Filter: queryir.All(
					queryir.Equals{Field: "fk_account_pk", Value: accountPK},
					queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: threshold},
				),
			})
			if err != nil {
				return err
			}

			removed := make(map[int64]bool)
			for _, m := range msgs {
				if removed[m.row.PK] {
					continue
				}
				pks, err := s.deleteMessage(ctx, tx, m)
				if err != nil {
					return err
				}
				for _, pk := range pks {
					if !removed[pk] {
						removed[pk] = true
						total++
					}
				}
			}
			s.log.Info("removed old messages", "account", acc.Name, "before", threshold.UTC().Format(time.RFC3339), "count", len(removed))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

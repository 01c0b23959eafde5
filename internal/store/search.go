package store

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/queryir"
)

// pageSize is the number of rows fetched per page by streaming reads.
const pageSize = 25

// SearchOptions scopes a full-text search. Zero fields do not restrict the
// search.
type SearchOptions struct {
	// Account limits the search to one account. When zero, every active
	// account is searched.
	Account jid.JID
	Remote  jid.JID

	// Text is matched as a case-insensitive substring.
	Text string

	// Resources restricts results to messages from these nicknames,
	// compared case-insensitively.
	Resources []string

	// After and Before bound the message timestamp to [After, Before).
	// A zero Before means now.
	After  time.Time
	Before time.Time
}

const moderatedSQL = `SELECT 1 FROM moderation mo
	WHERE mo.stanza_id = message_view.stanza_id
		AND mo.fk_remote_pk = message_view.fk_remote_pk
		AND mo.fk_account_pk = message_view.fk_account_pk`

const retractedSQL = `SELECT 1 FROM retraction re
	WHERE re.fk_remote_pk = message_view.fk_remote_pk
		AND re.fk_account_pk = message_view.fk_account_pk
		AND re.direction = message_view.direction
		AND re.id = CASE WHEN message_view.type = ? THEN message_view.stanza_id ELSE message_view.id END
		AND (message_view.fk_occupant_pk IS NULL OR re.fk_occupant_pk IS NULL
			OR re.fk_occupant_pk = message_view.fk_occupant_pk)`

// Search streams the messages matching opts, newest first, fetching them a
// page at a time. Moderated and retracted messages are skipped.
//
// The sequence is single-pass: ranging over it a second time yields
// ErrSequenceConsumed.
func (s *Store) Search(ctx context.Context, opts SearchOptions) iter.Seq2[*model.MessageRow, error] {
	return s.stream(ctx, "search", func(ctx context.Context) (queryir.Predicate, bool, error) {
		return s.searchFilter(ctx, opts)
	})
}

func (s *Store) searchFilter(ctx context.Context, opts SearchOptions) (queryir.Predicate, bool, error) {
	var preds []queryir.Predicate

	switch {
	case !opts.Account.IsZero():
		pk, found, err := s.lookup(ctx, s.db, roleAccount, opts.Account)
		if err != nil || !found {
			return nil, false, err
		}
		preds = append(preds, queryir.Equals{Field: "fk_account_pk", Value: pk})
	case s.accounts != nil:
		var pks []any
		for _, acc := range s.accounts.Accounts() {
			if !acc.Active {
				continue
			}
			pk, found, err := s.lookup(ctx, s.db, roleAccount, acc.Address)
			if err != nil {
				return nil, false, err
			}
			if found {
				pks = append(pks, pk)
			}
		}
		if len(pks) == 0 {
			return nil, false, nil
		}
		preds = append(preds, queryir.In{Field: "fk_account_pk", Values: pks})
	}

	if !opts.Remote.IsZero() {
		pk, found, err := s.lookup(ctx, s.db, roleRemote, opts.Remote)
		if err != nil || !found {
			return nil, false, err
		}
		preds = append(preds, queryir.Equals{Field: "fk_remote_pk", Value: pk})
	}

	if opts.Text != "" {
		preds = append(preds, queryir.Contains{Field: "text", Substring: opts.Text})
	}
	if len(opts.Resources) > 0 {
		values := make([]any, len(opts.Resources))
		for i, r := range opts.Resources {
			values[i] = r
		}
		preds = append(preds, queryir.In{Field: "resource", Values: values, Fold: true})
	}

	if !opts.After.IsZero() {
		preds = append(preds, queryir.Compare{Field: "timestamp", Op: queryir.OpGreaterEq, Value: opts.After})
	}
	before := opts.Before
	if before.IsZero() {
		before = s.now()
	}
	preds = append(preds,
		queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: before},
		queryir.NotExists{SQL: moderatedSQL},
		queryir.NotExists{SQL: retractedSQL, Args: []any{int(model.MessageTypeGroupchat)}},
	)
	return queryir.All(preds...), true, nil
}

// ExportMessages streams every message of a conversation except
// corrections, newest first. The sequence is single-pass.
func (s *Store) ExportMessages(ctx context.Context, account, remote jid.JID) iter.Seq2[*model.MessageRow, error] {
	return s.stream(ctx, "export", func(ctx context.Context) (queryir.Predicate, bool, error) {
		accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
		if err != nil || !found {
			return nil, false, err
		}
		return queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.IsNull{Field: "correction_id"},
		), true, nil
	})
}

// stream pages through the messages matching the filter built by scope,
// newest first. Pages are keyed on (timestamp, pk) of the last row seen,
// so rows written while the caller iterates do not shift the pages. No
// query is left open between pages.
func (s *Store) stream(ctx context.Context, op string, scope func(context.Context) (queryir.Predicate, bool, error)) iter.Seq2[*model.MessageRow, error] {
	var consumed atomic.Bool
	return func(yield func(*model.MessageRow, error) bool) {
		if consumed.Swap(true) {
			yield(nil, ErrSequenceConsumed)
			return
		}

		base, ok, err := scope(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if !ok {
			return
		}

		var last *storedMessage
		for {
			filter := base
			if last != nil {
				filter = queryir.All(base, queryir.Or{Predicates: []queryir.Predicate{
					queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: last.timestamp},
					queryir.All(
						queryir.Equals{Field: "timestamp", Value: last.timestamp},
						queryir.Compare{Field: "pk", Op: queryir.OpLess, Value: last.row.PK},
					),
				}})
			}

			rows, msgs, err := s.page(ctx, op, filter)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
			if len(msgs) < pageSize {
				return
			}
			last = msgs[len(msgs)-1]
		}
	}
}

func (s *Store) page(ctx context.Context, op string, filter queryir.Predicate) ([]*model.MessageRow, []*storedMessage, error) {
	defer s.timeit(op + "_page")()

	msgs, err := s.selectMessages(ctx, s.db, queryir.Select{
		Filter:  filter,
		OrderBy: []queryir.Order{queryir.Desc("timestamp")},
		Limit:   pageSize,
	})
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.newAssembler(s.db).assemble(ctx, msgs)
	if err != nil {
		return nil, nil, err
	}
	return rows, msgs, nil
}

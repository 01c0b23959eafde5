package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/queryir"
)

// GetDaysContainingMessages returns the days of month, as seen from loc,
// on which the conversation has at least one message. The month bounds are
// local midnights converted to UTC, so a message late on the last day of
// a month in UTC can fall on the first day of the next one locally.
func (s *Store) GetDaysContainingMessages(ctx context.Context, account, remote jid.JID, year int, month time.Month, loc *time.Location) ([]int, error) {
	defer s.timeit("get_days_containing_messages")()

	if loc == nil {
		loc = time.Local
	}

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}

	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	query, args, err := s.compiler.Compile(queryir.Select{
		From:    "message",
		Columns: []string{"timestamp"},
		Filter: queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.IsNull{Field: "correction_id"},
			queryir.Compare{Field: "timestamp", Op: queryir.OpGreaterEq, Value: start},
			queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: end},
		),
		OrderBy: []queryir.Order{queryir.Asc("timestamp")},
	})
	if err != nil {
		return nil, err
	}

	stamps, err := queryAll(ctx, s.db, func(rows *sql.Rows) (float64, error) {
		var ts float64
		err := rows.Scan(&ts)
		return ts, err
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get days containing messages: %w", err)
	}

	seen := make(map[int]bool)
	for _, ts := range stamps {
		seen[fromEpoch(ts).In(loc).Day()] = true
	}

	days := make([]int, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Ints(days)
	return days, nil
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/store"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Account   string
	JID       string
	Resources []string
	After     string
	Before    string
	Limit     int
	TZ        string
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Search archived messages",
		Long: `Search message text across the archive, newest first.

Matching is a case-insensitive substring match. Without --account every
active account is searched. Moderated and retracted messages are never
returned; corrections are matched through the message they correct.

Examples:
  msgarchive search hello
  msgarchive search --account main --jid friend@example.org "see you"
  msgarchive search --jid room@conference.example.org --resource alice --after 2024-01-01`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.Account, "account", "a", "", "account name or address")
	cmd.Flags().StringVarP(&opts.JID, "jid", "j", "", "conversation address")
	cmd.Flags().StringSliceVarP(&opts.Resources, "resource", "r", nil, "only messages from these nicknames")
	cmd.Flags().StringVar(&opts.After, "after", "", "only messages at or after this date or RFC 3339 time")
	cmd.Flags().StringVar(&opts.Before, "before", "", "only messages before this date or RFC 3339 time")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum number of results (0 for all)")
	cmd.Flags().StringVar(&opts.TZ, "tz", "UTC", "time zone for dates and text output")

	return cmd
}

func runSearch(opts *SearchOptions, cmd *cobra.Command, text string) error {
	loc, err := loadLocation(opts.TZ)
	if err != nil {
		return err
	}
	after, err := parseTime(opts.After, loc)
	if err != nil {
		return err
	}
	before, err := parseTime(opts.Before, loc)
	if err != nil {
		return err
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "limit must not be negative")
	}

	e, err := openEnv(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	e.out.Location = loc

	account, err := e.resolveAccount(opts.Account)
	if err != nil {
		return err
	}
	remote, err := parseRemote(opts.JID)
	if err != nil {
		return err
	}

	var rows []*model.MessageRow
	results := e.archive.Search(e.ctx, store.SearchOptions{
		Account:   account,
		Remote:    remote,
		Text:      text,
		Resources: opts.Resources,
		After:     after,
		Before:    before,
	})
	for row, err := range results {
		if err != nil {
			return WrapExitError(ExitFailure, "search failed", err)
		}
		rows = append(rows, row)
		if opts.Limit > 0 && len(rows) == opts.Limit {
			break
		}
	}
	e.out.VerboseLog("%d results", len(rows))
	return e.out.Messages(rows)
}

func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("unknown time zone %q", name), err)
	}
	return loc, nil
}

// parseTime accepts a calendar date, interpreted as midnight in loc, or an
// RFC 3339 timestamp.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid time %q: want YYYY-MM-DD or RFC 3339", s))
	}
	return t, nil
}

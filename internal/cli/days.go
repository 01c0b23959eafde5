package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// DaysOptions holds flags for the days command.
type DaysOptions struct {
	*RootOptions
	Account string
	JID     string
	Month   string
	TZ      string
}

// DaysResult is the output of the days command.
type DaysResult struct {
	Month    string `json:"month"`
	TimeZone string `json:"time_zone"`
	Days     []int  `json:"days"`
}

func (r DaysResult) String() string {
	days := make([]string, len(r.Days))
	for i, d := range r.Days {
		days[i] = fmt.Sprint(d)
	}
	return strings.Join(days, " ")
}

// NewDaysCommand creates the days command.
func NewDaysCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaysOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "days",
		Short: "List the days of a month that have messages",
		Long: `List the days of a calendar month on which a conversation has messages.

Days are computed in the given time zone, so a message sent late in the
evening in UTC may fall on the next day elsewhere. Corrections do not count.

Examples:
  msgarchive days --account main --jid friend@example.org --month 2024-01
  msgarchive days --account main --jid friend@example.org --month 2024-01 --tz Europe/Berlin`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDays(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Account, "account", "a", "", "account name or address (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVarP(&opts.JID, "jid", "j", "", "conversation address (required)")
	_ = cmd.MarkFlagRequired("jid")
	cmd.Flags().StringVarP(&opts.Month, "month", "m", "", "month as YYYY-MM (required)")
	_ = cmd.MarkFlagRequired("month")
	cmd.Flags().StringVar(&opts.TZ, "tz", "Local", "time zone the calendar is shown in")

	return cmd
}

func runDays(opts *DaysOptions, cmd *cobra.Command) error {
	month, err := time.Parse("2006-01", opts.Month)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid month %q: want YYYY-MM", opts.Month))
	}
	loc, err := loadLocation(opts.TZ)
	if err != nil {
		return err
	}

	e, err := openEnv(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	account, err := e.resolveAccount(opts.Account)
	if err != nil {
		return err
	}
	remote, err := parseRemote(opts.JID)
	if err != nil {
		return err
	}

	days, err := e.archive.GetDaysContainingMessages(e.ctx, account, remote, month.Year(), month.Month(), loc)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list days", err)
	}
	if days == nil {
		days = []int{}
	}
	return e.out.Success(DaysResult{Month: opts.Month, TimeZone: loc.String(), Days: days})
}

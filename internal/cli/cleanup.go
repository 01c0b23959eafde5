package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CleanupResult is the output of the cleanup command.
type CleanupResult struct {
	Removed int `json:"removed"`
}

func (r CleanupResult) String() string {
	return fmt.Sprintf("removed %d messages", r.Removed)
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply per-account history limits",
		Long: `Delete messages older than each account's history_max_age, together
with their corrections and the errors, moderations and retractions that
refer to them. Accounts without a limit are left alone.

Examples:
  msgarchive cleanup
  msgarchive cleanup --config ~/.config/msgarchive/config.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(rootOpts, cmd)
		},
	}
	return cmd
}

func runCleanup(opts *RootOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	removed, err := e.archive.CleanupChatHistory(e.ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "cleanup failed", err)
	}
	return e.out.Success(CleanupResult{Removed: removed})
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RemoveOptions holds flags for the remove command.
type RemoveOptions struct {
	*RootOptions
	Account     string
	JID         string
	All         bool
	AccountData bool
	Yes         bool
}

// RemoveResult is the output of the remove command.
type RemoveResult struct {
	Removed string `json:"removed"`
}

func (r RemoveResult) String() string {
	return "removed " + r.Removed
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove history from the archive",
		Long: `Remove history from the archive. Exactly one mode must be chosen:

  --account A --jid J      history of one conversation
  --all                    history of every conversation
  --account A --account-data
                           the account itself with everything stored for
                           it, including its cached roster and counters

Removed rows are overwritten on disk. Nothing is removed without --yes.

Examples:
  msgarchive remove --account main --jid friend@example.org --yes
  msgarchive remove --all --yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Account, "account", "a", "", "account name or address")
	cmd.Flags().StringVarP(&opts.JID, "jid", "j", "", "conversation address")
	cmd.Flags().BoolVar(&opts.All, "all", false, "remove the history of every conversation")
	cmd.Flags().BoolVar(&opts.AccountData, "account-data", false, "remove the account and all of its data")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm the removal")

	return cmd
}

func runRemove(opts *RemoveOptions, cmd *cobra.Command) error {
	modes := 0
	for _, set := range []bool{opts.JID != "", opts.All, opts.AccountData} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return NewExitError(ExitCommandError, "choose exactly one of --jid, --all or --account-data")
	}
	if !opts.All && opts.Account == "" {
		return NewExitError(ExitCommandError, "--account is required")
	}
	if !opts.Yes {
		return NewExitError(ExitCommandError, "refusing to remove history without --yes")
	}

	e, err := openEnv(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	switch {
	case opts.All:
		if err := e.archive.RemoveAllHistory(e.ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to remove history", err)
		}
		return e.out.Success(RemoveResult{Removed: "all history"})

	case opts.AccountData:
		return removeAccount(e, opts.Account)

	default:
		account, err := e.resolveAccount(opts.Account)
		if err != nil {
			return err
		}
		remote, err := parseRemote(opts.JID)
		if err != nil {
			return err
		}
		if err := e.archive.RemoveHistoryForJID(e.ctx, account, remote); err != nil {
			return WrapExitError(ExitFailure, "failed to remove history", err)
		}
		return e.out.Success(RemoveResult{Removed: fmt.Sprintf("history of %s", remote)})
	}
}

// removeAccount deletes the account from the archive and, when the account
// is configured, its cache entries.
func removeAccount(e *env, name string) error {
	account, err := e.resolveAccount(name)
	if err != nil {
		return err
	}
	if err := e.archive.RemoveAccount(e.ctx, account); err != nil {
		return WrapExitError(ExitFailure, "failed to remove account", err)
	}

	if acc, ok := e.cfg.Account(name); ok {
		c, err := e.openCache()
		if err != nil {
			return err
		}
		removeErr := c.RemoveAccount(e.ctx, acc.Name)
		if err := c.Close(); removeErr == nil {
			removeErr = err
		}
		if removeErr != nil {
			return WrapExitError(ExitFailure, "failed to remove cached account data", removeErr)
		}
	}
	return e.out.Success(RemoveResult{Removed: fmt.Sprintf("account %s", account)})
}

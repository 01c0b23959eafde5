package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/msgarchive/internal/model"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Account string
	JID     string
	TZ      string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the history of a conversation",
		Long: `Export every message of a conversation, newest first.

Each message is shown with its latest revision. Retracted messages are
listed as retracted without their text.

Examples:
  msgarchive export --account main --jid friend@example.org
  msgarchive export --account main --jid friend@example.org --format json > history.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Account, "account", "a", "", "account name or address (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVarP(&opts.JID, "jid", "j", "", "conversation address (required)")
	_ = cmd.MarkFlagRequired("jid")
	cmd.Flags().StringVar(&opts.TZ, "tz", "UTC", "time zone for text output")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	loc, err := loadLocation(opts.TZ)
	if err != nil {
		return err
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
	for row, err := range e.archive.ExportMessages(e.ctx, account, remote) {
		if err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}
		rows = append(rows, row)
	}
	return e.out.Messages(rows)
}

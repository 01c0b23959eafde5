package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
}

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("archive %s is at schema version %d", r.Path, r.SchemaVersion)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the archive schema",
		Long: `Create the archive if it does not exist, or bring an existing archive
up to the current schema version.

Legacy flat archives are backed up next to the database file before their
messages are rewritten. Progress is reported every 1000 messages. Running
migrate on an up-to-date archive changes nothing.

Examples:
  msgarchive migrate
  msgarchive migrate --db ./logs.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}
	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	progress := func(processed, total int) {
		if opts.Format != "json" {
			fmt.Fprintf(cmd.ErrOrStderr(), "migrated %d/%d messages\n", processed, total)
		}
	}

	e, err := openEnv(cmd, opts.RootOptions, progress)
	if err != nil {
		return err
	}
	defer e.Close()

	version, err := e.archive.SchemaVersion(e.ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read schema version", err)
	}
	return e.out.Success(MigrateResult{Path: e.archive.Path(), SchemaVersion: version})
}

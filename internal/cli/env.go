package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/msgarchive/internal/cache"
	"github.com/roach88/msgarchive/internal/config"
	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/store"
)

// env is what a command works against: the loaded configuration, a logger
// and the opened archive.
type env struct {
	ctx     context.Context
	opts    *RootOptions
	cfg     *config.Config
	log     *slog.Logger
	archive *store.Store
	metrics *prometheus.Registry
	out     *OutputFormatter
}

// openEnv loads the configuration and opens the archive, migrating it if
// needed. progress may be nil.
func openEnv(cmd *cobra.Command, opts *RootOptions, progress store.ProgressFunc) (*env, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	e := &env{
		ctx:     ctx,
		opts:    opts,
		cfg:     cfg,
		log:     newLogger(cmd.ErrOrStderr(), opts.Format, opts.Verbose, cfg.LogLevel),
		metrics: prometheus.NewRegistry(),
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}

	e.archive, err = store.Open(ctx, cfg.ArchivePath, store.Options{
		Logger:     e.log,
		Accounts:   cfg,
		Registerer: e.metrics,
		Progress:   progress,
	})
	if err != nil {
		return nil, WrapExitError(ExitStorageFatal, "failed to open archive", err)
	}
	return e, nil
}

// Close closes the archive. In verbose mode the collected operation
// metrics are logged first.
func (e *env) Close() error {
	if e.opts.Verbose {
		logMetrics(e.log, e.metrics)
	}
	return e.archive.Close()
}

// openCache opens the cache store configured next to the archive.
func (e *env) openCache() (*cache.Store, error) {
	c, err := cache.Open(e.ctx, e.cfg.CachePath, cache.Options{
		Logger:      e.log,
		CommitDelay: e.cfg.CommitDelay,
	})
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open cache", err)
	}
	return c, nil
}

// resolveAccount accepts a configured account name or a bare address.
func (e *env) resolveAccount(s string) (jid.JID, error) {
	if s == "" {
		return jid.JID{}, nil
	}
	if acc, ok := e.cfg.Account(s); ok {
		return acc.Address, nil
	}
	addr, err := jid.ParseBare(s)
	if err != nil {
		return jid.JID{}, WrapExitError(ExitCommandError, fmt.Sprintf("unknown account %q", s), err)
	}
	return addr, nil
}

func parseRemote(s string) (jid.JID, error) {
	if s == "" {
		return jid.JID{}, nil
	}
	addr, err := jid.ParseBare(s)
	if err != nil {
		return jid.JID{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid address %q", s), err)
	}
	return addr, nil
}

// loadConfig reads the config file. Without an explicit --config, a missing
// default file is tolerated when --db names the archive.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			if opts.Database == "" {
				return nil, WrapExitError(ExitCommandError, "failed to locate config", err)
			}
			return config.New(opts.Database), nil
		}
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && opts.Database != "" && errors.Is(err, fs.ErrNotExist):
		return config.New(opts.Database), nil
	default:
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if opts.Database != "" {
		cfg.ArchivePath = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger on w. The json format selects the
// JSON handler; verbose forces debug level.
func newLogger(w io.Writer, format string, verbose bool, level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// logMetrics writes one debug line per collected series.
func logMetrics(log *slog.Logger, reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		log.Debug("failed to gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			attrs := []any{"metric", mf.GetName(), "labels", strings.Join(labels, ",")}
			if h := m.GetHistogram(); h != nil {
				attrs = append(attrs, "count", h.GetSampleCount(), "sum_seconds", h.GetSampleSum())
			}
			if c := m.GetCounter(); c != nil {
				attrs = append(attrs, "value", c.GetValue())
			}
			log.Debug("metric", attrs...)
		}
	}
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Schema version tracking:
// 0-7 - Legacy flat logs table, extended column by column
// 8   - Normalized schema; logs migrated and dropped
// 9   - UNIQUE index on message stanza ids
// 10  - Orphaned occupants and remotes pruned
// 11  - Tables added after 8 created
// 12  - Message markup columns and the call table
const currentSchemaVersion = 12

// legacyVersion is the last version using the flat logs table.
const legacyVersion = 7

type migration struct {
	version int
	run     func(ctx context.Context, tx *sql.Tx) error
}

func (s *Store) migrations() []migration {
	return []migration{
		{1, legacyAddColumns("logs", "account_id INTEGER", "stanza_id TEXT", "encryption TEXT",
			"encryption_state TEXT", "marker INTEGER", "additional_data TEXT")},
		{2, legacyAddColumns("last_archive_message", "sync_threshold INTEGER")},
		{3, legacyAddColumns("logs", "message_id TEXT")},
		{4, legacyAddColumns("logs", "error TEXT")},
		{7, legacyAddColumns("logs", "real_jid TEXT", "occupant_id TEXT")},
		{8, s.migrateLegacyLogs},
		{9, migrateStanzaIndex},
		{10, pruneOrphans},
		{11, applySchema},
		{12, migrateMarkupAndCalls},
	}
}

// migrate brings the schema to currentSchemaVersion. Databases without
// the legacy logs table start directly at the current schema. A legacy
// archive is copied aside before it is converted.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fatal("read schema version", err)
	}
	if version > currentSchemaVersion {
		return fatal("check schema version",
			fmt.Errorf("archive version %d is newer than supported version %d", version, currentSchemaVersion))
	}

	legacy, err := tableExists(ctx, s.db, "logs")
	if err != nil {
		return fatal("inspect archive", err)
	}

	if version <= legacyVersion && !legacy {
		err := s.withTx(ctx, "create schema", func(tx *sql.Tx) error {
			if err := applySchema(ctx, tx); err != nil {
				return err
			}
			return setVersion(ctx, tx, currentSchemaVersion)
		})
		if err != nil {
			return fatal("create schema", err)
		}
		return nil
	}

	var backup string
	if version <= legacyVersion {
		if backup, err = s.backup(ctx); err != nil {
			return fatal("backup archive", err)
		}
		s.log.Info("migrating legacy archive", "version", version, "backup", backup)
	}

	for _, m := range s.migrations() {
		if version >= m.version {
			continue
		}
		err := s.withTx(ctx, fmt.Sprintf("migrate to v%d", m.version), func(tx *sql.Tx) error {
			if err := m.run(ctx, tx); err != nil {
				return err
			}
			return setVersion(ctx, tx, m.version)
		})
		if err != nil {
			return &FatalError{Op: fmt.Sprintf("migrate to v%d", m.version), Backup: backup, Err: err}
		}
		s.log.Info("archive migrated", "version", m.version)
		version = m.version
	}
	return nil
}

// backup copies the archive next to itself as <path>.<random>.bak. In
// memory databases have nothing to protect and are not copied.
func (s *Store) backup(ctx context.Context) (string, error) {
	if s.path == "" || s.path == ":memory:" || strings.Contains(s.path, "mode=memory") {
		return "", nil
	}

	name := fmt.Sprintf("%s.%s.bak", strings.TrimPrefix(s.path, "file:"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	if i := strings.IndexByte(name, '?'); i >= 0 {
		return "", fmt.Errorf("cannot derive backup name from %q", s.path)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", name); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", name, err)
	}
	return name, nil
}

func applySchema(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func setVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// legacyAddColumns adds columns to a legacy table. Columns that already
// exist are skipped.
func legacyAddColumns(table string, columns ...string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		if table == "last_archive_message" {
			if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS last_archive_message (
				jid_id INTEGER PRIMARY KEY UNIQUE,
				last_mam_id TEXT,
				oldest_mam_timestamp TEXT,
				last_muc_timestamp TEXT
			)`); err != nil {
				return fmt.Errorf("create last_archive_message: %w", err)
			}
		}
		return addColumns(ctx, tx, table, columns...)
	}
}

func migrateStanzaIndex(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_message_stanza_id
		ON message(stanza_id, fk_remote_pk, fk_account_pk)
	`)
	if err != nil {
		return fmt.Errorf("create stanza id index: %w", err)
	}
	return nil
}

// migrateMarkupAndCalls adds the markup columns to message and recreates
// message_view to expose them. The call table comes from the schema.
func migrateMarkupAndCalls(ctx context.Context, tx *sql.Tx) error {
	if err := addColumns(ctx, tx, "message", "markup_type INTEGER", "markup TEXT"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS message_view"); err != nil {
		return fmt.Errorf("drop message_view: %w", err)
	}
	return applySchema(ctx, tx)
}

// addColumns adds columns to table, skipping those that already exist.
func addColumns(ctx context.Context, tx *sql.Tx, table string, columns ...string) error {
	for _, col := range columns {
		_, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col))
		if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("add column %s.%s: %w", table, col, err)
		}
	}
	return nil
}

// pruneOrphans deletes occupants no record refers to, then remotes no row
// refers to.
func pruneOrphans(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM occupant WHERE pk NOT IN (
			SELECT fk_occupant_pk FROM message WHERE fk_occupant_pk IS NOT NULL
			UNION SELECT fk_occupant_pk FROM moderation WHERE fk_occupant_pk IS NOT NULL
			UNION SELECT fk_occupant_pk FROM displayed_marker WHERE fk_occupant_pk IS NOT NULL
			UNION SELECT fk_occupant_pk FROM reaction WHERE fk_occupant_pk IS NOT NULL
			UNION SELECT fk_occupant_pk FROM retraction WHERE fk_occupant_pk IS NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("prune occupants: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM remote WHERE pk NOT IN (
			SELECT fk_remote_pk FROM occupant
			UNION SELECT fk_real_remote_pk FROM occupant WHERE fk_real_remote_pk IS NOT NULL
			UNION SELECT fk_remote_pk FROM thread
			UNION SELECT fk_remote_pk FROM securitylabel
			UNION SELECT fk_remote_pk FROM error
			UNION SELECT fk_remote_pk FROM moderation
			UNION SELECT fk_remote_pk FROM retraction
			UNION SELECT fk_remote_pk FROM reaction
			UNION SELECT fk_remote_pk FROM displayed_marker
			UNION SELECT fk_remote_pk FROM receipt
			UNION SELECT fk_remote_pk FROM mam_archive_state
			UNION SELECT fk_remote_pk FROM message
		)`)
	if err != nil {
		return fmt.Errorf("prune remotes: %w", err)
	}
	return nil
}

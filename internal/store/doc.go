// Package store provides the SQLite-backed message archive.
//
// The archive holds:
//   - Identities: accounts and remotes, interned to integer keys on first use
//   - Messages: one row per message or correction, with owned attachments
//   - Side records: errors, moderations, retractions, reactions, displayed
//     markers and receipts, joined to messages by protocol identifiers
//   - Archive state: the synchronized range of each remote server archive
//
// # Write Discipline
//
// Every public write runs in one transaction. Natural key collisions are
// reported as *ConflictError and handled per call by a ConflictPolicy.
// Occupants and security labels only merge strictly newer revisions;
// reactions are replaced in a single conditional statement.
//
// # Read Discipline
//
// Reads return *model.MessageRow snapshots with corrections, reactions,
// retraction, moderation, error, receipt and markers resolved. Windowed
// reads never return corrections as rows of their own. Streaming reads
// page on (timestamp, pk) and hold no query open between pages.
//
// # Timestamps
//
// Times are stored as REAL epoch seconds with microsecond precision and
// compared in UTC. Calendar queries convert local day bounds to UTC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - secure_delete=ON: Overwrite removed history on disk
//
// Opening an archive migrates it to the current schema version. Legacy flat
// archives are backed up before conversion; a failed migration is fatal.
package store

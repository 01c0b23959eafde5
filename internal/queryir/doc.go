// Package queryir describes archive reads as data.
//
// The dynamic read paths of the archive (conversation windows, search,
// export, calendar lookups) differ only in their filters and ordering. They
// build a Select here and hand it to a backend compiler:
//
//	[store read path] → [queryir.Select] → [querysql.SQLCompiler] → SQL + args
//
// Query and Predicate are sealed interfaces so that backends can switch over
// every node type. Values never appear in generated SQL; only identifiers
// that pass Validate are interpolated.
//
// # Ordering
//
// Every compiled query ends in the primary key so that rows sharing a
// timestamp come back in a stable order, which keyset pagination in search
// relies on.
package queryir

// Package archive stores a transcript of finished turns in PostgreSQL.
//
// Conversations hand turns to a TurnWriter, which never blocks the caller:
// turns are buffered, written in batches, and dropped (and counted) when the
// buffer is full. Inserts are append-only; a turn already archived is
// skipped via ON CONFLICT DO NOTHING.
package archive

// Package storage owns the embedded SQLite database used by the forwarder.
//
// It opens the database with the pragmas SQLite wants for a single-process
// writer (WAL, busy timeout, one connection) and applies the schema. The
// outbox, queue and mapping packages operate on the tables declared here
// through the shared *sql.DB.
//
// It also provides SentLog, a durable record of messages this bot has sent.
// The Telegram adapter serves history scans from it, which is what makes the
// notifier's correlation-marker check survive process restarts. The sent log
// lives in its own database file (OpenSentLog): history scans run while a
// dispatcher transaction holds the main database's only connection.
package storage

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

// schema is applied on every Open. All statements are idempotent, so
// opening an existing database is a no-op and a database created by a
// newer binary with additive columns keeps working for reads.
//
// Timestamps are Unix nanoseconds (INTEGER). Nullable timestamp
// columns (read_at, acked_at, released_at) are NULL until the state
// flips; NULL maps to the zero time.Time on read.
const schema = `
	CREATE TABLE IF NOT EXISTS sequence_counter (
		id    INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO sequence_counter (id, value) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS agents (
		id               INTEGER PRIMARY KEY,
		name             TEXT NOT NULL UNIQUE,
		slug             TEXT NOT NULL UNIQUE,
		program          TEXT NOT NULL DEFAULT '',
		model            TEXT NOT NULL DEFAULT '',
		task_description TEXT NOT NULL DEFAULT '',
		registered_at    INTEGER NOT NULL,
		last_active_at   INTEGER NOT NULL,
		inactive         INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq          INTEGER PRIMARY KEY,
		sender       TEXT NOT NULL,
		subject      TEXT NOT NULL,
		body         TEXT NOT NULL DEFAULT '',
		importance   INTEGER NOT NULL DEFAULT 1,
		ack_required INTEGER NOT NULL DEFAULT 0,
		parent_seq   INTEGER NOT NULL DEFAULT 0,
		thread_root  INTEGER NOT NULL,
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_root, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS deliveries (
		message_seq  INTEGER NOT NULL,
		recipient    TEXT NOT NULL,
		position     INTEGER NOT NULL,
		read         INTEGER NOT NULL DEFAULT 0,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		delivered_at INTEGER NOT NULL,
		read_at      INTEGER,
		acked_at     INTEGER,
		PRIMARY KEY (message_seq, recipient)
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON deliveries(recipient, read, message_seq);

	CREATE TABLE IF NOT EXISTS reservations (
		id           INTEGER PRIMARY KEY,
		agent        TEXT NOT NULL,
		path_pattern TEXT NOT NULL,
		exclusive    INTEGER NOT NULL DEFAULT 0,
		reason       TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		expires_at   INTEGER NOT NULL,
		released_at  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_agent ON reservations(agent, released_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON reservations(expires_at);
`

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/mailroom/mail"
)

// CreateMessage assigns the next sequence id, inserts the message row
// and one delivery row per recipient, and fills in message.Seq. The
// whole write is one IMMEDIATE transaction: a crash mid-insert leaves
// no message, no deliveries, and no consumed sequence id.
//
// For replies (ParentSeq set) the thread root is resolved from the
// parent inside the same transaction; a dangling ParentSeq fails the
// send with ErrNotFound wrapped.
func (s *Store) CreateMessage(ctx context.Context, message *mail.Message) (err error) {
	if len(message.Recipients) == 0 {
		return fmt.Errorf("store: message has no recipients")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	seq, err := nextSeq(conn)
	if err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}

	threadRoot := seq
	if message.ParentSeq != 0 {
		threadRoot, err = threadRootOf(conn, message.ParentSeq)
		if err != nil {
			return fmt.Errorf("store: create message: %w", err)
		}
	}

	err = sqlitex.Execute(conn, `INSERT INTO messages
		(seq, sender, subject, body, importance, ack_required, parent_seq, thread_root, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			seq,
			message.Sender,
			message.Subject,
			message.Body,
			int64(message.Importance),
			boolValue(message.AckRequired),
			message.ParentSeq,
			threadRoot,
			message.CreatedAt.UnixNano(),
		},
	})
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}

	for position, recipient := range message.Recipients {
		err = sqlitex.Execute(conn, `INSERT INTO deliveries
			(message_seq, recipient, position, delivered_at)
			VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{seq, recipient, position, message.CreatedAt.UnixNano()},
		})
		if err != nil {
			return fmt.Errorf("store: insert delivery for %q: %w", recipient, err)
		}
	}

	message.Seq = seq
	message.Project = s.project
	return nil
}

// threadRootOf returns the thread root of an existing message.
func threadRootOf(conn *sqlite.Conn, seq int64) (int64, error) {
	var root int64
	found := false
	err := sqlitex.Execute(conn, "SELECT thread_root FROM messages WHERE seq = ?", &sqlitex.ExecOptions{
		Args: []any{seq},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			root = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("resolving thread root of %d: %w", seq, err)
	}
	if !found {
		return 0, fmt.Errorf("parent message %d: %w", seq, ErrNotFound)
	}
	return root, nil
}

// MessageBySeq returns one message with its recipient list
// reassembled in the order the sender gave it.
func (s *Store) MessageBySeq(ctx context.Context, seq int64) (*mail.Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: message by seq: %w", err)
	}
	defer s.pool.Put(conn)

	var message *mail.Message
	err = sqlitex.Execute(conn, `SELECT seq, sender, subject, body, importance,
		ack_required, parent_seq, created_at
		FROM messages WHERE seq = ?`, &sqlitex.ExecOptions{
		Args: []any{seq},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := s.scanMessage(stmt)
			message = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: message by seq %d: %w", seq, err)
	}
	if message == nil {
		return nil, fmt.Errorf("store: message %d: %w", seq, ErrNotFound)
	}

	recipients, err := recipientsOf(conn, []int64{seq})
	if err != nil {
		return nil, fmt.Errorf("store: message by seq %d: %w", seq, err)
	}
	message.Recipients = recipients[seq]
	return message, nil
}

// MessageFilter narrows a ListMessages scan. Zero-valued fields are
// not applied.
type MessageFilter struct {
	// Thread restricts to one thread by its root message's seq. The
	// root message itself is included.
	Thread int64

	// Sender restricts to messages sent by this agent name.
	Sender string

	// Since and Until bound CreatedAt, both inclusive.
	Since time.Time
	Until time.Time

	// MinImportance drops messages below this level. The zero value
	// (low) applies no filter.
	MinImportance mail.Importance

	// Descending returns newest-first. The default is sequence order,
	// oldest first.
	Descending bool

	// Limit caps the result count. Defaults to 100.
	Limit int
}

// ListMessages returns messages matching the filter with recipient
// lists attached, ordered by sequence id.
func (s *Store) ListMessages(ctx context.Context, filter MessageFilter) ([]mail.Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer s.pool.Put(conn)

	var conditions []string
	var args []any

	if filter.Thread != 0 {
		conditions = append(conditions, "thread_root = ?")
		args = append(args, filter.Thread)
	}
	if filter.Sender != "" {
		conditions = append(conditions, "sender = ?")
		args = append(args, filter.Sender)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.Until.UnixNano())
	}
	if filter.MinImportance > mail.ImportanceLow {
		conditions = append(conditions, "importance >= ?")
		args = append(args, int64(filter.MinImportance))
	}

	query := `SELECT seq, sender, subject, body, importance, ack_required, parent_seq, created_at FROM messages`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Descending {
		query += " DESC"
	}
	query += " LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	var messages []mail.Message
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			messages = append(messages, s.scanMessage(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}

	if err := s.attachRecipients(conn, messages); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return messages, nil
}

// InboxOptions narrows an Inbox fetch.
type InboxOptions struct {
	// UnreadOnly drops deliveries already marked read (acknowledging
	// marks read as a side effect).
	UnreadOnly bool

	// MinImportance drops messages below this level.
	MinImportance mail.Importance

	// Descending returns newest-first.
	Descending bool

	// Limit caps the result count. Defaults to 50.
	Limit int
}

// InboxEntry pairs a message with the recipient's own delivery state.
type InboxEntry struct {
	Message  mail.Message
	Delivery mail.Delivery
}

// Inbox returns the recipient's deliveries joined with their
// messages, ordered by sequence id.
func (s *Store) Inbox(ctx context.Context, recipient string, options InboxOptions) ([]InboxEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: inbox: %w", err)
	}
	defer s.pool.Put(conn)

	conditions := []string{"d.recipient = ?"}
	args := []any{recipient}

	if options.UnreadOnly {
		conditions = append(conditions, "d.read = 0")
	}
	if options.MinImportance > mail.ImportanceLow {
		conditions = append(conditions, "m.importance >= ?")
		args = append(args, int64(options.MinImportance))
	}

	query := `SELECT m.seq, m.sender, m.subject, m.body, m.importance, m.ack_required,
		m.parent_seq, m.created_at,
		d.read, d.acknowledged, d.delivered_at, d.read_at, d.acked_at
		FROM deliveries d JOIN messages m ON m.seq = d.message_seq
		WHERE ` + strings.Join(conditions, " AND ") + " ORDER BY m.seq"
	if options.Descending {
		query += " DESC"
	}
	query += " LIMIT ?"
	limit := options.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	var entries []InboxEntry
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry := InboxEntry{
				Message: s.scanMessage(stmt),
				Delivery: mail.Delivery{
					MessageSeq:   stmt.ColumnInt64(0),
					Recipient:    recipient,
					Read:         columnBool(stmt, 8),
					Acknowledged: columnBool(stmt, 9),
					DeliveredAt:  columnTime(stmt, 10),
					ReadAt:       columnTime(stmt, 11),
					AckedAt:      columnTime(stmt, 12),
				},
			}
			entries = append(entries, entry)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: inbox for %q: %w", recipient, err)
	}

	messages := make([]mail.Message, len(entries))
	for i := range entries {
		messages[i] = entries[i].Message
	}
	if err := s.attachRecipients(conn, messages); err != nil {
		return nil, fmt.Errorf("store: inbox for %q: %w", recipient, err)
	}
	for i := range entries {
		entries[i].Message.Recipients = messages[i].Recipients
	}
	return entries, nil
}

// InboxStatus returns the recipient's unread delivery count and the
// highest message seq ever delivered to them. This is the payload of
// the per-agent signal file.
func (s *Store) InboxStatus(ctx context.Context, recipient string) (unread int64, latestSeq int64, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("store: inbox status: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT
		COALESCE(SUM(CASE WHEN read = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(MAX(message_seq), 0)
		FROM deliveries WHERE recipient = ?`, &sqlitex.ExecOptions{
		Args: []any{recipient},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			unread = stmt.ColumnInt64(0)
			latestSeq = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("store: inbox status for %q: %w", recipient, err)
	}
	return unread, latestSeq, nil
}

// MarkRead flips a delivery to read. Idempotent: the original ReadAt
// survives repeated calls. Wraps ErrNotFound when the recipient has no
// delivery for the message.
func (s *Store) MarkRead(ctx context.Context, seq int64, recipient string, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE deliveries
		SET read = 1, read_at = COALESCE(read_at, ?)
		WHERE message_seq = ? AND recipient = ?`, &sqlitex.ExecOptions{
		Args: []any{at.UnixNano(), seq, recipient},
	})
	if err != nil {
		return fmt.Errorf("store: mark read %d for %q: %w", seq, recipient, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: delivery of %d to %q: %w", seq, recipient, ErrNotFound)
	}
	return nil
}

// Acknowledge flips a delivery to acknowledged, marking it read as a
// side effect. Idempotent like MarkRead.
func (s *Store) Acknowledge(ctx context.Context, seq int64, recipient string, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: acknowledge: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE deliveries
		SET read = 1, read_at = COALESCE(read_at, ?),
		    acknowledged = 1, acked_at = COALESCE(acked_at, ?)
		WHERE message_seq = ? AND recipient = ?`, &sqlitex.ExecOptions{
		Args: []any{at.UnixNano(), at.UnixNano(), seq, recipient},
	})
	if err != nil {
		return fmt.Errorf("store: acknowledge %d by %q: %w", seq, recipient, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: delivery of %d to %q: %w", seq, recipient, ErrNotFound)
	}
	return nil
}

// DeliveriesFor returns the per-recipient state rows of one message.
func (s *Store) DeliveriesFor(ctx context.Context, seq int64) ([]mail.Delivery, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: deliveries: %w", err)
	}
	defer s.pool.Put(conn)

	var deliveries []mail.Delivery
	err = sqlitex.Execute(conn, `SELECT recipient, read, acknowledged, delivered_at, read_at, acked_at
		FROM deliveries WHERE message_seq = ? ORDER BY position`, &sqlitex.ExecOptions{
		Args: []any{seq},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			deliveries = append(deliveries, mail.Delivery{
				MessageSeq:   seq,
				Recipient:    stmt.ColumnText(0),
				Read:         columnBool(stmt, 1),
				Acknowledged: columnBool(stmt, 2),
				DeliveredAt:  columnTime(stmt, 3),
				ReadAt:       columnTime(stmt, 4),
				AckedAt:      columnTime(stmt, 5),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: deliveries of %d: %w", seq, err)
	}
	return deliveries, nil
}

// DeleteMessage removes a message and all of its deliveries in one
// transaction. This is the compensating write for a send whose archive
// append failed; the sequence counter is deliberately left alone, so
// the rolled-back seq becomes a permanent gap.
func (s *Store) DeleteMessage(ctx context.Context, seq int64) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "DELETE FROM deliveries WHERE message_seq = ?", &sqlitex.ExecOptions{
		Args: []any{seq},
	})
	if err != nil {
		return fmt.Errorf("store: delete deliveries of %d: %w", seq, err)
	}
	err = sqlitex.Execute(conn, "DELETE FROM messages WHERE seq = ?", &sqlitex.ExecOptions{
		Args: []any{seq},
	})
	if err != nil {
		return fmt.Errorf("store: delete message %d: %w", seq, err)
	}
	return nil
}

// scanMessage reads the shared message column prefix: seq(0),
// sender(1), subject(2), body(3), importance(4), ack_required(5),
// parent_seq(6), created_at(7). Recipients are attached separately.
func (s *Store) scanMessage(stmt *sqlite.Stmt) mail.Message {
	return mail.Message{
		Seq:         stmt.ColumnInt64(0),
		Project:     s.project,
		Sender:      stmt.ColumnText(1),
		Subject:     stmt.ColumnText(2),
		Body:        stmt.ColumnText(3),
		Importance:  mail.Importance(stmt.ColumnInt64(4)),
		AckRequired: columnBool(stmt, 5),
		ParentSeq:   stmt.ColumnInt64(6),
		CreatedAt:   columnTime(stmt, 7),
	}
}

// attachRecipients fills in the Recipients of each message with one
// batched query.
func (s *Store) attachRecipients(conn *sqlite.Conn, messages []mail.Message) error {
	if len(messages) == 0 {
		return nil
	}
	seqs := make([]int64, len(messages))
	for i := range messages {
		seqs[i] = messages[i].Seq
	}
	byMessage, err := recipientsOf(conn, seqs)
	if err != nil {
		return err
	}
	for i := range messages {
		messages[i].Recipients = byMessage[messages[i].Seq]
	}
	return nil
}

// recipientsOf returns recipient name lists, in sender order, for the
// given message seqs.
func recipientsOf(conn *sqlite.Conn, seqs []int64) (map[int64][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(seqs)), ", ")
	query := `SELECT message_seq, recipient FROM deliveries
		WHERE message_seq IN (` + placeholders + `) ORDER BY message_seq, position`

	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}

	byMessage := make(map[int64][]string, len(seqs))
	err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			seq := stmt.ColumnInt64(0)
			byMessage[seq] = append(byMessage[seq], stmt.ColumnText(1))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("collecting recipients: %w", err)
	}
	return byMessage, nil
}

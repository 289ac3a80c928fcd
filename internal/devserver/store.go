// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// Pure Go SQLite driver
	_ "modernc.org/sqlite"

	"github.com/jeranaias/companion/internal/model"
)

// ErrThreadNotFound is returned for operations on an unknown thread id.
var ErrThreadNotFound = errors.New("thread not found")

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	pinned     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
`

// StoredMessage is one persisted thread message.
type StoredMessage struct {
	Role      model.Role
	Content   string
	Timestamp time.Time
}

// Store persists threads in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma= DSN parameters.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection is optimal for SQLite with WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// THREADS
// =============================================================================

// CreateThread stores a new thread with its first messages.
func (s *Store) CreateThread(ctx context.Context, title string, msgs []StoredMessage) (model.Thread, error) {
	now := s.now().UTC()
	th := model.Thread{
		ID:           uuid.NewString(),
		Title:        title,
		CreatedAt:    now,
		UpdatedAt:    now,
		MessageCount: len(msgs),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Thread{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO threads (id, title, pinned, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		th.ID, th.Title, now.UnixMilli(), now.UnixMilli()); err != nil {
		return model.Thread{}, fmt.Errorf("failed to insert thread: %w", err)
	}
	for _, m := range msgs {
		if err := insertMessage(ctx, tx, th.ID, m, now); err != nil {
			return model.Thread{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Thread{}, err
	}
	return th, nil
}

// AppendMessage adds a message to an existing thread and bumps updated_at.
func (s *Store) AppendMessage(ctx context.Context, id string, m StoredMessage) error {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, now.UnixMilli(), id)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, id, m, now); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, threadID string, m StoredMessage, now time.Time) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = now
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (thread_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		threadID, string(m.Role), m.Content, ts.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// Thread returns one thread.
func (s *Store) Thread(ctx context.Context, id string) (model.Thread, error) {
	row := s.db.QueryRowContext(ctx, threadSelect+` WHERE t.id = ? GROUP BY t.id`, id)
	th, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Thread{}, ErrThreadNotFound
	}
	return th, err
}

// ListThreads returns every thread, pinned first then most recently updated.
func (s *Store) ListThreads(ctx context.Context) ([]model.Thread, error) {
	rows, err := s.db.QueryContext(ctx, threadSelect+` GROUP BY t.id ORDER BY t.pinned DESC, t.updated_at DESC, t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []model.Thread{}
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, th)
	}
	return list, rows.Err()
}

// Messages returns the thread's messages in insertion order.
func (s *Store) Messages(ctx context.Context, id string) ([]StoredMessage, error) {
	if _, err := s.Thread(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages WHERE thread_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var (
			role string
			m    StoredMessage
			ts   int64
		)
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.Timestamp = time.UnixMilli(ts).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Rename sets a thread's title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(title), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetPinned pins or unpins a thread. Pinning does not touch updated_at.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET pinned = ? WHERE id = ?`, pinned, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes a thread and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// =============================================================================
// HELPERS
// =============================================================================

const threadSelect = `SELECT t.id, t.title, t.pinned, t.created_at, t.updated_at, COUNT(m.id)
FROM threads t LEFT JOIN messages m ON m.thread_id = t.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (model.Thread, error) {
	var (
		th               model.Thread
		created, updated int64
	)
	if err := row.Scan(&th.ID, &th.Title, &th.Pinned, &created, &updated, &th.MessageCount); err != nil {
		return model.Thread{}, err
	}
	th.CreatedAt = time.UnixMilli(created).UTC()
	th.UpdatedAt = time.UnixMilli(updated).UTC()
	return th, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

package messaging

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore persists history in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the history database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSQLiteStore",
		"path":     dbPath,
	}).Info("Opened message history")

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		sender    TEXT NOT NULL,
		id        TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body      TEXT NOT NULL,
		ts        INTEGER NOT NULL,
		direction TEXT NOT NULL,
		method    TEXT NOT NULL DEFAULT '',
		delivered INTEGER NOT NULL DEFAULT 0,
		state     TEXT NOT NULL,
		PRIMARY KEY (sender, id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender_ts ON messages(sender, ts);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient_ts ON messages(recipient, ts);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender, id, recipient, body, ts, direction, method, delivered, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.From, msg.ID, msg.To, msg.Text, msg.Timestamp.UnixMilli(),
		string(msg.Direction), string(msg.Method), msg.Delivered, string(msg.State))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, msg Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET state = ?, method = ?, delivered = ?
		WHERE sender = ? AND id = ?
	`, string(msg.State), string(msg.Method), msg.Delivered, msg.From, msg.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

const selectColumns = `sender, id, recipient, body, ts, direction, method, delivered, state`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m         Message
		ts        int64
		direction string
		method    string
		state     string
	)
	if err := row.Scan(&m.From, &m.ID, &m.To, &m.Text, &ts, &direction, &method, &m.Delivered, &state); err != nil {
		return Message{}, err
	}
	m.Timestamp = time.UnixMilli(ts)
	m.Direction = Direction(direction)
	m.Method = Method(method)
	m.State = State(state)
	return m, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, from, id string) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM messages WHERE sender = ? AND id = ?`, from, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, err
	}
	return m, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, peer string, limit, offset int) ([]Message, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM messages
		WHERE sender = ? OR recipient = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, peer, peer, pageSize(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(out)-1-i] = m
	}
	return out, nil
}

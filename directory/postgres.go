package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// postgresSchema creates the directory tables.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	username    TEXT PRIMARY KEY,
	node_id     TEXT NOT NULL,
	public_key  BYTEA NOT NULL,
	signing_key BYTEA NOT NULL,
	address     TEXT NOT NULL DEFAULT '',
	last_seen   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relay_messages (
	id         BIGSERIAL PRIMARY KEY,
	recipient  TEXT NOT NULL,
	sender     TEXT NOT NULL,
	msg_id     TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	stored_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (recipient, sender, msg_id)
);

CREATE INDEX IF NOT EXISTS relay_messages_recipient_idx ON relay_messages (recipient, id);
`

// PostgresDirectory stores users and relay bundles in PostgreSQL.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory opens a connection pool and ensures the schema exists.
func NewPostgresDirectory(ctx context.Context, databaseURL string) (*PostgresDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	d := &PostgresDirectory{pool: pool}
	if err := d.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPostgresDirectory",
		"database": pool.Config().ConnConfig.Database,
	}).Info("Connected to Postgres directory store")

	return d, nil
}

// Migrate creates the directory tables if they do not exist.
func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, postgresSchema)
	return err
}

// Close closes the connection pool.
func (d *PostgresDirectory) Close() {
	d.pool.Close()
}

// Ping checks the database connection.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Register implements Directory. An existing username is only updated when the
// node id matches.
func (d *PostgresDirectory) Register(ctx context.Context, reg Registration) error {
	if err := reg.Validate(); err != nil {
		return opError(OpRegister, err)
	}

	tag, err := d.pool.Exec(ctx, `
		INSERT INTO users (username, node_id, public_key, signing_key, address, last_seen)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (username) DO UPDATE
		SET public_key = EXCLUDED.public_key,
		    signing_key = EXCLUDED.signing_key,
		    address = EXCLUDED.address,
		    last_seen = now()
		WHERE users.node_id = EXCLUDED.node_id
	`, reg.Username, reg.NodeID, reg.PublicKey[:], reg.SigningKey[:], reg.Address)
	if err != nil {
		return unavailable(OpRegister, err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: OpRegister, Err: ErrConflict}
	}
	return nil
}

// Heartbeat implements Directory.
func (d *PostgresDirectory) Heartbeat(ctx context.Context, username, address string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE users
		SET last_seen = now(),
		    address = CASE WHEN $2 = '' THEN address ELSE $2 END
		WHERE username = $1
	`, username, address)
	if err != nil {
		return unavailable(OpHeartbeat, err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: OpHeartbeat, Err: ErrNotFound}
	}
	return nil
}

// Lookup implements Directory.
func (d *PostgresDirectory) Lookup(ctx context.Context, username string) (*Record, error) {
	rec := &Record{}
	var pub, sig []byte
	err := d.pool.QueryRow(ctx, `
		SELECT username, node_id, public_key, signing_key, address, last_seen
		FROM users WHERE username = $1
	`, username).Scan(
		&rec.Username,
		&rec.NodeID,
		&pub,
		&sig,
		&rec.Address,
		&rec.LastSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &Error{Op: OpLookup, Err: ErrNotFound}
		}
		return nil, unavailable(OpLookup, err)
	}
	if len(pub) != len(rec.PublicKey) || len(sig) != len(rec.SigningKey) {
		return nil, unavailable(OpLookup, fmt.Errorf("stored key has wrong length"))
	}
	copy(rec.PublicKey[:], pub)
	copy(rec.SigningKey[:], sig)
	return rec, nil
}

// Push implements Directory.
func (d *PostgresDirectory) Push(ctx context.Context, to, from string, bundle Bundle) error {
	b, err := validatePush(to, from, bundle)
	if err != nil {
		return opError(OpPush, err)
	}

	var queued int
	if err := d.pool.QueryRow(ctx,
		`SELECT count(*) FROM relay_messages WHERE recipient = $1`, to,
	).Scan(&queued); err != nil {
		return unavailable(OpPush, err)
	}
	if queued >= MaxBundlesPerRecipient {
		return &Error{Op: OpPush, Err: fmt.Errorf("%w: max %d bundles", ErrQuotaExceeded, MaxBundlesPerRecipient)}
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO relay_messages (recipient, sender, msg_id, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recipient, sender, msg_id) DO NOTHING
	`, b.To, b.From, b.MsgID, b.Payload)
	if err != nil {
		return unavailable(OpPush, err)
	}
	return nil
}

// Drain implements Directory. Rows are deleted and returned in one statement.
func (d *PostgresDirectory) Drain(ctx context.Context, username string) ([]Bundle, error) {
	cutoff := time.Now().Add(-DefaultBundleTTL)
	if _, err := d.pool.Exec(ctx,
		`DELETE FROM relay_messages WHERE recipient = $1 AND stored_at < $2`, username, cutoff,
	); err != nil {
		return nil, unavailable(OpDrain, err)
	}

	rows, err := d.pool.Query(ctx, `
		DELETE FROM relay_messages WHERE recipient = $1
		RETURNING id, msg_id, sender, recipient, payload, stored_at
	`, username)
	if err != nil {
		return nil, unavailable(OpDrain, err)
	}
	defer rows.Close()

	type row struct {
		id int64
		b  Bundle
	}
	var collected []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.b.MsgID, &r.b.From, &r.b.To, &r.b.Payload, &r.b.StoredAt); err != nil {
			return nil, unavailable(OpDrain, err)
		}
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(OpDrain, err)
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].id < collected[j].id })
	bundles := make([]Bundle, len(collected))
	for i, r := range collected {
		bundles[i] = r.b
	}
	return bundles, nil
}

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisDirectory stores users as hashes and relay queues as lists.
//
// Keys:
//
//	user:{username}                       hash of Record fields
//	relay:{username}                      list of JSON bundles, oldest first
//	relay:{username}:seen:{from}:{msg_id} idempotency marker for queued bundles
type RedisDirectory struct {
	client    *redis.Client
	bundleTTL time.Duration
}

// NewRedisDirectory connects to redisURL and verifies the connection.
func NewRedisDirectory(ctx context.Context, redisURL string) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewRedisDirectory",
		"addr":     opts.Addr,
		"db":       opts.DB,
	}).Info("Connected to Redis directory store")

	return &RedisDirectory{client: client, bundleTTL: DefaultBundleTTL}, nil
}

// Close closes the Redis connection.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

// Ping checks the Redis connection.
func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func userKey(username string) string {
	return fmt.Sprintf("user:%s", username)
}

func relayKey(username string) string {
	return fmt.Sprintf("relay:%s", username)
}

func relaySeenKey(to, from, msgID string) string {
	return fmt.Sprintf("relay:%s:seen:%s:%s", to, from, msgID)
}

func unavailable(op string, err error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}

// Register implements Directory.
func (d *RedisDirectory) Register(ctx context.Context, reg Registration) error {
	if err := reg.Validate(); err != nil {
		return opError(OpRegister, err)
	}

	key := userKey(reg.Username)
	existing, err := d.client.HGet(ctx, key, "node_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(OpRegister, err)
	}
	if err == nil && existing != reg.NodeID {
		return &Error{Op: OpRegister, Err: ErrConflict}
	}

	pub, _ := reg.PublicKey.MarshalText()
	sig, _ := reg.SigningKey.MarshalText()
	err = d.client.HSet(ctx, key, map[string]interface{}{
		"username":    reg.Username,
		"node_id":     reg.NodeID,
		"public_key":  string(pub),
		"signing_key": string(sig),
		"address":     reg.Address,
		"last_seen":   time.Now().UnixMilli(),
	}).Err()
	if err != nil {
		return unavailable(OpRegister, err)
	}
	return nil
}

// Heartbeat implements Directory.
func (d *RedisDirectory) Heartbeat(ctx context.Context, username, address string) error {
	key := userKey(username)
	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return unavailable(OpHeartbeat, err)
	}
	if exists == 0 {
		return &Error{Op: OpHeartbeat, Err: ErrNotFound}
	}

	fields := map[string]interface{}{"last_seen": time.Now().UnixMilli()}
	if address != "" {
		fields["address"] = address
	}
	if err := d.client.HSet(ctx, key, fields).Err(); err != nil {
		return unavailable(OpHeartbeat, err)
	}
	return nil
}

// Lookup implements Directory.
func (d *RedisDirectory) Lookup(ctx context.Context, username string) (*Record, error) {
	fields, err := d.client.HGetAll(ctx, userKey(username)).Result()
	if err != nil {
		return nil, unavailable(OpLookup, err)
	}
	if len(fields) == 0 {
		return nil, &Error{Op: OpLookup, Err: ErrNotFound}
	}

	rec := &Record{
		Username: fields["username"],
		NodeID:   fields["node_id"],
		Address:  fields["address"],
	}
	if err := rec.PublicKey.UnmarshalText([]byte(fields["public_key"])); err != nil {
		return nil, unavailable(OpLookup, fmt.Errorf("stored public key: %w", err))
	}
	if err := rec.SigningKey.UnmarshalText([]byte(fields["signing_key"])); err != nil {
		return nil, unavailable(OpLookup, fmt.Errorf("stored signing key: %w", err))
	}
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		rec.LastSeen = time.UnixMilli(ms)
	}
	return rec, nil
}

// Push implements Directory.
func (d *RedisDirectory) Push(ctx context.Context, to, from string, bundle Bundle) error {
	b, err := validatePush(to, from, bundle)
	if err != nil {
		return opError(OpPush, err)
	}
	b.StoredAt = time.Now()

	fresh, err := d.client.SetNX(ctx, relaySeenKey(to, from, b.MsgID), 1, d.bundleTTL).Result()
	if err != nil {
		return unavailable(OpPush, err)
	}
	if !fresh {
		return nil
	}

	qlen, err := d.client.LLen(ctx, relayKey(to)).Result()
	if err != nil {
		d.client.Del(ctx, relaySeenKey(to, from, b.MsgID))
		return unavailable(OpPush, err)
	}
	if qlen >= MaxBundlesPerRecipient {
		d.client.Del(ctx, relaySeenKey(to, from, b.MsgID))
		return &Error{Op: OpPush, Err: fmt.Errorf("%w: max %d bundles", ErrQuotaExceeded, MaxBundlesPerRecipient)}
	}

	data, err := json.Marshal(b)
	if err != nil {
		return opError(OpPush, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, relayKey(to), data)
		pipe.Expire(ctx, relayKey(to), d.bundleTTL)
		return nil
	})
	if err != nil {
		d.client.Del(ctx, relaySeenKey(to, from, b.MsgID))
		return unavailable(OpPush, err)
	}
	return nil
}

// Drain implements Directory. The read and delete run in one MULTI block.
func (d *RedisDirectory) Drain(ctx context.Context, username string) ([]Bundle, error) {
	key := relayKey(username)

	var lrange *redis.StringSliceCmd
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, unavailable(OpDrain, err)
	}

	items := lrange.Val()
	bundles := make([]Bundle, 0, len(items))
	seen := make([]string, 0, len(items))
	for _, item := range items {
		var b Bundle
		if err := json.Unmarshal([]byte(item), &b); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RedisDirectory.Drain",
				"username": username,
				"error":    err.Error(),
			}).Warn("Skipping undecodable relay bundle")
			continue
		}
		bundles = append(bundles, b)
		seen = append(seen, relaySeenKey(username, b.From, b.MsgID))
	}

	if len(seen) > 0 {
		d.client.Del(ctx, seen...)
	}
	return bundles, nil
}

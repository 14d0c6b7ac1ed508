package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// New dials redis and verifies the connection before returning the client.
func New(ctx context.Context, addr, passwd string, db int) (*goredis.Client, error) {
	const op = "storage.redis.New"

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: passwd,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return client, nil
}

// Revocations keeps retired token ids as individually keyed entries whose
// TTL equals the refresh-token lifetime. An entry older than the maximum
// refresh lifetime can never be replayed meaningfully, so expiry keeps the
// set bounded without changing what membership means.
type Revocations struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRevocations(client *goredis.Client, ttl time.Duration) *Revocations {
	return &Revocations{client: client, ttl: ttl}
}

func revocationKey(principalID, tokenID string) string {
	return "revoked:" + principalID + ":" + tokenID
}

func (r *Revocations) AppendRevokedToken(ctx context.Context, principalID, tokenID string) error {
	const op = "storage.redis.AppendRevokedToken"

	if err := r.client.Set(ctx, revocationKey(principalID, tokenID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *Revocations) IsTokenRevoked(ctx context.Context, principalID, tokenID string) (bool, error) {
	const op = "storage.redis.IsTokenRevoked"

	n, err := r.client.Exists(ctx, revocationKey(principalID, tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

func (r *Revocations) ClearRevokedTokens(ctx context.Context, principalID string) error {
	const op = "storage.redis.ClearRevokedTokens"

	iter := r.client.Scan(ctx, 0, revocationKey(principalID, "*"), 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token IDs until their natural expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}

// UserTokenRevoker is an optional capability that revokes every token a
// user holds that was issued at or before a cutoff. The cutoff only moves
// forward; revoking with an earlier time never un-revokes anything.
type UserTokenRevoker interface {
	RevokeUser(userID string, since time.Time) error
	RevokedAfter(userID string) (time.Time, error)
}

// userCutoffTTL bounds how long a per-user cutoff is kept. It only has to
// outlive the longest-lived access token issued before the cutoff.
const userCutoffTTL = 30 * 24 * time.Hour

// MemoryTokenRevoker keeps revocations in memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenID] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RevokeUser records a revocation cutoff for the user.
func (r *MemoryTokenRevoker) RevokeUser(userID string, since time.Time) error {
	since = since.UTC()
	r.mu.Lock()
	if existing, ok := r.cutoffs[userID]; !ok || since.After(existing) {
		r.cutoffs[userID] = since
	}
	r.mu.Unlock()
	return nil
}

// RevokedAfter returns the user's revocation cutoff, zero when none is set.
func (r *MemoryTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[userID], nil
}

var userCutoffScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur or tonumber(ARGV[1]) > tonumber(cur) then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
return 1
`)

// RedisTokenRevoker stores revocations in Redis with TTL, shared across
// API replicas.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker wraps an existing Redis client.
func NewRedisTokenRevoker(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// RevokeUser records a revocation cutoff for the user. The script keeps
// whichever cutoff is later, so concurrent revocations cannot regress it.
func (r *RedisTokenRevoker) RevokeUser(userID string, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return userCutoffScript.Run(ctx, r.client,
		[]string{userCutoffKey(userID)},
		since.UTC().UnixNano(), userCutoffTTL.Milliseconds(),
	).Err()
}

// RevokedAfter returns the user's revocation cutoff, zero when none is set.
func (r *RedisTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, userCutoffKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

func revocationKey(tokenID string) string {
	return "yardhop:revoked:" + tokenID
}

func userCutoffKey(userID string) string {
	return "yardhop:revoked_user:" + userID
}

package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates the token is unknown or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates reuse of an already-rotated token.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore persists refresh tokens with rotation and replay
// detection. Tokens belong to families: rotating a token keeps the family,
// and presenting a stale member of a family revokes the whole family.
type RefreshTokenStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(token string) error
}

type tokenFamily struct {
	userID      string
	currentHash string
	expiry      time.Time
}

// MemoryRefreshTokenStore keeps refresh token families in memory.
type MemoryRefreshTokenStore struct {
	mu           sync.Mutex
	families     map[string]tokenFamily         // familyID -> family
	tokenFamily  map[string]string              // tokenHash -> familyID
	familyHashes map[string]map[string]struct{} // familyID -> token hashes
	userFamilies map[string]map[string]struct{} // userID -> family IDs
}

// NewMemoryRefreshTokenStore constructs an in-memory refresh token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families:     make(map[string]tokenFamily),
		tokenFamily:  make(map[string]string),
		familyHashes: make(map[string]map[string]struct{}),
		userFamilies: make(map[string]map[string]struct{}),
	}
}

// NewToken issues and stores a new refresh token family.
func (s *MemoryRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomToken(16)
	if err != nil {
		return "", err
	}
	tokenHash := refreshTokenHash(token)
	now := time.Now().UTC()

	s.mu.Lock()
	s.families[familyID] = tokenFamily{
		userID:      userID,
		currentHash: tokenHash,
		expiry:      now.Add(ttl),
	}
	s.tokenFamily[tokenHash] = familyID
	s.familyHashes[familyID] = map[string]struct{}{tokenHash: {}}
	if s.userFamilies[userID] == nil {
		s.userFamilies[userID] = make(map[string]struct{})
	}
	s.userFamilies[userID][familyID] = struct{}{}
	s.mu.Unlock()
	return token, nil
}

// RotateToken validates the token and issues a successor in the same family.
func (s *MemoryRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	tokenHash := refreshTokenHash(token)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, ok := s.tokenFamily[tokenHash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family, ok := s.families[familyID]
	if !ok || now.After(family.expiry) {
		s.revokeFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.currentHash != tokenHash {
		// Reuse of a rotated token. Assume theft and burn the family.
		s.revokeFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}

	newToken, err := randomToken(32)
	if err != nil {
		return "", "", err
	}
	newHash := refreshTokenHash(newToken)
	family.currentHash = newHash
	family.expiry = now.Add(ttl)
	s.families[familyID] = family
	s.tokenFamily[newHash] = familyID
	if s.familyHashes[familyID] == nil {
		s.familyHashes[familyID] = make(map[string]struct{})
	}
	s.familyHashes[familyID][newHash] = struct{}{}
	return family.userID, newToken, nil
}

// DeleteToken revokes the entire family containing this token.
func (s *MemoryRefreshTokenStore) DeleteToken(token string) error {
	tokenHash := refreshTokenHash(token)

	s.mu.Lock()
	if familyID, ok := s.tokenFamily[tokenHash]; ok {
		s.revokeFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshTokenStore) revokeFamilyLocked(familyID string) {
	userID := s.families[familyID].userID
	for h := range s.familyHashes[familyID] {
		delete(s.tokenFamily, h)
	}
	delete(s.familyHashes, familyID)
	delete(s.families, familyID)
	if userID != "" {
		if fams, ok := s.userFamilies[userID]; ok {
			delete(fams, familyID)
			if len(fams) == 0 {
				delete(s.userFamilies, userID)
			}
		}
	}
}

// RevokeUserRefreshTokens revokes all refresh token families for a user.
func (s *MemoryRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	s.mu.Lock()
	familyIDs := make([]string, 0, len(s.userFamilies[userID]))
	for familyID := range s.userFamilies[userID] {
		familyIDs = append(familyIDs, familyID)
	}
	for _, familyID := range familyIDs {
		s.revokeFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

// RedisRefreshTokenStore stores refresh token families in Redis so every
// API replica sees rotations immediately.
type RedisRefreshTokenStore struct {
	client *redis.Client
}

// NewRedisRefreshTokenStore wraps an existing Redis client.
func NewRedisRefreshTokenStore(client *redis.Client) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client}
}

// NewToken issues and stores a new refresh token family.
func (s *RedisRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomToken(16)
	if err != nil {
		return "", err
	}
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshTokenKey(tokenHash), familyID, ttl)
	pipe.HSet(ctx, refreshFamilyKey(familyID), map[string]any{
		"userId":      userID,
		"currentHash": tokenHash,
	})
	pipe.Expire(ctx, refreshFamilyKey(familyID), ttl)
	pipe.SAdd(ctx, refreshFamilyHashesKey(familyID), tokenHash)
	pipe.Expire(ctx, refreshFamilyHashesKey(familyID), ttl)
	pipe.SAdd(ctx, refreshUserFamiliesKey(userID), familyID)
	pipe.Expire(ctx, refreshUserFamiliesKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// RotateToken validates the token and issues a successor in the same
// family. The family hash is watched so two concurrent rotations of the
// same token cannot both succeed.
func (s *RedisRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		familyID, err := s.client.Get(ctx, refreshTokenKey(tokenHash)).Result()
		if err == redis.Nil {
			return "", "", ErrInvalidRefreshToken
		}
		if err != nil {
			return "", "", err
		}

		familyKey := refreshFamilyKey(familyID)
		var (
			userID       string
			newToken     string
			shouldRevoke bool
		)

		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			familyData, err := tx.HGetAll(ctx, familyKey).Result()
			if err != nil {
				return err
			}
			if len(familyData) == 0 {
				shouldRevoke = true
				return ErrInvalidRefreshToken
			}

			currentHash := familyData["currentHash"]
			userID = familyData["userId"]
			if currentHash == "" || userID == "" {
				shouldRevoke = true
				return ErrInvalidRefreshToken
			}
			if currentHash != tokenHash {
				shouldRevoke = true
				return ErrRefreshTokenReplay
			}

			newToken, err = randomToken(32)
			if err != nil {
				return err
			}
			newHash := refreshTokenHash(newToken)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, refreshTokenKey(newHash), familyID, ttl)
				pipe.HSet(ctx, familyKey, map[string]any{
					"userId":      userID,
					"currentHash": newHash,
				})
				pipe.Expire(ctx, familyKey, ttl)
				pipe.SAdd(ctx, refreshFamilyHashesKey(familyID), newHash)
				pipe.Expire(ctx, refreshFamilyHashesKey(familyID), ttl)
				pipe.SAdd(ctx, refreshUserFamiliesKey(userID), familyID)
				pipe.Expire(ctx, refreshUserFamiliesKey(userID), ttl)
				return nil
			})
			return err
		}, familyKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if shouldRevoke {
				_ = s.revokeFamily(ctx, familyID, userID)
			}
			if errors.Is(err, ErrRefreshTokenReplay) {
				return "", "", ErrRefreshTokenReplay
			}
			if errors.Is(err, ErrInvalidRefreshToken) {
				return "", "", ErrInvalidRefreshToken
			}
			return "", "", err
		}
		return userID, newToken, nil
	}
}

// DeleteToken revokes the entire family containing this token.
func (s *RedisRefreshTokenStore) DeleteToken(token string) error {
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	familyID, err := s.client.Get(ctx, refreshTokenKey(tokenHash)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	familyData, err := s.client.HGetAll(ctx, refreshFamilyKey(familyID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	return s.revokeFamily(ctx, familyID, familyData["userId"])
}

func (s *RedisRefreshTokenStore) revokeFamily(ctx context.Context, familyID, userID string) error {
	if userID == "" {
		familyData, err := s.client.HGetAll(ctx, refreshFamilyKey(familyID)).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		userID = familyData["userId"]
	}
	hashes, err := s.client.SMembers(ctx, refreshFamilyHashesKey(familyID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, tokenHash := range hashes {
		pipe.Del(ctx, refreshTokenKey(tokenHash))
	}
	pipe.Del(ctx, refreshFamilyHashesKey(familyID))
	pipe.Del(ctx, refreshFamilyKey(familyID))
	if userID != "" {
		pipe.SRem(ctx, refreshUserFamiliesKey(userID), familyID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// RevokeUserRefreshTokens revokes all refresh token families for a user.
func (s *RedisRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	familyIDs, err := s.client.SMembers(ctx, refreshUserFamiliesKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, familyID := range familyIDs {
		if err := s.revokeFamily(ctx, familyID, userID); err != nil {
			return err
		}
	}
	if err := s.client.Del(ctx, refreshUserFamiliesKey(userID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func refreshTokenKey(tokenHash string) string {
	return "yardhop:refresh:token:" + tokenHash
}

func refreshFamilyKey(familyID string) string {
	return "yardhop:refresh:family:" + familyID
}

func refreshFamilyHashesKey(familyID string) string {
	return "yardhop:refresh:family_hashes:" + familyID
}

func refreshUserFamiliesKey(userID string) string {
	return "yardhop:refresh:user_families:" + userID
}

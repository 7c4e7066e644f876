package store

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRedisRefreshTokenStoreIssueRotateDelete(t *testing.T) {
	_, client := redisTestClient(t)
	s := NewRedisRefreshTokenStore(client)

	token, err := s.NewToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	userID, next, err := s.RotateToken(token, time.Minute)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("rotate returned user %q, want user-1", userID)
	}
	if next == "" || next == token {
		t.Fatalf("rotate must issue a fresh token")
	}

	if err := s.DeleteToken(next); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.RotateToken(next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("deleted token should be invalid, got: %v", err)
	}
}

func TestRedisRefreshTokenStoreReplayBurnsFamily(t *testing.T) {
	_, client := redisTestClient(t)
	s := NewRedisRefreshTokenStore(client)

	token, err := s.NewToken("user-2", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	_, next, err := s.RotateToken(token, time.Minute)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, _, err := s.RotateToken(token, time.Minute); !errors.Is(err, ErrRefreshTokenReplay) {
		t.Fatalf("stale token should report replay, got: %v", err)
	}
	if _, _, err := s.RotateToken(next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("family should be revoked after replay, got: %v", err)
	}
}

func TestRedisRefreshTokenStoreTokenExpires(t *testing.T) {
	mr, client := redisTestClient(t)
	s := NewRedisRefreshTokenStore(client)

	token, err := s.NewToken("user-3", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, _, err := s.RotateToken(token, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired token should be invalid, got: %v", err)
	}
}

func TestRedisRefreshTokenStoreRevokeUser(t *testing.T) {
	_, client := redisTestClient(t)
	s := NewRedisRefreshTokenStore(client)

	t1, err := s.NewToken("user-4", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	t2, err := s.NewToken("user-4", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	other, err := s.NewToken("user-5", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}

	if err := s.RevokeUserRefreshTokens("user-4"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, _, err := s.RotateToken(t1, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("first family should be revoked, got: %v", err)
	}
	if _, _, err := s.RotateToken(t2, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("second family should be revoked, got: %v", err)
	}
	if _, _, err := s.RotateToken(other, time.Minute); err != nil {
		t.Fatalf("other user's token must survive: %v", err)
	}
}

func TestRedisRefreshTokenStoreConcurrentRotation(t *testing.T) {
	_, client := redisTestClient(t)
	s := NewRedisRefreshTokenStore(client)

	token, err := s.NewToken("user-6", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}

	const workers = 2
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	issued := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, next, err := s.RotateToken(token, time.Minute)
			if err == nil {
				issued <- next
			}
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)
	close(issued)

	var successes, replays int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRefreshTokenReplay):
			replays++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if successes != 1 || replays != 1 {
		t.Fatalf("want exactly one winner and one replay, got successes=%d replays=%d", successes, replays)
	}

	// The replay revoked the family, so even the winner's token is dead.
	for next := range issued {
		if _, _, err := s.RotateToken(next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("family should be revoked after the race, got: %v", err)
		}
	}
}

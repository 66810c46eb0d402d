package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenReusesValidSession(t *testing.T) {
	var calls int32
	cache := &Cache{}
	renew := func(ctx context.Context, prev *Session) (*Session, error) {
		atomic.AddInt32(&calls, 1)
		return &Session{Token: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	for i := 0; i < 5; i++ {
		token, err := cache.Token(context.Background(), renew)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if token != "tok-1" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 renewal, got %d", got)
	}
}

func TestTokenSingleFlightAfterExpiry(t *testing.T) {
	var calls int32
	cache := &Cache{}
	cache.mu.Lock()
	cache.current = &Session{Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)}
	cache.mu.Unlock()

	renew := func(ctx context.Context, prev *Session) (*Session, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &Session{Token: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	const n = 16
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Token(context.Background(), renew)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "fresh" {
			t.Fatalf("caller %d got token %q", i, tokens[i])
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 renewal under concurrency, got %d", got)
	}
}

func TestTokenPropagatesRenewalError(t *testing.T) {
	cache := &Cache{}
	wantErr := errors.New("login failed")
	_, err := cache.Token(context.Background(), func(ctx context.Context, prev *Session) (*Session, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected renewal error, got %v", err)
	}
	if cache.Current() != nil {
		t.Fatalf("failed renewal must not cache a session")
	}
}

func TestInvalidateForcesRenewal(t *testing.T) {
	var calls int32
	cache := &Cache{}
	renew := func(ctx context.Context, prev *Session) (*Session, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 && prev != nil {
			t.Errorf("invalidated session should not be passed as prev")
		}
		return &Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	if _, err := cache.Token(context.Background(), renew); err != nil {
		t.Fatalf("token: %v", err)
	}
	cache.Invalidate()
	if _, err := cache.Token(context.Background(), renew); err != nil {
		t.Fatalf("token after invalidate: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 renewals, got %d", got)
	}
}

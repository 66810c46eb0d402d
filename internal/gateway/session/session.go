// Package session caches the short-lived artifacts providers hand out after
// authentication: bearer tokens, XML session ids, OAuth access tokens. A
// cached session is reused only while valid; renewal collapses concurrent
// callers into a single provider round-trip.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Session is one provider-issued authentication artifact.
type Session struct {
	// Token is the value embedded in subsequent requests.
	Token string
	// Refresh carries the refresh token for OAuth-style providers.
	Refresh string
	// ExpiresAt is the provider-declared expiry.
	ExpiresAt time.Time
}

// Valid reports whether the session can still be used at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}

// RenewFunc acquires a fresh session from the provider. The previous session
// (possibly nil) is passed in so refresh-token flows can chain.
type RenewFunc func(ctx context.Context, prev *Session) (*Session, error)

// Cache holds one session per adapter instance. Each adapter is bound to a
// single (provider, partner) pair, so sessions are never shared across
// partners by construction.
type Cache struct {
	// Skew renews slightly before the declared expiry to absorb clock
	// drift and in-flight latency.
	Skew time.Duration

	mu      sync.RWMutex
	current *Session
	group   singleflight.Group
}

// Token returns a valid session token, renewing through fn when the cached
// session is missing or expired. Concurrent callers racing past an expired
// session share one renewal call.
func (c *Cache) Token(ctx context.Context, fn RenewFunc) (string, error) {
	if s := c.snapshot(); s.Valid(c.now()) {
		return s.Token, nil
	}

	ch := c.group.DoChan("renew", func() (any, error) {
		// Re-check under the flight: a renewal that finished between the
		// snapshot and this call is still fresh.
		if s := c.snapshot(); s.Valid(c.now()) {
			return s.Token, nil
		}
		prev := c.snapshot()
		next, err := fn(ctx, prev)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.current = next
		c.mu.Unlock()
		return next.Token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate discards the cached session, forcing renewal on next use.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Current returns the cached session without triggering renewal.
func (c *Cache) Current() *Session {
	return c.snapshot()
}

func (c *Cache) snapshot() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) now() time.Time {
	return time.Now().Add(c.Skew)
}

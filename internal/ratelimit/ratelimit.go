// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit implements fixed-window event counters in the cache.
//
// Each (scope, identity) pair gets a counter that is created on the first
// event and expires one window later. This is not a sliding window: a burst
// straddling a window boundary can admit up to twice the limit within one
// window's length. That approximation is accepted.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/crmingest/internal/cache"
)

// Scopes used by the webhook pipeline.
const (
	ScopeSender = "sender"
	ScopeDomain = "domain"
)

const keyPrefix = "crm:ratelimit:"

// Decision is the outcome of one rate check.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetTime time.Time
}

// Limiter evaluates fixed-window counters.
type Limiter struct {
	cache *cache.Client
	now   func() time.Time
}

// NewLimiter creates a limiter backed by the cache.
func NewLimiter(c *cache.Client) *Limiter {
	return &Limiter{cache: c, now: time.Now}
}

// Key returns the counter key for an identity within a scope.
func Key(scope, identity string) string {
	return keyPrefix + scope + ":" + strings.ToLower(strings.TrimSpace(identity))
}

// Check counts one event for identity in scope and reports whether it is
// within limit for the current window.
func (l *Limiter) Check(ctx context.Context, identity, scope string, limit int, window time.Duration) (Decision, error) {
	key := Key(scope, identity)

	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("rate check %s: %w", scope, err)
	}

	ttl := window
	if count == 1 {
		if err := l.cache.Expire(ctx, key, window); err != nil {
			return Decision{}, fmt.Errorf("rate window %s: %w", scope, err)
		}
	} else {
		ttl, err = l.cache.TTL(ctx, key)
		if err != nil {
			return Decision{}, fmt.Errorf("rate ttl %s: %w", scope, err)
		}
		if ttl < 0 {
			// A crash between INCR and EXPIRE leaves an immortal counter.
			slog.Warn("rate counter had no expiry, re-applying window", "key", key)
			if err := l.cache.Expire(ctx, key, window); err != nil {
				return Decision{}, fmt.Errorf("rate window %s: %w", scope, err)
			}
			ttl = window
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(limit),
		Count:     count,
		Remaining: remaining,
		ResetTime: l.now().Add(ttl),
	}, nil
}

// Peek returns the current count and remaining window for identity without
// counting an event.
func (l *Limiter) Peek(ctx context.Context, identity, scope string) (int64, time.Duration, error) {
	key := Key(scope, identity)
	count, err := l.cache.GetInt(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	ttl, err := l.cache.TTL(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

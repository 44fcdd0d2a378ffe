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

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// ManagerConfig controls how the connection is established.
type ManagerConfig struct {
	URL string

	// MaxElapsed bounds the initial connect. Zero means 30s.
	MaxElapsed time.Duration
}

// Manager owns the connect/reconnect policy for the cache.
//
// Connect runs once at startup and retries the first PING with exponential
// backoff until MaxElapsed. After that, reconnection is per command: the
// go-redis pool redials broken connections and retries failed commands up
// to MaxRetries times with exponential backoff between MinRetryBackoff and
// MaxRetryBackoff. Callers never reconnect by hand.
type Manager struct {
	cfg    ManagerConfig
	client *Client
}

// NewManager creates a connection manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	return &Manager{cfg: cfg}
}

// Connect dials Redis and blocks until a PING succeeds or the backoff
// budget is spent.
func (m *Manager) Connect(ctx context.Context) (*Client, error) {
	if m.client != nil {
		return m.client, nil
	}

	opt, err := redis.ParseURL(m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	client := New(redis.NewClient(opt))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = m.cfg.MaxElapsed

	attempt := 0
	err = backoff.RetryNotify(
		func() error {
			attempt++
			return client.Ping(ctx)
		},
		backoff.WithContext(policy, ctx),
		func(err error, wait time.Duration) {
			slog.Warn("redis not reachable, retrying",
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		},
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis after %d attempts: %w", attempt, err)
	}

	slog.Info("connected to Redis", "addr", opt.Addr, "attempts", attempt)
	m.client = client
	return client, nil
}

// Close releases the connection if one was established.
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

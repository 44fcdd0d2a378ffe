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

// Package dedup tracks per-message processing state so that retried or
// duplicate webhook deliveries short-circuit without side effects. State
// lives in the cache with a TTL; once it expires, the durable store's
// communications table is the source of truth.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/crmingest/internal/cache"
	"github.com/bcem/crmingest/internal/models"
)

const (
	// DefaultTTL is how long a processing marker is remembered.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "crm:processing:"
)

// DurableLookup is the durable-store fallback for a cache miss.
// Implemented by store.Store.
type DurableLookup interface {
	FindCommunicationByMessageID(ctx context.Context, messageID string) (*models.Communication, error)
}

// Guard records and checks processing state for message identifiers.
//
// State machine per message: absent → processing → {completed | failed}.
// Writes are unconditional (last writer wins); two concurrent deliveries
// may both observe "absent". The durable unique constraint on message ID
// is the backstop against a second row.
type Guard struct {
	cache  *cache.Client
	lookup DurableLookup
	ttl    time.Duration
	now    func() time.Time
}

// NewGuard creates a guard backed by the cache with a durable fallback.
func NewGuard(c *cache.Client, lookup DurableLookup, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		cache:  c,
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Key returns the cache key for a message identifier.
func Key(messageID string) string {
	return keyPrefix + messageID
}

// Check returns the recorded state for messageID, or nil if the message has
// never been seen. A cache miss falls back to the durable store; a durable
// hit is reported as completed and written back into the cache.
func (g *Guard) Check(ctx context.Context, messageID string) (*models.ProcessingState, error) {
	var state models.ProcessingState
	found, err := g.cache.Get(ctx, Key(messageID), &state)
	if err != nil {
		slog.Warn("dedup cache lookup failed, falling back to store",
			"message_id", messageID,
			"error", err,
		)
	} else if found {
		return &state, nil
	}

	if g.lookup == nil {
		return nil, nil
	}

	comm, err := g.lookup.FindCommunicationByMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("durable dedup lookup: %w", err)
	}
	if comm == nil {
		return nil, nil
	}

	synth := &models.ProcessingState{
		Status:    models.StatusCompleted,
		Timestamp: comm.CreatedAt,
		Result: &models.ProcessingResult{
			CommunicationID: comm.ID,
			CompanyID:       comm.CompanyID,
			ContactID:       comm.ContactID,
			Duplicate:       true,
		},
	}

	if err := g.cache.Set(ctx, Key(messageID), synth, g.ttl); err != nil {
		slog.Warn("dedup cache backfill failed", "message_id", messageID, "error", err)
	}

	return synth, nil
}

// MarkProcessing records that messageID has been accepted.
func (g *Guard) MarkProcessing(ctx context.Context, messageID string) error {
	return g.write(ctx, messageID, models.ProcessingState{
		Status:    models.StatusProcessing,
		Timestamp: g.now().UTC(),
	})
}

// MarkCompleted records a successful outcome.
func (g *Guard) MarkCompleted(ctx context.Context, messageID string, result models.ProcessingResult) error {
	return g.write(ctx, messageID, models.ProcessingState{
		Status:    models.StatusCompleted,
		Timestamp: g.now().UTC(),
		Result:    &result,
	})
}

// MarkFailed records a failed outcome with its error message.
func (g *Guard) MarkFailed(ctx context.Context, messageID, errMsg string) error {
	return g.write(ctx, messageID, models.ProcessingState{
		Status:    models.StatusFailed,
		Timestamp: g.now().UTC(),
		Error:     errMsg,
	})
}

func (g *Guard) write(ctx context.Context, messageID string, state models.ProcessingState) error {
	if err := g.cache.Set(ctx, Key(messageID), state, g.ttl); err != nil {
		return fmt.Errorf("mark %s %s: %w", messageID, state.Status, err)
	}
	return nil
}

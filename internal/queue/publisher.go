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

// Package queue holds load-shed webhook payloads in priority-tagged cache
// lists and drains them back into the pipeline in the background.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/crmingest/internal/cache"
	"github.com/bcem/crmingest/internal/models"
)

// DefaultPrefix namespaces queue keys.
const DefaultPrefix = "crm:queue"

// Priority selects which list an item is queued on.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Priorities lists queues in drain order.
var Priorities = []Priority{PriorityHigh, PriorityNormal}

// PriorityFor maps message importance to a queue.
func PriorityFor(importance models.Importance) Priority {
	if importance == models.ImportanceHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// Item is one queued webhook payload.
type Item struct {
	ID         string          `json:"id"`
	MessageID  string          `json:"messageId"`
	Priority   Priority        `json:"priority"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Payload    json.RawMessage `json:"payload"`
}

func (i Item) valid() bool {
	return i.MessageID != "" && len(i.Payload) > 0 && json.Valid(i.Payload)
}

// Publisher pushes payloads onto the priority lists.
type Publisher struct {
	cache  *cache.Client
	prefix string
	now    func() time.Time
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(c *cache.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{cache: c, prefix: prefix, now: time.Now}
}

// Key returns the list key for a priority.
func (p *Publisher) Key(priority Priority) string {
	return p.prefix + ":" + string(priority)
}

// Enqueue pushes the raw payload for messageID and returns its position,
// which is the queue length after the push.
func (p *Publisher) Enqueue(ctx context.Context, priority Priority, messageID string, payload []byte) (int64, error) {
	item := Item{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		Priority:   priority,
		EnqueuedAt: p.now().UTC(),
		Payload:    json.RawMessage(payload),
	}

	n, err := p.cache.Push(ctx, p.Key(priority), item)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", messageID, err)
	}

	slog.Info("webhook payload queued",
		"item_id", item.ID,
		"message_id", messageID,
		"priority", priority,
		"position", n,
	)
	return n, nil
}

// Len returns the number of items waiting at a priority.
func (p *Publisher) Len(ctx context.Context, priority Priority) (int64, error) {
	return p.cache.Len(ctx, p.Key(priority))
}

// pop removes the oldest item. Malformed entries are returned with ok=true
// and malformed=true so the caller can skip them without stopping the batch.
func (p *Publisher) pop(ctx context.Context, priority Priority) (item Item, ok, malformed bool, err error) {
	data, ok, err := p.cache.Pop(ctx, p.Key(priority))
	if err != nil || !ok {
		return Item{}, ok, false, err
	}
	if err := json.Unmarshal(data, &item); err != nil || !item.valid() {
		slog.Warn("skipping malformed queue entry",
			"queue", p.Key(priority),
			"raw", truncate(string(data), 200),
		)
		return Item{}, true, true, nil
	}
	return item, true, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

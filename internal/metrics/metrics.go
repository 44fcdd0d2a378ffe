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

// Package metrics keeps daily, hourly, and per-domain event counters in the
// cache. Recording never fails the caller.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/crmingest/internal/cache"
)

// Event is a pipeline outcome that is counted.
type Event string

const (
	EventReceived  Event = "received"
	EventProcessed Event = "processed"
	EventFailed    Event = "failed"
	EventQueued    Event = "queued"
)

// Events lists every counted event in display order.
var Events = []Event{EventReceived, EventProcessed, EventFailed, EventQueued}

const (
	DailyTTL  = 30 * 24 * time.Hour
	HourlyTTL = 24 * time.Hour
	DomainTTL = 7 * 24 * time.Hour

	// MaxDays bounds Read; daily counters do not outlive DailyTTL.
	MaxDays = 30

	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// DailyKey is the counter key for event on a UTC day.
func DailyKey(t time.Time, event Event) string {
	return fmt.Sprintf("crm:metrics:daily:%s:%s", t.UTC().Format(dayLayout), event)
}

// HourlyKey is the counter key for event in a UTC hour.
func HourlyKey(t time.Time, event Event) string {
	return fmt.Sprintf("crm:metrics:hourly:%s:%s", t.UTC().Format(hourLayout), event)
}

// DomainKey is the counter key for event from domain on a UTC day.
func DomainKey(domain string, t time.Time, event Event) string {
	return fmt.Sprintf("crm:metrics:domain:%s:%s:%s", strings.ToLower(domain), t.UTC().Format(dayLayout), event)
}

// Counts maps an event to its count.
type Counts map[Event]int64

// Snapshot is the aggregated view returned by Read.
type Snapshot struct {
	// Daily is keyed by YYYY-MM-DD.
	Daily map[string]Counts `json:"daily"`
	// HourlyToday is keyed by two-digit UTC hour, "00" up to the current hour.
	HourlyToday map[string]Counts `json:"hourlyToday"`
	// Days lists the Daily keys, newest first.
	Days []string `json:"days"`
}

// Recorder increments and reads counters.
type Recorder struct {
	cache *cache.Client
	now   func() time.Time
}

// NewRecorder creates a recorder backed by the cache.
func NewRecorder(c *cache.Client) *Recorder {
	return &Recorder{cache: c, now: time.Now}
}

// Record counts one event. domain may be empty. Failures are logged and
// swallowed.
func (r *Recorder) Record(ctx context.Context, event Event, domain string) {
	now := r.now()
	r.bump(ctx, DailyKey(now, event), DailyTTL)
	r.bump(ctx, HourlyKey(now, event), HourlyTTL)
	if domain != "" {
		r.bump(ctx, DomainKey(domain, now, event), DomainTTL)
	}
}

func (r *Recorder) bump(ctx context.Context, key string, ttl time.Duration) {
	n, err := r.cache.Incr(ctx, key)
	if err != nil {
		slog.Warn("metric increment failed", "key", key, "error", err)
		return
	}
	if n == 1 {
		if err := r.cache.Expire(ctx, key, ttl); err != nil {
			slog.Warn("metric expiry failed", "key", key, "error", err)
		}
	}
}

// Read aggregates the last daysBack days (today included) and every hour
// of today so far.
func (r *Recorder) Read(ctx context.Context, daysBack int) (*Snapshot, error) {
	daysBack = clampDays(daysBack)
	now := r.now().UTC()

	snap := &Snapshot{
		Daily:       make(map[string]Counts, daysBack),
		HourlyToday: make(map[string]Counts, now.Hour()+1),
		Days:        make([]string, 0, daysBack),
	}

	for i := 0; i < daysBack; i++ {
		day := now.AddDate(0, 0, -i)
		counts, err := r.read(ctx, func(e Event) string { return DailyKey(day, e) })
		if err != nil {
			return nil, err
		}
		label := day.Format(dayLayout)
		snap.Daily[label] = counts
		snap.Days = append(snap.Days, label)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for h := 0; h <= now.Hour(); h++ {
		hour := midnight.Add(time.Duration(h) * time.Hour)
		counts, err := r.read(ctx, func(e Event) string { return HourlyKey(hour, e) })
		if err != nil {
			return nil, err
		}
		snap.HourlyToday[fmt.Sprintf("%02d", h)] = counts
	}

	return snap, nil
}

// ReadDomain returns per-day counts for one sender domain.
func (r *Recorder) ReadDomain(ctx context.Context, domain string, daysBack int) (map[string]Counts, error) {
	daysBack = clampDays(daysBack)
	if daysBack > 7 {
		daysBack = 7
	}
	now := r.now().UTC()

	out := make(map[string]Counts, daysBack)
	for i := 0; i < daysBack; i++ {
		day := now.AddDate(0, 0, -i)
		counts, err := r.read(ctx, func(e Event) string { return DomainKey(domain, day, e) })
		if err != nil {
			return nil, err
		}
		out[day.Format(dayLayout)] = counts
	}
	return out, nil
}

func (r *Recorder) read(ctx context.Context, key func(Event) string) (Counts, error) {
	counts := make(Counts, len(Events))
	for _, e := range Events {
		n, err := r.cache.GetInt(ctx, key(e))
		if err != nil {
			return nil, fmt.Errorf("read metrics: %w", err)
		}
		counts[e] = n
	}
	return counts, nil
}

func clampDays(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxDays:
		return MaxDays
	default:
		return n
	}
}

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

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Marker records that a drained message is being processed.
// Implemented by dedup.Guard.
type Marker interface {
	MarkProcessing(ctx context.Context, messageID string) error
}

// Processor runs a drained item through the pipeline. It owns the outcome:
// marking completed or failed and recording metrics.
type Processor interface {
	ProcessQueued(ctx context.Context, item Item) error
}

// DrainerConfig holds the drainer's collaborators and pacing.
type DrainerConfig struct {
	Publisher *Publisher
	Marker    Marker
	Processor Processor

	Interval  time.Duration
	BatchSize int
	// RatePerSecond caps how fast items are handed to the Processor.
	// Zero means unlimited.
	RatePerSecond float64
}

// Drainer pops queued items and feeds them back into the pipeline.
type Drainer struct {
	publisher *Publisher
	marker    Marker
	processor Processor
	limiter   *rate.Limiter
	interval  time.Duration
	batchSize int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDrainer creates a drainer.
func NewDrainer(cfg DrainerConfig) *Drainer {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Drainer{
		publisher: cfg.Publisher,
		marker:    cfg.Marker,
		processor: cfg.Processor,
		limiter:   rate.NewLimiter(limit, 1),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Drain pops up to batchSize items from the priority list in FIFO order and
// marks each as processing. Malformed entries are dropped and logged; they
// count toward batchSize so a poisoned queue cannot spin the loop.
func (d *Drainer) Drain(ctx context.Context, priority Priority, batchSize int) ([]Item, error) {
	var items []Item
	for range batchSize {
		item, ok, malformed, err := d.publisher.pop(ctx, priority)
		if err != nil {
			return items, err
		}
		if !ok {
			break
		}
		if malformed {
			continue
		}
		d.mark(ctx, item)
		items = append(items, item)
	}
	return items, nil
}

// RunOnce drains one batch, high priority first, and processes it. The
// batch budget is shared: normal items only fill what high left over.
// It returns the number of items handed to the Processor.
//
// Items are popped one at a time after pacing, so cancellation only takes
// effect between items: anything still queued stays queued, and an item
// already popped is always processed to completion.
func (d *Drainer) RunOnce(ctx context.Context) (int, error) {
	budget := d.batchSize
	handled := 0

	for _, priority := range Priorities {
		for budget > 0 {
			if err := d.limiter.Wait(ctx); err != nil {
				return handled, err
			}

			item, ok, malformed, err := d.publisher.pop(ctx, priority)
			if err != nil {
				return handled, err
			}
			if !ok {
				break
			}
			budget--
			if malformed {
				continue
			}

			// The item has left the queue; its own processing timeout bounds it.
			itemCtx := context.WithoutCancel(ctx)
			d.mark(itemCtx, item)
			if perr := d.processor.ProcessQueued(itemCtx, item); perr != nil {
				slog.Error("queued item failed",
					"item_id", item.ID,
					"message_id", item.MessageID,
					"priority", priority,
					"error", perr,
				)
			}
			handled++
		}
	}
	return handled, nil
}

func (d *Drainer) mark(ctx context.Context, item Item) {
	if d.marker == nil {
		return
	}
	if err := d.marker.MarkProcessing(ctx, item.MessageID); err != nil {
		slog.Warn("failed to mark drained item processing",
			"message_id", item.MessageID,
			"error", err,
		)
	}
}

// Start runs RunOnce on every tick until Stop is called or ctx ends.
func (d *Drainer) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				n, err := d.RunOnce(loopCtx)
				if err != nil && loopCtx.Err() == nil {
					slog.Error("queue drain failed", "error", err)
				}
				if n > 0 {
					slog.Info("queue drained", "items", n)
				}
			}
		}
	}()

	slog.Info("queue drainer started",
		"interval", d.interval,
		"batch_size", d.batchSize,
		"rate", float64(d.limiter.Limit()),
	)
}

// Stop shuts down the drain loop and waits for the in-flight batch.
func (d *Drainer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

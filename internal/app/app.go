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

// Package app wires configuration into a running pipeline. The server and
// the operator CLI share it so both see the same keys and limits.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/crmingest/internal/cache"
	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/config"
	"github.com/bcem/crmingest/internal/dedup"
	"github.com/bcem/crmingest/internal/ingest"
	"github.com/bcem/crmingest/internal/metrics"
	"github.com/bcem/crmingest/internal/queue"
	"github.com/bcem/crmingest/internal/ratelimit"
	"github.com/bcem/crmingest/internal/resolver"
	"github.com/bcem/crmingest/internal/store"
)

// Pipeline holds every constructed component.
type Pipeline struct {
	Config       *config.Config
	Cache        *cache.Client
	Store        store.Store
	Classifier   *classify.Classifier
	Guard        *dedup.Guard
	Limiter      *ratelimit.Limiter
	Resolver     *resolver.Resolver
	Metrics      *metrics.Recorder
	Queue        *queue.Publisher
	Orchestrator *ingest.Orchestrator
	Drainer      *queue.Drainer
}

// NewPipeline builds the pipeline on an established cache and store.
func NewPipeline(cfg *config.Config, c *cache.Client, s store.Store) (*Pipeline, error) {
	p := &Pipeline{
		Config:     cfg,
		Cache:      c,
		Store:      s,
		Classifier: classify.New(cfg.InternalDomains, cfg.PersonalDomains),
		Guard:      dedup.NewGuard(c, s, cfg.ProcessingTTL),
		Limiter:    ratelimit.NewLimiter(c),
		Metrics:    metrics.NewRecorder(c),
		Queue:      queue.NewPublisher(c, cfg.QueuePrefix),
	}
	p.Resolver = resolver.New(s, c, p.Classifier)

	o, err := ingest.New(ingest.Config{
		Secret:            cfg.WebhookSecret,
		SenderLimit:       cfg.SenderLimit,
		DomainLimit:       cfg.DomainLimit,
		RateWindow:        cfg.RateWindow,
		LoadShedThreshold: cfg.LoadShedThreshold,
		ProcessTimeout:    cfg.ProcessTimeout,
		ProcessedBy:       cfg.ProcessedBy,
	}, ingest.Deps{
		Store:      s,
		Cache:      c,
		Guard:      p.Guard,
		Limiter:    p.Limiter,
		Resolver:   p.Resolver,
		Classifier: p.Classifier,
		Metrics:    p.Metrics,
		Queue:      p.Queue,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	p.Orchestrator = o

	p.Drainer = queue.NewDrainer(queue.DrainerConfig{
		Publisher:     p.Queue,
		Marker:        p.Guard,
		Processor:     o,
		Interval:      cfg.DrainInterval,
		BatchSize:     cfg.DrainBatchSize,
		RatePerSecond: cfg.DrainRate,
	})

	return p, nil
}

// OpenStore connects the durable store. Without a database URL it falls
// back to the in-memory store, which is only suitable for development.
// The returned close function is never nil.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data is lost on restart)")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	s, err := store.NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// ConnectCache establishes the cache through the connection manager.
func ConnectCache(ctx context.Context, cfg *config.Config) (*cache.Manager, *cache.Client, error) {
	mgr := cache.NewManager(cache.ManagerConfig{URL: cfg.RedisURL})
	c, err := mgr.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return mgr, c, nil
}

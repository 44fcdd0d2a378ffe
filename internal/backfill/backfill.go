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

// Package backfill seeds the CRM from historical mail by listing messages
// in a date range from the Graph API and running each through the same
// acceptance path as a live webhook.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcem/crmingest/internal/graph"
	"github.com/bcem/crmingest/internal/ingest"
)

// Pager lists mailbox messages page by page. Implemented by graph.Fetcher.
type Pager interface {
	MessagesURL(userID string, since time.Time) string
	ListPage(ctx context.Context, pageURL string) (*graph.MessagePage, error)
}

// Acceptor runs one raw payload through the pipeline.
// Implemented by ingest.Orchestrator.
type Acceptor interface {
	Accept(ctx context.Context, raw []byte) ingest.Response
}

// Request defines the scope of a backfill run.
type Request struct {
	Users []string      // user IDs / UPNs to backfill
	Since time.Duration // lookback window (e.g. 168h = 1 week)
}

// Result summarises a completed backfill run.
type Result struct {
	UserResults  []UserResult
	TotalNew     int
	TotalSkipped int
	TotalLimited int
	Elapsed      time.Duration
}

// UserResult tracks per-user backfill progress.
type UserResult struct {
	UserID      string
	New         int // communications created
	Skipped     int // duplicates and internal mail
	Queued      int // load-shed for the drainer
	RateLimited int
	Errors      int
}

// Runner performs historical backfill.
type Runner struct {
	pager     Pager
	acceptor  Acceptor
	pageDelay time.Duration // delay between pages to avoid throttling
	now       func() time.Time
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Pager     Pager
	Acceptor  Acceptor
	PageDelay time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Runner{
		pager:     cfg.Pager,
		acceptor:  cfg.Acceptor,
		pageDelay: delay,
		now:       time.Now,
	}
}

// Run performs the backfill for every requested user. A failing mailbox
// is recorded and the run continues with the next one.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := r.now()
	since := start.UTC().Add(-req.Since)

	slog.Info("starting historical backfill",
		"users", len(req.Users),
		"since", since.Format(time.RFC3339),
	)

	result := &Result{}
	for _, userID := range req.Users {
		ur, err := r.backfillUser(ctx, userID, since)
		if err != nil {
			slog.Error("backfill failed for user", "user", userID, "error", err)
			ur.Errors++
		}

		result.UserResults = append(result.UserResults, ur)
		result.TotalNew += ur.New
		result.TotalSkipped += ur.Skipped
		result.TotalLimited += ur.RateLimited

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	result.Elapsed = r.now().Sub(start)

	slog.Info("historical backfill complete",
		"total_new", result.TotalNew,
		"total_skipped", result.TotalSkipped,
		"total_rate_limited", result.TotalLimited,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *Runner) backfillUser(ctx context.Context, userID string, since time.Time) (UserResult, error) {
	ur := UserResult{UserID: userID}

	slog.Info("backfilling user mailbox", "user", userID, "since", since)

	pageCount := 0
	for nextURL := r.pager.MessagesURL(userID, since); nextURL != ""; {
		if pageCount > 0 {
			select {
			case <-ctx.Done():
				return ur, ctx.Err()
			case <-time.After(r.pageDelay):
			}
		}

		page, err := r.pager.ListPage(ctx, nextURL)
		if err != nil {
			return ur, fmt.Errorf("fetch page %d: %w", pageCount, err)
		}
		pageCount++

		for _, msg := range page.Messages {
			raw, err := json.Marshal(msg)
			if err != nil {
				ur.Errors++
				continue
			}
			r.tally(&ur, msg.MessageID, r.acceptor.Accept(ctx, raw))
		}

		nextURL = page.NextLink
	}

	slog.Info("user backfill complete",
		"user", userID,
		"new", ur.New,
		"skipped", ur.Skipped,
		"queued", ur.Queued,
		"rate_limited", ur.RateLimited,
		"errors", ur.Errors,
		"pages", pageCount,
	)
	return ur, nil
}

func (r *Runner) tally(ur *UserResult, messageID string, resp ingest.Response) {
	switch resp.Status {
	case http.StatusOK:
		body, _ := resp.Body.(ingest.SuccessBody)
		// Status is only set on a repeat delivery.
		repeat := body.Status != ""
		if repeat || (body.Processed != nil && (body.Processed.Skipped || body.Processed.Duplicate)) {
			ur.Skipped++
		} else {
			ur.New++
		}
	case http.StatusAccepted:
		ur.Queued++
	case http.StatusTooManyRequests:
		ur.RateLimited++
	default:
		slog.Warn("backfill: message rejected",
			"message_id", messageID,
			"status", resp.Status,
		)
		ur.Errors++
	}
}

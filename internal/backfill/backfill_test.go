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

package backfill

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/crmingest/internal/app"
	"github.com/bcem/crmingest/internal/cache/cachetest"
	"github.com/bcem/crmingest/internal/config"
	"github.com/bcem/crmingest/internal/graph"
	"github.com/bcem/crmingest/internal/models"
	"github.com/bcem/crmingest/internal/store"
)

// --- Mock pager ---

type mockPager struct {
	mu      sync.Mutex
	pages   map[string][]*graph.MessagePage // per user, in order
	fail    map[string]error
	fetched []string
}

func (m *mockPager) MessagesURL(userID string, _ time.Time) string {
	return userID + "#0"
}

func (m *mockPager) ListPage(_ context.Context, pageURL string) (*graph.MessagePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, pageURL)

	user, n, _ := strings.Cut(pageURL, "#")
	idx, err := strconv.Atoi(n)
	if err != nil {
		return nil, err
	}
	if err := m.fail[user]; err != nil {
		return nil, err
	}
	pages := m.pages[user]
	if idx >= len(pages) {
		return &graph.MessagePage{}, nil
	}
	return pages[idx], nil
}

func page(next string, msgs ...*models.WebhookPayload) *graph.MessagePage {
	return &graph.MessagePage{Messages: msgs, NextLink: next}
}

func msg(id, from string) *models.WebhookPayload {
	return &models.WebhookPayload{
		MessageID: id,
		From:      models.EmailAddress{Address: from},
		Subject:   "Subject " + id,
		Date:      "2026-03-14T09:30:00Z",
	}
}

func newRunner(t *testing.T, pager Pager, senderLimit int) (*Runner, *store.Memory) {
	t.Helper()
	c, _ := cachetest.New(t)
	mem := store.NewMemory()
	p, err := app.NewPipeline(&config.Config{
		InternalDomains:   []string{"ourcompany.com"},
		SenderLimit:       senderLimit,
		DomainLimit:       1000,
		RateWindow:        time.Hour,
		LoadShedThreshold: 1000,
		ProcessTimeout:    5 * time.Second,
		ProcessingTTL:     24 * time.Hour,
	}, c, mem)
	require.NoError(t, err)

	return NewRunner(RunnerConfig{Pager: pager, Acceptor: p.Orchestrator, PageDelay: time.Millisecond}), mem
}

// TestBackfill_FollowsPages verifies every page of every user is processed.
func TestBackfill_FollowsPages(t *testing.T) {
	pager := &mockPager{pages: map[string][]*graph.MessagePage{
		"u1": {
			page("u1#1", msg("m1", "ann@acme.com"), msg("m2", "bob@acme.com")),
			page("", msg("m3", "cat@globex.com")),
		},
		"u2": {
			page("", msg("m4", "dan@initech.com")),
		},
	}}
	r, mem := newRunner(t, pager, 100)

	res, err := r.Run(context.Background(), Request{Users: []string{"u1", "u2"}, Since: 7 * 24 * time.Hour})
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalNew)
	assert.Zero(t, res.TotalSkipped)
	require.Len(t, res.UserResults, 2)
	assert.Equal(t, 3, res.UserResults[0].New)
	assert.Equal(t, 1, res.UserResults[1].New)
	assert.Equal(t, []string{"u1#0", "u1#1", "u2#0"}, pager.fetched)

	companies, _, comms := mem.Counts()
	assert.Equal(t, 3, companies)
	assert.Equal(t, 4, comms)
}

// TestBackfill_RerunIsIdempotent verifies a second run creates nothing.
func TestBackfill_RerunIsIdempotent(t *testing.T) {
	pager := &mockPager{pages: map[string][]*graph.MessagePage{
		"u1": {page("", msg("m1", "ann@acme.com"), msg("m2", "me@ourcompany.com"))},
	}}
	r, mem := newRunner(t, pager, 100)

	first, err := r.Run(context.Background(), Request{Users: []string{"u1"}, Since: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalNew)
	assert.Equal(t, 1, first.TotalSkipped, "internal mail is skipped")

	second, err := r.Run(context.Background(), Request{Users: []string{"u1"}, Since: time.Hour})
	require.NoError(t, err)
	assert.Zero(t, second.TotalNew)
	assert.Equal(t, 2, second.TotalSkipped)

	_, _, comms := mem.Counts()
	assert.Equal(t, 1, comms)
}

// TestBackfill_RateLimited verifies limited messages are counted, not failed.
func TestBackfill_RateLimited(t *testing.T) {
	pager := &mockPager{pages: map[string][]*graph.MessagePage{
		"u1": {page("", msg("m1", "ann@acme.com"), msg("m2", "ann@acme.com"), msg("m3", "ann@acme.com"))},
	}}
	r, _ := newRunner(t, pager, 2)

	res, err := r.Run(context.Background(), Request{Users: []string{"u1"}, Since: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalNew)
	assert.Equal(t, 1, res.TotalLimited)
	assert.Zero(t, res.UserResults[0].Errors)
}

// TestBackfill_UserFailureContinues verifies one failing mailbox does not
// stop the run.
func TestBackfill_UserFailureContinues(t *testing.T) {
	pager := &mockPager{
		pages: map[string][]*graph.MessagePage{
			"u2": {page("", msg("m1", "ann@acme.com"))},
		},
		fail: map[string]error{"u1": errors.New("HTTP 403")},
	}
	r, _ := newRunner(t, pager, 100)

	res, err := r.Run(context.Background(), Request{Users: []string{"u1", "u2"}, Since: time.Hour})
	require.NoError(t, err)
	require.Len(t, res.UserResults, 2)
	assert.Equal(t, 1, res.UserResults[0].Errors)
	assert.Equal(t, 1, res.UserResults[1].New)
}

// TestBackfill_InvalidMessageCountsAsError verifies rejected payloads are tallied.
func TestBackfill_InvalidMessageCountsAsError(t *testing.T) {
	bad := msg("m1", "ann@acme.com")
	bad.Subject = ""
	pager := &mockPager{pages: map[string][]*graph.MessagePage{"u1": {page("", bad)}}}
	r, _ := newRunner(t, pager, 100)

	res, err := r.Run(context.Background(), Request{Users: []string{"u1"}, Since: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UserResults[0].Errors)
}

// TestBackfill_ContextCancelled verifies cancellation stops between pages.
func TestBackfill_ContextCancelled(t *testing.T) {
	pager := &mockPager{pages: map[string][]*graph.MessagePage{
		"u1": {page("u1#1"), page("")},
	}}
	r, _ := newRunner(t, pager, 100)
	r.pageDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Request{Users: []string{"u1", "u2"}, Since: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}

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

package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/crmingest/internal/cache/cachetest"
	"github.com/bcem/crmingest/internal/models"
)

// mockLookup implements DurableLookup for testing.
type mockLookup struct {
	rows  map[string]*models.Communication
	err   error
	calls int
}

func (m *mockLookup) FindCommunicationByMessageID(_ context.Context, id string) (*models.Communication, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.rows[id], nil
}

// TestGuard_AbsentMessage verifies an unseen message reports no state.
func TestGuard_AbsentMessage(t *testing.T) {
	c, _ := cachetest.New(t)
	g := NewGuard(c, &mockLookup{}, 0)

	state, err := g.Check(context.Background(), "m1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

// TestGuard_StateTransitions verifies processing → completed is observable.
func TestGuard_StateTransitions(t *testing.T) {
	c, _ := cachetest.New(t)
	g := NewGuard(c, &mockLookup{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, g.MarkProcessing(ctx, "m1"))
	state, err := g.Check(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.StatusProcessing, state.Status)

	require.NoError(t, g.MarkCompleted(ctx, "m1", models.ProcessingResult{CommunicationID: "c1"}))
	state, err = g.Check(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, state.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, "c1", state.Result.CommunicationID)

	require.NoError(t, g.MarkFailed(ctx, "m2", "boom"))
	state, err = g.Check(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, "boom", state.Error)
}

// TestGuard_DurableFallbackBackfillsCache verifies a durable hit becomes completed.
func TestGuard_DurableFallbackBackfillsCache(t *testing.T) {
	c, mr := cachetest.New(t)
	lookup := &mockLookup{rows: map[string]*models.Communication{
		"m1": {ID: "comm-1", MessageID: "m1", CompanyID: "co", ContactID: "ct", CreatedAt: time.Now()},
	}}
	g := NewGuard(c, lookup, time.Hour)
	ctx := context.Background()

	state, err := g.Check(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.StatusCompleted, state.Status)
	assert.Equal(t, "comm-1", state.Result.CommunicationID)
	assert.True(t, mr.Exists(Key("m1")), "cache should be backfilled")

	_, err = g.Check(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls, "second check should be served by the cache")
}

// TestGuard_ExpiryReentersAbsent verifies terminal states lapse after the TTL.
func TestGuard_ExpiryReentersAbsent(t *testing.T) {
	c, mr := cachetest.New(t)
	g := NewGuard(c, &mockLookup{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, g.MarkFailed(ctx, "m1", "transient"))
	mr.FastForward(2 * time.Hour)

	state, err := g.Check(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

// TestGuard_DurableError verifies store failures propagate.
func TestGuard_DurableError(t *testing.T) {
	c, _ := cachetest.New(t)
	g := NewGuard(c, &mockLookup{err: errors.New("db down")}, time.Hour)

	_, err := g.Check(context.Background(), "m1")
	assert.Error(t, err)
}

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

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/crmingest/internal/cache"
	"github.com/bcem/crmingest/internal/cache/cachetest"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestClient_SetGet verifies JSON round trips and TTL application.
func TestClient_SetGet(t *testing.T) {
	c, mr := cachetest.New(t)
	ctx := context.Background()

	found, err := c.Get(ctx, "missing", &entry{})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", entry{Name: "acme", Count: 2}, time.Minute))

	var got entry
	found, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entry{Name: "acme", Count: 2}, got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	found, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found, "entry should expire")
}

// TestClient_Counters verifies INCR, EXPIRE and TTL semantics.
func TestClient_Counters(t *testing.T) {
	c, _ := cachetest.New(t)
	ctx := context.Background()

	n, err := c.GetInt(ctx, "ctr")
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 1; i <= 3; i++ {
		n, err = c.Incr(ctx, "ctr")
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}

	ttl, err := c.TTL(ctx, "ctr")
	require.NoError(t, err)
	assert.Less(t, ttl, time.Duration(0), "no expiry yet")

	require.NoError(t, c.Expire(ctx, "ctr", time.Hour))
	ttl, err = c.TTL(ctx, "ctr")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	n, err = c.GetInt(ctx, "ctr")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

// TestClient_ListIsFIFO verifies push-at-head / pop-at-tail ordering.
func TestClient_ListIsFIFO(t *testing.T) {
	c, _ := cachetest.New(t)
	ctx := context.Background()

	for i, name := range []string{"first", "second", "third"} {
		n, err := c.Push(ctx, "q", entry{Name: name})
		require.NoError(t, err)
		assert.EqualValues(t, i+1, n)
	}

	length, err := c.Len(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 3, length)

	data, ok, err := c.Pop(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"first","count":0}`, string(data))

	_, _, _ = c.Pop(ctx, "q")
	_, _, _ = c.Pop(ctx, "q")

	_, ok, err = c.Pop(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestClient_DeletePattern verifies keys-by-pattern deletion.
func TestClient_DeletePattern(t *testing.T) {
	c, mr := cachetest.New(t)
	ctx := context.Background()

	for _, k := range []string{"dashboard:a", "dashboard:b", "thread:1"} {
		require.NoError(t, c.Set(ctx, k, 1, 0))
	}

	keys, err := c.Keys(ctx, "dashboard:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dashboard:a", "dashboard:b"}, keys)

	n, err := c.DeletePattern(ctx, "dashboard:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("dashboard:a"))
	assert.True(t, mr.Exists("thread:1"))

	require.NoError(t, c.Delete(ctx))
}

// TestManager_Connect verifies the connection manager against a live server.
func TestManager_Connect(t *testing.T) {
	_, mr := cachetest.New(t)

	m := cache.NewManager(cache.ManagerConfig{URL: "redis://" + mr.Addr() + "/0"})
	c, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))

	again, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, again, "connect is one-time")
	assert.NoError(t, m.Close())
}

// TestManager_ConnectGivesUp verifies the backoff budget is honoured.
func TestManager_ConnectGivesUp(t *testing.T) {
	m := cache.NewManager(cache.ManagerConfig{
		URL:        "redis://127.0.0.1:1/0",
		MaxElapsed: 300 * time.Millisecond,
	})

	start := time.Now()
	_, err := m.Connect(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

// TestManager_InvalidURL verifies URL parsing errors surface immediately.
func TestManager_InvalidURL(t *testing.T) {
	m := cache.NewManager(cache.ManagerConfig{URL: "not a url"})
	_, err := m.Connect(context.Background())
	assert.Error(t, err)
}

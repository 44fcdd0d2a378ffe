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

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/crmingest/internal/app"
	"github.com/bcem/crmingest/internal/cache/cachetest"
	"github.com/bcem/crmingest/internal/config"
	"github.com/bcem/crmingest/internal/models"
	"github.com/bcem/crmingest/internal/store"
)

const secret = "s3cret"

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	msg   *models.WebhookPayload
	err   error
}

func (f *fakeFetcher) FetchMessage(_ context.Context, userID, messageID string) (*models.WebhookPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID+"/"+messageID)
	return f.msg, f.err
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type testServer struct {
	e        *echo.Echo
	h        *Handler
	pipeline *app.Pipeline
	mem      *store.Memory
}

func newTestServer(t *testing.T, fetcher MessageFetcher, mutate func(*config.Config)) *testServer {
	t.Helper()
	c, _ := cachetest.New(t)
	mem := store.NewMemory()

	cfg := &config.Config{
		WebhookSecret:     secret,
		InternalDomains:   []string{"ourcompany.com"},
		SenderLimit:       100,
		DomainLimit:       500,
		RateWindow:        time.Hour,
		LoadShedThreshold: 50,
		ProcessTimeout:    5 * time.Second,
		ProcessingTTL:     24 * time.Hour,
	}
	if mutate != nil {
		mutate(cfg)
	}

	p, err := app.NewPipeline(cfg, c, mem)
	require.NoError(t, err)

	h := NewHandler(HandlerConfig{
		Orchestrator: p.Orchestrator,
		Metrics:      p.Metrics,
		Fetcher:      fetcher,
		Checks:       map[string]Pinger{"redis": c, "store": mem},
	})
	return &testServer{e: NewRouter(h), h: h, pipeline: p, mem: mem}
}

func (s *testServer) do(method, target, body, auth string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

const emailBody = `{"messageId":"m1","from":{"name":"Ann","email":"ann@acme.com"},"to":["me@ourcompany.com"],"subject":"Hi"}`

func TestServeEmail_Processes(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(http.MethodPost, "/webhooks/email", emailBody, "Bearer "+secret)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success   bool                    `json:"success"`
		Processed models.ProcessingResult `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Processed.CommunicationID)

	// Re-delivery reports the same communication.
	again := s.do(http.MethodPost, "/webhooks/email", emailBody, "Bearer "+secret)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Contains(t, again.Body.String(), body.Processed.CommunicationID)
}

func TestServeEmail_Unauthorized(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(http.MethodPost, "/webhooks/email", emailBody, "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestServeEmail_BadRequest(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(http.MethodPost, "/webhooks/email", `{"messageId":"m1"}`, "Bearer "+secret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestServeEmail_RateLimitedSetsRetryAfter(t *testing.T) {
	s := newTestServer(t, nil, func(c *config.Config) { c.SenderLimit = 1 })

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/webhooks/email", emailBody, "Bearer "+secret).Code)

	second := strings.Replace(emailBody, `"m1"`, `"m2"`, 1)
	rec := s.do(http.MethodPost, "/webhooks/email", second, "Bearer "+secret)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Greater(t, body.RetryAfter, 0)
}

func TestServeEmail_BodyLimit(t *testing.T) {
	s := newTestServer(t, nil, nil)

	huge := `{"messageId":"m1","subject":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := s.do(http.MethodPost, "/webhooks/email", huge, "Bearer "+secret)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServeStatus(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(http.MethodGet, "/webhooks/email/status/m1", "", "Bearer "+secret)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.do(http.MethodPost, "/webhooks/email", emailBody, "Bearer "+secret)

	rec = s.do(http.MethodGet, "/webhooks/email/status/m1", "", "Bearer "+secret)
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.ProcessingState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, models.StatusCompleted, state.Status)

	rec = s.do(http.MethodGet, "/webhooks/email/status/m1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeMetrics(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(http.MethodPost, "/webhooks/email", emailBody, "Bearer "+secret)

	rec := s.do(http.MethodGet, "/metrics?days=3", "", "Bearer "+secret)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Daily       map[string]map[string]int64 `json:"daily"`
		HourlyToday map[string]map[string]int64 `json:"hourlyToday"`
		Days        []string                    `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Days, 3)
	assert.Equal(t, int64(1), snap.Daily[snap.Days[0]]["received"])
	assert.Equal(t, int64(1), snap.Daily[snap.Days[0]]["processed"])

	rec = s.do(http.MethodGet, "/metrics?days=abc", "", "Bearer "+secret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"redis":"healthy"`)

	s.h.checks["store"] = pingFunc(func(context.Context) error { return errors.New("down") })
	rec = s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"unhealthy"`)
}

func TestGraphRouteDisabledWithoutFetcher(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(http.MethodPost, "/webhooks/graph?validationToken=abc", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestServeGraph_ValidationToken verifies the validation probe flow.
func TestServeGraph_ValidationToken(t *testing.T) {
	s := newTestServer(t, &fakeFetcher{}, nil)

	rec := s.do(http.MethodPost, "/webhooks/graph?validationToken=test-token-123", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-token-123", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestServeGraph_InvalidJSON(t *testing.T) {
	f := &fakeFetcher{}
	s := newTestServer(t, f, nil)

	rec := s.do(http.MethodPost, "/webhooks/graph", "not json", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	s.h.Wait()
	assert.Empty(t, f.calls)
}

func TestServeGraph_ProcessesNotifications(t *testing.T) {
	f := &fakeFetcher{msg: &models.WebhookPayload{
		MessageID: "<graph-1@acme.com>",
		From:      models.EmailAddress{Address: "ann@acme.com", Name: "Ann"},
		Subject:   "From Graph",
		Date:      "2026-03-14T09:30:00Z",
		ThreadID:  "conv-1",
	}}
	s := newTestServer(t, f, nil)

	body := `{"value":[
		{"changeType":"created","clientState":"` + secret + `","resource":"Users/u1/Messages/AAMk1"},
		{"changeType":"updated","clientState":"` + secret + `","resource":"Users/u1/Messages/AAMk2"},
		{"changeType":"created","clientState":"wrong","resource":"Users/u1/Messages/AAMk3"},
		{"changeType":"created","clientState":"` + secret + `","resource":"Users/u1/mailFolders/inbox"}
	]}`
	rec := s.do(http.MethodPost, "/webhooks/graph", body, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	s.h.Wait()

	assert.Equal(t, []string{"u1/AAMk1"}, f.calls)

	comm, err := s.mem.FindCommunicationByMessageID(context.Background(), "<graph-1@acme.com>")
	require.NoError(t, err)
	require.NotNil(t, comm)
	assert.Equal(t, "conv-1", comm.ThreadID)
}

func TestServeGraph_DeletedMessageIsIgnored(t *testing.T) {
	f := &fakeFetcher{}
	s := newTestServer(t, f, nil)

	body := `{"value":[{"changeType":"created","clientState":"` + secret + `","resource":"users/u1/messages/gone"}]}`
	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/webhooks/graph", body, "").Code)
	s.h.Wait()

	_, _, comms := s.mem.Counts()
	assert.Zero(t, comms)
}

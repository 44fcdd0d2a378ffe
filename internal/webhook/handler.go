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

// Package webhook is the HTTP transport for the ingestion pipeline. It maps
// requests onto the orchestrator and serves the read-only status, metrics,
// and health endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bcem/crmingest/internal/graph"
	"github.com/bcem/crmingest/internal/ingest"
	"github.com/bcem/crmingest/internal/metrics"
	"github.com/bcem/crmingest/internal/models"
)

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MessageFetcher loads message metadata for a Graph notification.
// Implemented by graph.Fetcher.
type MessageFetcher interface {
	FetchMessage(ctx context.Context, userID, messageID string) (*models.WebhookPayload, error)
}

// HandlerConfig holds the handler's collaborators.
type HandlerConfig struct {
	Orchestrator *ingest.Orchestrator
	Metrics      *metrics.Recorder

	// Fetcher enables /webhooks/graph when set.
	Fetcher MessageFetcher

	// Checks are pinged by /health, keyed by service name.
	Checks map[string]Pinger
}

// Handler serves the webhook and read endpoints.
type Handler struct {
	orchestrator *ingest.Orchestrator
	metrics      *metrics.Recorder
	fetcher      MessageFetcher
	checks       map[string]Pinger

	// background tracks Graph notifications processed after the 202.
	background sync.WaitGroup
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		orchestrator: cfg.Orchestrator,
		metrics:      cfg.Metrics,
		fetcher:      cfg.Fetcher,
		checks:       cfg.Checks,
	}
}

// ServeEmail handles POST /webhooks/email.
func (h *Handler) ServeEmail(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		return c.JSON(http.StatusBadRequest, ingest.ErrorBody{Error: "Unreadable body"})
	}

	resp := h.orchestrator.Handle(c.Request().Context(), body, c.Request().Header.Get(echo.HeaderAuthorization))
	return writeResponse(c, resp)
}

// ServeGraph handles Graph change notifications.
//
// Graph API validation flow:
//   - When creating a subscription, Graph sends a POST with ?validationToken=<token>
//   - We must respond 200 OK with the token in plain text
//
// Normal notification flow:
//   - Graph POSTs a JSON body with an array of ChangeNotification objects
//   - We respond 202 Accepted immediately
//   - Process notifications in the background
func (h *Handler) ServeGraph(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		slog.Info("subscription validation probe received")
		return c.String(http.StatusOK, token)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		slog.Error("failed to read notification body", "error", err)
		return c.NoContent(http.StatusAccepted)
	}

	var payload graph.NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Info("notification body not valid JSON, treating as probe",
			"body_len", len(body),
		)
		return c.NoContent(http.StatusAccepted)
	}

	// Graph expects a fast response; the request context ends with it.
	ctx := context.WithoutCancel(c.Request().Context())
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		h.processNotifications(ctx, payload.Value)
	}()

	return c.NoContent(http.StatusAccepted)
}

// Wait blocks until background notification processing has finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) processNotifications(ctx context.Context, notifications []graph.ChangeNotification) {
	for _, n := range notifications {
		if n.ChangeType != "created" {
			slog.Debug("skipping non-created notification",
				"change_type", n.ChangeType,
				"resource", n.Resource,
			)
			continue
		}

		if !h.orchestrator.ValidClientState(n.ClientState) {
			slog.Warn("clientState mismatch, possible spoofed notification",
				"subscription_id", n.SubscriptionID,
			)
			continue
		}

		userID, messageID, err := graph.ParseResource(n.Resource)
		if err != nil {
			slog.Warn("failed to parse notification resource",
				"resource", n.Resource,
				"error", err,
			)
			continue
		}

		payload, err := h.fetcher.FetchMessage(ctx, userID, messageID)
		if err != nil {
			slog.Error("fetch message failed",
				"message_id", messageID,
				"error", err,
			)
			continue
		}
		if payload == nil {
			continue
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			slog.Error("encode fetched message", "message_id", messageID, "error", err)
			continue
		}

		resp := h.orchestrator.Accept(ctx, raw)
		slog.Info("graph notification processed",
			"user", userID,
			"message_id", payload.MessageID,
			"status", resp.Status,
		)
	}
}

// ServeStatus handles GET /webhooks/email/status/:messageId.
func (h *Handler) ServeStatus(c echo.Context) error {
	id := c.Param("messageId")
	state, err := h.orchestrator.Status(c.Request().Context(), id)
	if err != nil {
		slog.Error("status lookup failed", "message_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, ingest.ErrorBody{Error: "Status lookup failed"})
	}
	if state == nil {
		return c.JSON(http.StatusNotFound, ingest.ErrorBody{Error: "Not found"})
	}
	return c.JSON(http.StatusOK, state)
}

// ServeMetrics handles GET /metrics?days=N.
func (h *Handler) ServeMetrics(c echo.Context) error {
	days := 7
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ingest.ErrorBody{Error: "days must be an integer"})
		}
		days = n
	}

	snap, err := h.metrics.Read(c.Request().Context(), days)
	if err != nil {
		slog.Error("metrics read failed", "error", err)
		return c.JSON(http.StatusInternalServerError, ingest.ErrorBody{Error: "Metrics unavailable"})
	}
	return c.JSON(http.StatusOK, snap)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// ServeHealth handles GET /health.
func (h *Handler) ServeHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Services: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", "service", name, "error", err)
			resp.Services[name] = "unhealthy"
			resp.Status = "unhealthy"
			continue
		}
		resp.Services[name] = "healthy"
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// requireAuth guards read endpoints with the webhook secret.
func (h *Handler) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := h.orchestrator.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.JSON(http.StatusUnauthorized, ingest.ErrorBody{Error: "Unauthorized"})
		}
		return next(c)
	}
}

func writeResponse(c echo.Context, resp ingest.Response) error {
	if b, ok := resp.Body.(ingest.ErrorBody); ok && b.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(b.RetryAfter))
	}
	return c.JSON(resp.Status, resp.Body)
}

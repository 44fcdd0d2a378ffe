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

// Package ingest sequences webhook handling: authentication, validation,
// rate limiting, dedup, load shedding, entity resolution, and the durable
// write. It is the single place where internal errors become responses.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/bcem/crmingest/internal/cache"
	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/dedup"
	"github.com/bcem/crmingest/internal/metrics"
	"github.com/bcem/crmingest/internal/models"
	"github.com/bcem/crmingest/internal/queue"
	"github.com/bcem/crmingest/internal/ratelimit"
	"github.com/bcem/crmingest/internal/resolver"
	"github.com/bcem/crmingest/internal/store"
)

// DashboardPattern matches cached dashboard snapshots dropped after a write.
const DashboardPattern = "dashboard:*"

// ThreadKey is the cache key of a thread snapshot.
func ThreadKey(threadID string) string {
	return "thread:" + threadID
}

// Config tunes the orchestrator.
type Config struct {
	// Secret is the shared webhook secret. Empty disables authentication.
	Secret string

	SenderLimit int
	DomainLimit int
	RateWindow  time.Duration

	// LoadShedThreshold is the recent email volume above which new events
	// are queued instead of processed inline.
	LoadShedThreshold int
	VolumeWindow      time.Duration

	ProcessTimeout time.Duration
	ProcessedBy    string
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Store      store.Store
	Cache      *cache.Client
	Guard      *dedup.Guard
	Limiter    *ratelimit.Limiter
	Resolver   *resolver.Resolver
	Classifier *classify.Classifier
	Metrics    *metrics.Recorder
	Queue      *queue.Publisher
}

// Response is a transport-neutral reply.
type Response struct {
	Status int
	Body   any
}

// ErrorBody is returned for 4xx and 5xx responses.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// SuccessBody is returned for 200 responses.
type SuccessBody struct {
	Success   bool                     `json:"success"`
	Message   string                   `json:"message"`
	Status    models.ProcessingStatus  `json:"status,omitempty"`
	Processed *models.ProcessingResult `json:"processed,omitempty"`
}

// QueuedBody is returned when an event is load-shed.
type QueuedBody struct {
	Message       string `json:"message"`
	MessageID     string `json:"messageId"`
	QueuePosition int64  `json:"queuePosition"`
}

// Orchestrator handles inbound webhook events.
type Orchestrator struct {
	cfg       Config
	validator *Validator

	store      store.Store
	cache      *cache.Client
	guard      *dedup.Guard
	limiter    *ratelimit.Limiter
	resolver   *resolver.Resolver
	classifier *classify.Classifier
	metrics    *metrics.Recorder
	queue      *queue.Publisher

	now func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = time.Hour
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Hour
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 25 * time.Second
	}
	if cfg.ProcessedBy == "" {
		cfg.ProcessedBy = "webhook-ingestion"
	}
	if cfg.Secret == "" {
		slog.Warn("webhook secret not configured, authentication disabled")
	}
	return &Orchestrator{
		cfg:        cfg,
		validator:  v,
		store:      deps.Store,
		cache:      deps.Cache,
		guard:      deps.Guard,
		limiter:    deps.Limiter,
		resolver:   deps.Resolver,
		classifier: deps.Classifier,
		metrics:    deps.Metrics,
		queue:      deps.Queue,
		now:        time.Now,
	}, nil
}

// Handle authenticates and processes one POST /webhooks/email body.
func (o *Orchestrator) Handle(ctx context.Context, raw []byte, authHeader string) Response {
	if err := o.Authenticate(authHeader); err != nil {
		slog.Warn("webhook rejected", "error", err)
		return errorResponse(err, "Unauthorized", "")
	}
	return o.Accept(ctx, raw)
}

// Authenticate checks an Authorization header against the shared secret.
func (o *Orchestrator) Authenticate(authHeader string) error {
	if o.cfg.Secret == "" {
		return nil
	}
	if !constantTimeEqual(authHeader, "Bearer "+o.cfg.Secret) {
		return ErrUnauthorized
	}
	return nil
}

// ValidClientState checks the clientState echoed back in a Graph change
// notification against the shared secret.
func (o *Orchestrator) ValidClientState(state string) bool {
	return o.cfg.Secret == "" || constantTimeEqual(state, o.cfg.Secret)
}

func constantTimeEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Accept runs an already-authenticated body through validation, rate
// limiting, dedup, load shedding, and processing.
func (o *Orchestrator) Accept(ctx context.Context, raw []byte) Response {
	start := o.now()

	payload, err := o.validator.Parse(raw)
	if err != nil {
		return errorResponse(err, "Invalid payload", "")
	}

	id := payload.MessageID
	sender := payload.From.Address
	domain := classify.Domain(sender)

	o.metrics.Record(ctx, metrics.EventReceived, domain)

	if retryAfter, limited := o.checkRate(ctx, sender, domain); limited {
		slog.Warn("webhook rate limited",
			"message_id", id,
			"sender", sender,
			"retry_after", retryAfter,
		)
		resp := errorResponse(ErrRateLimited, "Rate limit exceeded", "")
		resp.Body = ErrorBody{Error: "Rate limit exceeded", RetryAfter: retryAfter}
		return resp
	}

	state, err := o.guard.Check(ctx, id)
	if err != nil {
		// The durable unique constraint still prevents a second row.
		slog.Warn("dedup check failed, continuing", "message_id", id, "error", err)
	} else if state != nil {
		slog.Info("duplicate webhook delivery",
			"message_id", id,
			"status", state.Status,
		)
		return duplicateResponse(state)
	}

	if err := o.guard.MarkProcessing(ctx, id); err != nil {
		return o.failResponse(o.fail(ctx, id, domain, fmt.Errorf("%w: %w", ErrTransientStore, err)))
	}

	if resp, queued := o.maybeShed(ctx, payload, raw, domain); queued {
		return resp
	}

	result, err := o.complete(ctx, payload, domain, start)
	if err != nil {
		return o.failResponse(err)
	}

	msg := "Email processed successfully"
	if result.Skipped {
		msg = "Internal communication skipped"
	}
	return Response{
		Status: http.StatusOK,
		Body:   SuccessBody{Success: true, Message: msg, Processed: result},
	}
}

// ProcessQueued re-enters the pipeline for a drained queue item. The
// drainer has already marked it processing.
func (o *Orchestrator) ProcessQueued(ctx context.Context, item queue.Item) error {
	start := o.now()
	payload, err := o.validator.Parse(item.Payload)
	if err != nil {
		return o.fail(ctx, item.MessageID, "", fmt.Errorf("%w: queued payload: %w", ErrPermanentData, err))
	}
	_, err = o.complete(ctx, payload, classify.Domain(payload.From.Address), start)
	return err
}

// Status returns the recorded processing state for a message.
func (o *Orchestrator) Status(ctx context.Context, messageID string) (*models.ProcessingState, error) {
	return o.guard.Check(ctx, messageID)
}

// checkRate evaluates the sender and domain windows. Both counters are
// always incremented. Limiter errors fail open.
func (o *Orchestrator) checkRate(ctx context.Context, sender, domain string) (int, bool) {
	var latest time.Time
	limited := false

	checks := []struct {
		scope, identity string
		limit           int
	}{
		{ratelimit.ScopeSender, sender, o.cfg.SenderLimit},
		{ratelimit.ScopeDomain, domain, o.cfg.DomainLimit},
	}
	for _, c := range checks {
		if c.identity == "" || c.limit <= 0 {
			continue
		}
		d, err := o.limiter.Check(ctx, c.identity, c.scope, c.limit, o.cfg.RateWindow)
		if err != nil {
			slog.Warn("rate check failed, allowing", "scope", c.scope, "error", err)
			continue
		}
		if !d.Allowed {
			limited = true
		}
		if d.ResetTime.After(latest) {
			latest = d.ResetTime
		}
	}
	if !limited {
		return 0, false
	}

	retryAfter := int(math.Ceil(latest.Sub(o.now()).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter, true
}

// maybeShed queues the payload when recent email volume is above the
// threshold. Any failure here falls back to inline processing.
func (o *Orchestrator) maybeShed(ctx context.Context, p *models.WebhookPayload, raw []byte, domain string) (Response, bool) {
	if o.queue == nil || o.cfg.LoadShedThreshold <= 0 {
		return Response{}, false
	}

	volume, err := o.store.CountRecentEmails(ctx, o.now().Add(-o.cfg.VolumeWindow))
	if err != nil {
		slog.Warn("volume check failed, processing inline", "message_id", p.MessageID, "error", err)
		return Response{}, false
	}
	if volume <= o.cfg.LoadShedThreshold {
		return Response{}, false
	}

	priority := queue.PriorityFor(models.ParseImportance(p.Importance))
	pos, err := o.queue.Enqueue(ctx, priority, p.MessageID, raw)
	if err != nil {
		slog.Warn("enqueue failed, processing inline", "message_id", p.MessageID, "error", err)
		return Response{}, false
	}

	o.metrics.Record(ctx, metrics.EventQueued, domain)
	slog.Info("load shedding: event queued",
		"message_id", p.MessageID,
		"recent_volume", volume,
		"priority", priority,
	)
	return Response{
		Status: http.StatusAccepted,
		Body: QueuedBody{
			Message:       "Queued for processing",
			MessageID:     p.MessageID,
			QueuePosition: pos,
		},
	}, true
}

// complete runs the processing step under the configured deadline and
// records the outcome. On failure it has already marked the message failed.
func (o *Orchestrator) complete(ctx context.Context, p *models.WebhookPayload, domain string, start time.Time) (*models.ProcessingResult, error) {
	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProcessTimeout)
	defer cancel()

	result, err := o.process(pctx, p)
	if err != nil {
		return nil, o.fail(ctx, p.MessageID, domain, err)
	}
	result.ProcessingTimeMs = o.now().Sub(start).Milliseconds()

	bg := context.WithoutCancel(ctx)
	if err := o.guard.MarkCompleted(bg, p.MessageID, *result); err != nil {
		slog.Warn("failed to mark message completed", "message_id", p.MessageID, "error", err)
	}
	o.metrics.Record(bg, metrics.EventProcessed, domain)

	slog.Info("webhook processed",
		"message_id", p.MessageID,
		"communication_id", result.CommunicationID,
		"skipped", result.Skipped,
		"duplicate", result.Duplicate,
		"processing_ms", result.ProcessingTimeMs,
	)
	return result, nil
}

func (o *Orchestrator) process(ctx context.Context, p *models.WebhookPayload) (*models.ProcessingResult, error) {
	ev, err := ToEvent(p, o.now())
	if err != nil {
		return nil, err
	}

	if o.classifier.IsInternal(ev.Sender.Address) {
		return &models.ProcessingResult{Skipped: true, Reason: "internal"}, nil
	}

	res, err := o.resolver.Resolve(ctx, ev.Sender.Address, ev.Sender.Name)
	switch {
	case errors.Is(err, resolver.ErrSkippedInternal):
		return &models.ProcessingResult{Skipped: true, Reason: "internal"}, nil
	case errors.Is(err, resolver.ErrInvalidAddress):
		return nil, fmt.Errorf("%w: %w", ErrPermanentData, err)
	case err != nil:
		return nil, fmt.Errorf("%w: resolve sender: %w", ErrTransientStore, err)
	}

	comm, created, err := o.store.CreateCommunication(ctx, buildCommunication(ev, res, o.cfg.ProcessedBy))
	if err != nil {
		return nil, fmt.Errorf("%w: create communication: %w", ErrTransientStore, err)
	}
	if !created {
		slog.Info("communication already existed", "message_id", ev.MessageID, "communication_id", comm.ID)
	}

	o.invalidate(ctx, res, ev)

	return &models.ProcessingResult{
		CommunicationID: comm.ID,
		CompanyID:       comm.CompanyID,
		ContactID:       comm.ContactID,
		Duplicate:       !created,
	}, nil
}

// invalidate drops cache entries made stale by a write. Failures are logged.
func (o *Orchestrator) invalidate(ctx context.Context, res *resolver.Resolution, ev *models.InboundEmailEvent) {
	keys := []string{
		resolver.CompanyKey(res.Company.Domain),
		resolver.ContactKey(res.Contact.Email),
	}
	if ev.ThreadID != "" {
		keys = append(keys, ThreadKey(ev.ThreadID))
	}
	if err := o.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
	if _, err := o.cache.DeletePattern(ctx, DashboardPattern); err != nil {
		slog.Warn("dashboard cache invalidation failed", "error", err)
	}
}

// fail records the failure and returns err. It uses a context detached
// from cancellation so a timed-out request still leaves a terminal state.
func (o *Orchestrator) fail(ctx context.Context, messageID, domain string, err error) error {
	bg := context.WithoutCancel(ctx)

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransientStore) {
		err = fmt.Errorf("%w: %w", ErrTransientStore, err)
	}

	o.metrics.Record(bg, metrics.EventFailed, domain)
	if merr := o.guard.MarkFailed(bg, messageID, err.Error()); merr != nil {
		slog.Error("failed to mark message failed", "message_id", messageID, "error", merr)
	}
	slog.Error("webhook processing failed", "message_id", messageID, "error", err)
	return err
}

func (o *Orchestrator) failResponse(err error) Response {
	return errorResponse(err, "Processing failed", err.Error())
}

func errorResponse(err error, label, message string) Response {
	if message == "" && errors.Is(err, ErrValidation) {
		message = err.Error()
	}
	return Response{
		Status: StatusFor(err),
		Body:   ErrorBody{Error: label, Message: message},
	}
}

func duplicateResponse(state *models.ProcessingState) Response {
	msg := "Already processed"
	switch state.Status {
	case models.StatusProcessing:
		msg = "Already being processed"
	case models.StatusFailed:
		msg = "Previously failed: " + state.Error
	}
	return Response{
		Status: http.StatusOK,
		Body: SuccessBody{
			Success:   state.Status != models.StatusFailed,
			Message:   msg,
			Status:    state.Status,
			Processed: state.Result,
		},
	}
}

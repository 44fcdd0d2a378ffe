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

package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// MaxSubscriptionLifetime is the longest expiry Graph accepts for message
// subscriptions.
const MaxSubscriptionLifetime = 4230 * time.Minute

// ErrSubscriptionGone is returned when Graph no longer knows a subscription.
var ErrSubscriptionGone = errors.New("subscription no longer exists")

// Subscription is a created or renewed Graph change subscription.
type Subscription struct {
	ID        string    `json:"id"`
	Resource  string    `json:"resource"`
	ExpiresAt time.Time `json:"expirationDateTime"`
}

// Subscribe asks Graph to POST "created" notifications for userID's
// messages to notificationURL. clientState is echoed back on every
// notification and must match the webhook secret.
func (f *Fetcher) Subscribe(ctx context.Context, userID, notificationURL, clientState string) (*Subscription, error) {
	expiry := time.Now().UTC().Add(MaxSubscriptionLifetime)

	body, err := json.Marshal(map[string]string{
		"changeType":         "created",
		"notificationUrl":    notificationURL,
		"resource":           fmt.Sprintf("/users/%s/messages", url.PathEscape(userID)),
		"expirationDateTime": expiry.Format(time.RFC3339),
		"clientState":        clientState,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal subscription body: %w", err)
	}

	var sub Subscription
	status, err := f.sendJSON(ctx, http.MethodPost, f.graphBaseURL+"/subscriptions", body, &sub)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("graph subscription creation returned HTTP %d for user %s", status, userID)
	}
	if sub.ExpiresAt.IsZero() {
		sub.ExpiresAt = expiry
	}

	slog.Info("subscription created",
		"user", userID,
		"subscription_id", sub.ID,
		"expires_at", sub.ExpiresAt,
	)
	return &sub, nil
}

// Renew extends a subscription to the maximum lifetime. A subscription
// Graph has removed returns ErrSubscriptionGone; the caller re-subscribes.
func (f *Fetcher) Renew(ctx context.Context, subscriptionID string) (time.Time, error) {
	expiry := time.Now().UTC().Add(MaxSubscriptionLifetime)
	body, _ := json.Marshal(map[string]string{
		"expirationDateTime": expiry.Format(time.RFC3339),
	})

	status, err := f.sendJSON(ctx, http.MethodPatch,
		fmt.Sprintf("%s/subscriptions/%s", f.graphBaseURL, url.PathEscape(subscriptionID)), body, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("renew subscription: %w", err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return time.Time{}, fmt.Errorf("%s: %w", subscriptionID, ErrSubscriptionGone)
	default:
		return time.Time{}, fmt.Errorf("graph subscription renewal returned HTTP %d", status)
	}

	slog.Info("subscription renewed", "subscription_id", subscriptionID, "new_expiry", expiry)
	return expiry, nil
}

// sendJSON sends body and decodes a 2xx response into dst when dst is set.
func (f *Fetcher) sendJSON(ctx context.Context, method, u string, body []byte, dst any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if dst != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

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

// Package graph adapts Microsoft Graph change notifications to the webhook
// payload shape. Only message metadata is fetched; bodies are never
// requested.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/crmingest/internal/models"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// selectFields is the metadata projection requested for each message.
const selectFields = "id,internetMessageId,subject,from,toRecipients,ccRecipients," +
	"sentDateTime,receivedDateTime,hasAttachments,importance,conversationId,isRead"

// NewClient returns an HTTP client that authenticates with app-only
// client credentials for tenantID.
func NewClient(ctx context.Context, tenantID, clientID, clientSecret string) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	client := creds.Client(ctx)
	client.Timeout = 15 * time.Second
	return client
}

// Fetcher retrieves message metadata from the Graph API.
type Fetcher struct {
	httpClient   *http.Client
	graphBaseURL string
}

// NewFetcher creates a Graph API message fetcher.
func NewFetcher(httpClient *http.Client, graphBaseURL string) *Fetcher {
	if graphBaseURL == "" {
		graphBaseURL = DefaultBaseURL
	}
	return &Fetcher{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
	}
}

// FetchMessage retrieves the metadata of one message and returns it as a
// webhook payload. A deleted message returns (nil, nil).
func (f *Fetcher) FetchMessage(ctx context.Context, userID, messageID string) (*models.WebhookPayload, error) {
	u := fmt.Sprintf("%s/users/%s/messages/%s?%s",
		f.graphBaseURL,
		url.PathEscape(userID),
		url.PathEscape(messageID),
		url.Values{"$select": {selectFields}}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("message not found (may have been deleted)",
			"user_id", userID,
			"message_id", messageID,
		)
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	payload, err := parseGraphMessage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return payload, nil
}

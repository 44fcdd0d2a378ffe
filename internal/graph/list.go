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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bcem/crmingest/internal/models"
)

// MessagePage is one page of a mailbox listing.
type MessagePage struct {
	Messages []*models.WebhookPayload
	NextLink string
}

type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// MessagesURL returns the first page URL listing userID's messages
// received at or after since, newest first.
func (f *Fetcher) MessagesURL(userID string, since time.Time) string {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	params.Set("$select", selectFields)
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", "50")
	return fmt.Sprintf("%s/users/%s/messages?%s", f.graphBaseURL, url.PathEscape(userID), params.Encode())
}

// ListPage fetches one page of messages. Messages without any identifier
// are dropped.
func (f *Fetcher) ListPage(ctx context.Context, pageURL string) (*MessagePage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "odata.maxpagesize=50")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("messages list error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("messages list returned HTTP %d", resp.StatusCode)
	}

	var raw messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}

	page := &MessagePage{NextLink: raw.NextLink}
	for _, msg := range raw.Value {
		p, err := msg.toPayload()
		if err != nil {
			slog.Warn("skipping unidentifiable message in listing", "error", err)
			continue
		}
		page.Messages = append(page.Messages, p)
	}
	return page, nil
}

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
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Mailbox is a licensed user with a mailbox.
type Mailbox struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type usersResponse struct {
	Value    []Mailbox `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// ListMailboxes returns every licensed user that has a mailbox, minus the
// addresses in exclude (case-insensitive).
func (f *Fetcher) ListMailboxes(ctx context.Context, exclude []string) ([]Mailbox, error) {
	excludeSet := make(map[string]bool, len(exclude))
	for _, u := range exclude {
		excludeSet[strings.ToLower(strings.TrimSpace(u))] = true
	}

	params := url.Values{}
	params.Set("$filter", "assignedLicenses/$count ne 0")
	params.Set("$count", "true")
	params.Set("$select", "id,mail,displayName,userPrincipalName")
	params.Set("$top", "100")

	var out []Mailbox
	for nextURL := fmt.Sprintf("%s/users?%s", f.graphBaseURL, params.Encode()); nextURL != ""; {
		page, err := f.usersPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		for _, u := range page.Value {
			if u.Mail == "" || excludeSet[strings.ToLower(u.Mail)] {
				continue
			}
			out = append(out, u)
		}
		nextURL = page.NextLink
	}

	slog.Info("mailbox discovery complete", "discovered", len(out))
	return out, nil
}

func (f *Fetcher) usersPage(ctx context.Context, pageURL string) (*usersResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build users request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("ConsistencyLevel", "eventual") // required for $count

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph /users returned HTTP %d", resp.StatusCode)
	}

	var page usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode users response: %w", err)
	}
	return &page, nil
}

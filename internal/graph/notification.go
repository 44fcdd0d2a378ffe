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
	"fmt"
	"strings"
)

// ChangeNotification represents a single Graph API change notification.
type ChangeNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ClientState    string `json:"clientState"`
	TenantID       string `json:"tenantId"`
}

// NotificationPayload is the wrapper Graph sends.
type NotificationPayload struct {
	Value []ChangeNotification `json:"value"`
}

// ParseResource extracts userID and messageID from a notification resource.
// Format: "users/{userId}/messages/{messageId}"
func ParseResource(resource string) (userID, messageID string, err error) {
	resource = strings.TrimPrefix(resource, "/")

	parts := strings.Split(resource, "/")
	// Graph may send capitalised variants: "Users", "Messages"
	if len(parts) != 4 || !strings.EqualFold(parts[0], "users") || !strings.EqualFold(parts[2], "messages") ||
		parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("unexpected resource format: %s", resource)
	}

	return parts[1], parts[3], nil
}

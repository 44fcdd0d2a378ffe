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

// Package models defines the data structures shared across the ingestion service.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind distinguishes email notifications from meeting notifications.
type EventKind string

const (
	KindEmail   EventKind = "email"
	KindMeeting EventKind = "meeting"
)

// Importance mirrors the Graph importance enum.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// ParseImportance normalises a raw importance value. Unknown values map to normal.
func ParseImportance(raw string) Importance {
	switch Importance(strings.ToLower(strings.TrimSpace(raw))) {
	case ImportanceLow:
		return ImportanceLow
	case ImportanceHigh:
		return ImportanceHigh
	default:
		return ImportanceNormal
	}
}

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"email"`
	Name    string `json:"name,omitempty"`
}

// UnmarshalJSON accepts either {"name","email"} objects or bare address strings,
// since recipient lists arrive in both shapes.
func (a *EmailAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Address = s
		a.Name = ""
		return nil
	}

	var raw struct {
		Address string `json:"email"`
		Alt     string `json:"address"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Address = raw.Address
	if a.Address == "" {
		a.Address = raw.Alt
	}
	a.Name = raw.Name
	return nil
}

// WebhookPayload is the JSON body POSTed to /webhooks/email. It is also the
// shape stored on the load-shedding queue and the shape the Graph adapter
// produces, so every entry point converges on one wire format.
type WebhookPayload struct {
	Type           string            `json:"type,omitempty"`
	MessageID      string            `json:"messageId"`
	From           EmailAddress      `json:"from"`
	To             []EmailAddress    `json:"to,omitempty"`
	Cc             []EmailAddress    `json:"cc,omitempty"`
	Subject        string            `json:"subject"`
	Date           string            `json:"date,omitempty"`
	Attachments    []json.RawMessage `json:"attachments,omitempty"`
	HasAttachments bool              `json:"hasAttachments,omitempty"`
	Importance     string            `json:"importance,omitempty"`
	ThreadID       string            `json:"threadId,omitempty"`
	IsRead         bool              `json:"isRead,omitempty"`
}

// InboundEmailEvent is the internal, normalised form of a webhook payload.
// It is consumed once by the orchestrator and never persisted verbatim.
type InboundEmailEvent struct {
	Kind           EventKind
	MessageID      string
	Subject        string
	Sender         EmailAddress
	Recipients     []EmailAddress
	SentAt         time.Time
	HasAttachments bool
	Attachments    int
	Importance     Importance
	ThreadID       string
	IsRead         bool
}

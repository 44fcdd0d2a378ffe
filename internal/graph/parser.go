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
	"encoding/json"
	"fmt"
	"io"

	"github.com/bcem/crmingest/internal/models"
)

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

func (r graphRecipient) toAddress() models.EmailAddress {
	return models.EmailAddress{Address: r.EmailAddress.Address, Name: r.EmailAddress.Name}
}

// graphMessage is the metadata projection of a Graph message.
type graphMessage struct {
	ID                string           `json:"id"`
	InternetMessageID string           `json:"internetMessageId"`
	Subject           string           `json:"subject"`
	From              graphRecipient   `json:"from"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	CcRecipients      []graphRecipient `json:"ccRecipients"`
	SentDateTime      string           `json:"sentDateTime"`
	ReceivedDateTime  string           `json:"receivedDateTime"`
	HasAttachments    bool             `json:"hasAttachments"`
	Importance        string           `json:"importance"`
	ConversationID    string           `json:"conversationId"`
	IsRead            bool             `json:"isRead"`
}

// parseGraphMessage decodes a single Graph message into a webhook payload.
func parseGraphMessage(body io.Reader) (*models.WebhookPayload, error) {
	var msg graphMessage
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode graph message: %w", err)
	}
	return msg.toPayload()
}

// toPayload converts a Graph message into a webhook payload. The RFC 5322
// Message-ID is preferred so the same email seen through Graph and a
// direct webhook dedups to one communication.
func (msg graphMessage) toPayload() (*models.WebhookPayload, error) {
	id := msg.InternetMessageID
	if id == "" {
		id = msg.ID
	}
	if id == "" {
		return nil, fmt.Errorf("graph message has no identifier")
	}

	date := msg.SentDateTime
	if date == "" {
		date = msg.ReceivedDateTime
	}

	p := &models.WebhookPayload{
		Type:           string(models.KindEmail),
		MessageID:      id,
		From:           msg.From.toAddress(),
		Subject:        msg.Subject,
		Date:           date,
		HasAttachments: msg.HasAttachments,
		Importance:     msg.Importance,
		ThreadID:       msg.ConversationID,
		IsRead:         msg.IsRead,
	}
	for _, r := range msg.ToRecipients {
		p.To = append(p.To, r.toAddress())
	}
	for _, r := range msg.CcRecipients {
		p.Cc = append(p.Cc, r.toAddress())
	}
	return p, nil
}

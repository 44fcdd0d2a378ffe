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

package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/models"
	"github.com/bcem/crmingest/internal/resolver"
)

// Communication tags derived from the event.
const (
	TagHasAttachments = "has-attachments"
	TagHighImportance = "high-importance"
	TagMeeting        = "meeting"
)

const sourceWebhook = "webhook"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToEvent normalises a validated payload. An unparseable date is a
// permanent data error; a missing one means now.
func ToEvent(p *models.WebhookPayload, now time.Time) (*models.InboundEmailEvent, error) {
	sentAt := now.UTC()
	if d := strings.TrimSpace(p.Date); d != "" {
		t, err := parseDate(d)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q", ErrPermanentData, p.Date)
		}
		sentAt = t.UTC()
	}

	kind := models.KindEmail
	if strings.EqualFold(p.Type, string(models.KindMeeting)) {
		kind = models.KindMeeting
	}

	recipients := make([]models.EmailAddress, 0, len(p.To)+len(p.Cc))
	for _, a := range append(append([]models.EmailAddress{}, p.To...), p.Cc...) {
		a.Address = strings.ToLower(strings.TrimSpace(a.Address))
		if a.Address != "" {
			recipients = append(recipients, a)
		}
	}

	return &models.InboundEmailEvent{
		Kind:           kind,
		MessageID:      p.MessageID,
		Subject:        p.Subject,
		Sender:         p.From,
		Recipients:     recipients,
		SentAt:         sentAt,
		HasAttachments: p.HasAttachments || len(p.Attachments) > 0,
		Attachments:    len(p.Attachments),
		Importance:     models.ParseImportance(p.Importance),
		ThreadID:       strings.TrimSpace(p.ThreadID),
		IsRead:         p.IsRead,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	var err error
	for _, layout := range dateLayouts {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t, nil
		}
		err = perr
	}
	return time.Time{}, err
}

// CommunicationTags derives the tags recorded on a communication.
func CommunicationTags(ev *models.InboundEmailEvent, cls classify.Result) []string {
	var tags []string
	if ev.HasAttachments {
		tags = append(tags, TagHasAttachments)
	}
	if ev.Importance == models.ImportanceHigh {
		tags = append(tags, TagHighImportance)
	}
	if ev.Kind == models.KindMeeting {
		tags = append(tags, TagMeeting)
	}
	if cls.Category == classify.Personal {
		tags = append(tags, resolver.TagPersonalEmail)
	}
	return tags
}

func buildCommunication(ev *models.InboundEmailEvent, res *resolver.Resolution, processedBy string) *models.Communication {
	commType := models.CommunicationEmail
	direction := models.DirectionReceived
	if ev.Kind == models.KindMeeting {
		commType = models.CommunicationMeeting
		direction = ""
	}

	recipients := make([]string, len(ev.Recipients))
	for i, r := range ev.Recipients {
		recipients[i] = r.Address
	}

	return &models.Communication{
		Type:              commType,
		Subject:           ev.Subject,
		Direction:         direction,
		MessageID:         ev.MessageID,
		ThreadID:          ev.ThreadID,
		Importance:        ev.Importance,
		HasAttachments:    ev.HasAttachments,
		Tags:              CommunicationTags(ev, res.Classification),
		CommunicationDate: ev.SentAt,
		CompanyID:         res.Company.ID,
		ContactID:         res.Contact.ID,
		ProcessedBy:       processedBy,
		Metadata: models.CommunicationMetadata{
			SenderName:      ev.Sender.Name,
			SenderEmail:     ev.Sender.Address,
			Recipients:      recipients,
			RecipientCount:  len(recipients),
			AttachmentCount: ev.Attachments,
			IsRead:          ev.IsRead,
			Classification:  string(res.Classification.Category),
			Source:          sourceWebhook,
		},
	}
}

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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/models"
)

func TestValidator_AcceptsAddressShapes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	p, err := v.Parse([]byte(`{
		"messageId": " <abc@mail.acme.com> ",
		"from": {"name": "Ann Lee", "address": "Ann@Acme.com"},
		"to": ["x@ours.com", {"email": "y@ours.com", "name": "Y"}],
		"subject": "Hi",
		"attachments": [{"name": "a.pdf"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "<abc@mail.acme.com>", p.MessageID)
	assert.Equal(t, "ann@acme.com", p.From.Address)
	assert.Equal(t, "Ann Lee", p.From.Name)
	require.Len(t, p.To, 2)
	assert.Equal(t, "x@ours.com", p.To[0].Address)
	assert.Equal(t, "Y", p.To[1].Name)
	assert.Len(t, p.Attachments, 1)

	p, err = v.Parse([]byte(`{"messageId": "m", "from": "a@acme.com", "subject": "s"}`))
	require.NoError(t, err)
	assert.Equal(t, "a@acme.com", p.From.Address)
}

func TestValidator_Rejects(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	for _, raw := range []string{
		``,
		`[]`,
		`{"messageId": 7, "from": "a@acme.com", "subject": "s"}`,
		`{"messageId": "m", "from": "not-an-address", "subject": "s"}`,
		`{"messageId": "m", "from": "a@acme.com", "subject": "s", "to": "b@acme.com"}`,
	} {
		_, err := v.Parse([]byte(raw))
		assert.ErrorIs(t, err, ErrValidation, raw)
	}
}

func TestToEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var p models.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "meeting",
		"messageId": "m1",
		"from": {"email": "a@acme.com"},
		"to": ["B@Acme.com", ""],
		"cc": [{"email": "c@acme.com"}],
		"subject": "Sync",
		"date": "Mon, 02 Jan 2006 15:04:05 -0700",
		"importance": "HIGH",
		"threadId": " t1 ",
		"hasAttachments": true
	}`), &p))

	ev, err := ToEvent(&p, now)
	require.NoError(t, err)
	assert.Equal(t, models.KindMeeting, ev.Kind)
	assert.Equal(t, models.ImportanceHigh, ev.Importance)
	assert.Equal(t, "t1", ev.ThreadID)
	assert.True(t, ev.HasAttachments)
	assert.Zero(t, ev.Attachments)
	assert.Equal(t, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), ev.SentAt)
	require.Len(t, ev.Recipients, 2)
	assert.Equal(t, "b@acme.com", ev.Recipients[0].Address)
	assert.Equal(t, "c@acme.com", ev.Recipients[1].Address)

	p.Date = ""
	p.Type = ""
	ev, err = ToEvent(&p, now)
	require.NoError(t, err)
	assert.Equal(t, now, ev.SentAt)
	assert.Equal(t, models.KindEmail, ev.Kind)

	p.Date = "yesterday"
	_, err = ToEvent(&p, now)
	assert.ErrorIs(t, err, ErrPermanentData)
}

func TestCommunicationTags(t *testing.T) {
	ev := &models.InboundEmailEvent{
		Kind:           models.KindMeeting,
		HasAttachments: true,
		Importance:     models.ImportanceHigh,
	}
	tags := CommunicationTags(ev, classify.Result{Category: classify.Personal})
	assert.Equal(t, []string{TagHasAttachments, TagHighImportance, TagMeeting, "personal-email"}, tags)

	plain := &models.InboundEmailEvent{Kind: models.KindEmail, Importance: models.ImportanceNormal}
	assert.Empty(t, CommunicationTags(plain, classify.Result{Category: classify.External}))
}

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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bcem/crmingest/internal/models"
)

const payloadSchemaURL = "webhook-payload.json"

// payloadSchema describes the POST /webhooks/email body. Addresses may be
// bare strings or {name, email} objects.
const payloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["messageId", "from", "subject"],
	"properties": {
		"type": {"enum": ["email", "meeting"]},
		"messageId": {"type": "string", "pattern": "\\S"},
		"from": {"$ref": "#/$defs/address"},
		"to": {"type": "array", "items": {"$ref": "#/$defs/address"}},
		"cc": {"type": "array", "items": {"$ref": "#/$defs/address"}},
		"subject": {"type": "string", "minLength": 1},
		"date": {"type": "string"},
		"attachments": {"type": "array"},
		"hasAttachments": {"type": "boolean"},
		"importance": {"type": "string"},
		"threadId": {"type": "string"},
		"isRead": {"type": "boolean"}
	},
	"$defs": {
		"address": {
			"anyOf": [
				{"type": "string", "pattern": "@"},
				{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"email": {"type": "string", "pattern": "@"},
						"address": {"type": "string", "pattern": "@"}
					},
					"anyOf": [{"required": ["email"]}, {"required": ["address"]}]
				}
			]
		}
	}
}`

// Validator checks raw webhook bodies against the payload schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the payload schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("parse payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(payloadSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add payload schema: %w", err)
	}
	schema, err := c.Compile(payloadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Parse validates raw and decodes it. Every failure wraps ErrValidation.
func (v *Validator) Parse(raw []byte) (*models.WebhookPayload, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrValidation)
	}
	if err := v.schema.Validate(inst); err != nil {
		slog.Debug("payload failed schema validation", "error", err)
		return nil, fmt.Errorf("%w: missing or invalid messageId, from, or subject", ErrValidation)
	}

	var p models.WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	p.MessageID = strings.TrimSpace(p.MessageID)
	p.From.Address = strings.ToLower(strings.TrimSpace(p.From.Address))
	if p.From.Address == "" {
		return nil, fmt.Errorf("%w: sender address is empty", ErrValidation)
	}
	return &p, nil
}

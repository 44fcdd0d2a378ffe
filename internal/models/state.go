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

package models

import "time"

// ProcessingStatus is the dedup state of a single message identifier.
type ProcessingStatus string

const (
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ProcessingResult records what a completed run produced.
type ProcessingResult struct {
	CommunicationID  string `json:"communicationId,omitempty"`
	CompanyID        string `json:"companyId,omitempty"`
	ContactID        string `json:"contactId,omitempty"`
	Skipped          bool   `json:"skipped,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Duplicate        bool   `json:"duplicate,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// ProcessingState is the cache-resident marker for a message identifier.
type ProcessingState struct {
	Status    ProcessingStatus  `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Result    *ProcessingResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

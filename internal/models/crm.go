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

// CompanyType classifies an organisation record.
type CompanyType string

const (
	CompanyTypeCompany           CompanyType = "COMPANY"
	CompanyTypeUniversity        CompanyType = "UNIVERSITY"
	CompanyTypeGovernment        CompanyType = "GOVERNMENT"
	CompanyTypeNonProfit         CompanyType = "NON_PROFIT"
	CompanyTypeResearchInstitute CompanyType = "RESEARCH_INSTITUTE"
	CompanyTypeOther             CompanyType = "OTHER"
)

// CommunicationType is EMAIL or MEETING.
type CommunicationType string

const (
	CommunicationEmail   CommunicationType = "EMAIL"
	CommunicationMeeting CommunicationType = "MEETING"
)

// Direction applies to emails only; meetings leave it empty.
type Direction string

const (
	DirectionSent     Direction = "SENT"
	DirectionReceived Direction = "RECEIVED"
)

// Company is a durable organisation record, keyed in practice by domain.
type Company struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Domain           string      `json:"domain"`
	Industry         string      `json:"industry,omitempty"`
	Location         string      `json:"location,omitempty"`
	Country          string      `json:"country,omitempty"`
	CompanyType      CompanyType `json:"companyType"`
	Tags             []string    `json:"tags"`
	FirstContactDate time.Time   `json:"firstContactDate"`
	LastContactDate  time.Time   `json:"lastContactDate"`
	ContactCount     int         `json:"contactCount"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Contact is a durable person record scoped to a company by email.
type Contact struct {
	ID              string    `json:"id"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Email           string    `json:"email"`
	CompanyID       string    `json:"companyId"`
	LastContactDate time.Time `json:"lastContactDate"`
	ContactCount    int       `json:"contactCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CommunicationMetadata holds the derived, non-content fields recorded
// alongside a communication. Message bodies are never stored.
type CommunicationMetadata struct {
	SenderName      string   `json:"senderName,omitempty"`
	SenderEmail     string   `json:"senderEmail,omitempty"`
	Recipients      []string `json:"recipients,omitempty"`
	RecipientCount  int      `json:"recipientCount"`
	AttachmentCount int      `json:"attachmentCount"`
	IsRead          bool     `json:"isRead"`
	Classification  string   `json:"classification,omitempty"`
	Source          string   `json:"source,omitempty"`
}

// Communication is created exactly once per distinct MessageID.
type Communication struct {
	ID                string                `json:"id"`
	Type              CommunicationType     `json:"type"`
	Subject           string                `json:"subject"`
	Direction         Direction             `json:"direction,omitempty"`
	MessageID         string                `json:"messageId"`
	ThreadID          string                `json:"threadId,omitempty"`
	Importance        Importance            `json:"importance"`
	HasAttachments    bool                  `json:"hasAttachments"`
	Tags              []string              `json:"tags"`
	CommunicationDate time.Time             `json:"communicationDate"`
	CompanyID         string                `json:"companyId"`
	ContactID         string                `json:"contactId"`
	ProcessedBy       string                `json:"processedBy,omitempty"`
	Metadata          CommunicationMetadata `json:"metadata"`
	CreatedAt         time.Time             `json:"createdAt"`
}

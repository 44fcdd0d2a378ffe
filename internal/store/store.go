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

// Package store provides durable storage for companies, contacts, and
// communications. Lookups that find nothing return (nil, nil).
package store

import (
	"context"
	"time"

	"github.com/bcem/crmingest/internal/models"
)

// Store is the durable CRM store consumed by the ingestion pipeline.
type Store interface {
	// FindCommunicationByMessageID is the durable dedup anchor.
	FindCommunicationByMessageID(ctx context.Context, messageID string) (*models.Communication, error)

	// CreateCommunication inserts c. If a row with the same MessageID exists
	// it is returned instead and created is false; duplicates are not errors.
	CreateCommunication(ctx context.Context, c *models.Communication) (comm *models.Communication, created bool, err error)

	FindCompanyByDomain(ctx context.Context, domain string) (*models.Company, error)
	GetCompany(ctx context.Context, id string) (*models.Company, error)

	// CreateCompany inserts c. If a company with the same domain exists it
	// is returned instead and created is false.
	CreateCompany(ctx context.Context, c *models.Company) (company *models.Company, created bool, err error)

	// UpdateCompany writes c's fields. Tags are merged into the stored set;
	// a stale copy can never remove a tag.
	UpdateCompany(ctx context.Context, c *models.Company) error

	FindContactByEmailAndCompany(ctx context.Context, email, companyID string) (*models.Contact, error)
	CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error)
	UpdateContact(ctx context.Context, c *models.Contact) error

	// CountRecentEmails counts EMAIL communications created since the given time.
	CountRecentEmails(ctx context.Context, since time.Time) (int, error)

	Ping(ctx context.Context) error
}

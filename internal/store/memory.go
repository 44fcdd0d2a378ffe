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

package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/crmingest/internal/models"
)

// Memory is an in-process Store. It backs local development when no
// DATABASE_URL is configured and the pipeline's tests. It enforces the same
// uniqueness rules as the Postgres schema.
type Memory struct {
	mu             sync.Mutex
	companies      map[string]*models.Company // by ID
	contacts       map[string]*models.Contact // by ID
	communications map[string]*models.Communication
	byMessageID    map[string]string
	now            func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		companies:      make(map[string]*models.Company),
		contacts:       make(map[string]*models.Contact),
		communications: make(map[string]*models.Communication),
		byMessageID:    make(map[string]string),
		now:            time.Now,
	}
}

func (m *Memory) FindCommunicationByMessageID(_ context.Context, messageID string) (*models.Communication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byMessageID[messageID]
	if !ok {
		return nil, nil
	}
	return cloneCommunication(m.communications[id]), nil
}

func (m *Memory) CreateCommunication(_ context.Context, c *models.Communication) (*models.Communication, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byMessageID[c.MessageID]; ok {
		return cloneCommunication(m.communications[id]), false, nil
	}

	row := cloneCommunication(c)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now().UTC()
	}
	m.communications[row.ID] = row
	m.byMessageID[row.MessageID] = row.ID
	return cloneCommunication(row), true, nil
}

func (m *Memory) FindCompanyByDomain(_ context.Context, domain string) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	domain = strings.ToLower(domain)
	for _, c := range m.companies {
		if c.Domain == domain {
			return cloneCompany(c), nil
		}
	}
	return nil, nil
}

func (m *Memory) GetCompany(_ context.Context, id string) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, nil
	}
	return cloneCompany(c), nil
}

func (m *Memory) CreateCompany(_ context.Context, c *models.Company) (*models.Company, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.companies {
		if existing.Domain == c.Domain {
			return cloneCompany(existing), false, nil
		}
	}

	row := cloneCompany(c)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := m.now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	m.companies[row.ID] = row
	return cloneCompany(row), true, nil
}

func (m *Memory) UpdateCompany(_ context.Context, c *models.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.companies[c.ID]
	if !ok {
		return nil
	}
	row := cloneCompany(c)
	row.Tags = slices.Clone(existing.Tags)
	for _, t := range c.Tags {
		if !slices.Contains(row.Tags, t) {
			row.Tags = append(row.Tags, t)
		}
	}
	row.UpdatedAt = m.now().UTC()
	m.companies[c.ID] = row
	return nil
}

func (m *Memory) FindContactByEmailAndCompany(_ context.Context, email, companyID string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, c := range m.contacts {
		if c.Email == email && c.CompanyID == companyID {
			return cloneContact(c), nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateContact(_ context.Context, c *models.Contact) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.contacts {
		if existing.Email == c.Email && existing.CompanyID == c.CompanyID {
			return cloneContact(existing), nil
		}
	}

	row := cloneContact(c)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := m.now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	m.contacts[row.ID] = row
	return cloneContact(row), nil
}

func (m *Memory) UpdateContact(_ context.Context, c *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[c.ID]; !ok {
		return nil
	}
	row := cloneContact(c)
	row.UpdatedAt = m.now().UTC()
	m.contacts[c.ID] = row
	return nil
}

func (m *Memory) CountRecentEmails(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.communications {
		if c.Type == models.CommunicationEmail && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Counts returns the number of stored companies, contacts and communications.
func (m *Memory) Counts() (companies, contacts, communications int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.companies), len(m.contacts), len(m.communications)
}

func cloneCompany(c *models.Company) *models.Company {
	out := *c
	out.Tags = slices.Clone(c.Tags)
	return &out
}

func cloneContact(c *models.Contact) *models.Contact {
	out := *c
	return &out
}

func cloneCommunication(c *models.Communication) *models.Communication {
	out := *c
	out.Tags = slices.Clone(c.Tags)
	out.Metadata.Recipients = slices.Clone(c.Metadata.Recipients)
	return &out
}

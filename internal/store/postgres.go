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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/crmingest/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store backed by the given pool.
// It ensures the CRM tables exist on creation.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure crm schema: %w", err)
	}
	slog.Info("crm store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS companies (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			domain             TEXT NOT NULL UNIQUE,
			industry           TEXT NOT NULL DEFAULT '',
			location           TEXT NOT NULL DEFAULT '',
			country            TEXT NOT NULL DEFAULT '',
			company_type       TEXT NOT NULL DEFAULT 'COMPANY',
			tags               TEXT[] NOT NULL DEFAULT '{}',
			first_contact_date TIMESTAMPTZ NOT NULL,
			last_contact_date  TIMESTAMPTZ NOT NULL,
			contact_count      INTEGER NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			updated_at         TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS contacts (
			id                TEXT PRIMARY KEY,
			first_name        TEXT NOT NULL,
			last_name         TEXT NOT NULL DEFAULT '',
			email             TEXT NOT NULL,
			company_id        TEXT NOT NULL REFERENCES companies(id),
			last_contact_date TIMESTAMPTZ NOT NULL,
			contact_count     INTEGER NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(company_id, email)
		);
		CREATE TABLE IF NOT EXISTS communications (
			id                 TEXT PRIMARY KEY,
			type               TEXT NOT NULL,
			subject            TEXT NOT NULL DEFAULT '',
			direction          TEXT NOT NULL DEFAULT '',
			message_id         TEXT NOT NULL UNIQUE,
			thread_id          TEXT NOT NULL DEFAULT '',
			importance         TEXT NOT NULL DEFAULT 'normal',
			has_attachments    BOOLEAN NOT NULL DEFAULT FALSE,
			tags               TEXT[] NOT NULL DEFAULT '{}',
			communication_date TIMESTAMPTZ NOT NULL,
			company_id         TEXT REFERENCES companies(id),
			contact_id         TEXT REFERENCES contacts(id),
			processed_by       TEXT NOT NULL DEFAULT '',
			metadata           JSONB NOT NULL DEFAULT '{}',
			created_at         TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
		CREATE INDEX IF NOT EXISTS idx_comms_type_created ON communications(type, created_at);
		CREATE INDEX IF NOT EXISTS idx_comms_thread ON communications(thread_id);
	`)
	return err
}

const communicationColumns = `
	id, type, subject, direction, message_id, thread_id, importance,
	has_attachments, tags, communication_date, COALESCE(company_id, ''),
	COALESCE(contact_id, ''), processed_by, metadata, created_at`

// FindCommunicationByMessageID returns the communication for a message ID.
func (s *Postgres) FindCommunicationByMessageID(ctx context.Context, messageID string) (*models.Communication, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+communicationColumns+`
		FROM communications WHERE message_id = $1`, messageID)
	return scanCommunication(row)
}

// CreateCommunication inserts a communication, relying on the unique
// message_id constraint to make duplicate creates return the existing row.
func (s *Postgres) CreateCommunication(ctx context.Context, c *models.Communication) (*models.Communication, bool, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO communications
			(id, type, subject, direction, message_id, thread_id, importance,
			 has_attachments, tags, communication_date, company_id, contact_id,
			 processed_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13, $14)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING `+communicationColumns,
		id, c.Type, c.Subject, c.Direction, c.MessageID, c.ThreadID, c.Importance,
		c.HasAttachments, nonNil(c.Tags), c.CommunicationDate, c.CompanyID, c.ContactID,
		c.ProcessedBy, c.Metadata,
	)

	created, err := scanCommunication(row)
	if err != nil && !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("insert communication: %w", err)
	}
	if created != nil {
		return created, true, nil
	}

	// Conflict: somebody else created this message first.
	existing, err := s.FindCommunicationByMessageID(ctx, c.MessageID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing communication: %w", err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("communication %s conflicted but was not found", c.MessageID)
	}
	return existing, false, nil
}

const companyColumns = `
	id, name, domain, industry, location, country, company_type, tags,
	first_contact_date, last_contact_date, contact_count, created_at, updated_at`

// FindCompanyByDomain returns the company owning domain.
func (s *Postgres) FindCompanyByDomain(ctx context.Context, domain string) (*models.Company, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE domain = $1`, domain)
	return scanCompany(row)
}

// GetCompany returns a company by ID.
func (s *Postgres) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	return scanCompany(row)
}

// CreateCompany inserts a company. A concurrent create for the same domain
// returns the row that won with created false.
func (s *Postgres) CreateCompany(ctx context.Context, c *models.Company) (*models.Company, bool, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO companies
			(id, name, domain, industry, location, country, company_type, tags,
			 first_contact_date, last_contact_date, contact_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
		RETURNING `+companyColumns,
		id, c.Name, c.Domain, c.Industry, c.Location, c.Country, c.CompanyType, nonNil(c.Tags),
		c.FirstContactDate, c.LastContactDate, c.ContactCount,
	)
	company, err := scanCompany(row)
	if err != nil {
		return nil, false, fmt.Errorf("insert company: %w", err)
	}
	if company == nil {
		return nil, false, fmt.Errorf("insert company %s: no row returned", c.Domain)
	}
	return company, company.ID == id, nil
}

// UpdateCompany writes the mutable aggregate fields. Counts are plain
// read-then-write and concurrent updates may lose increments; tags are
// merged into the stored set, never replaced.
func (s *Postgres) UpdateCompany(ctx context.Context, c *models.Company) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE companies
		SET name = $2, industry = $3, location = $4, country = $5, company_type = $6,
		    tags = ARRAY(
		        SELECT t FROM unnest(companies.tags || $7::text[]) WITH ORDINALITY AS u(t, n)
		        GROUP BY t ORDER BY MIN(n)
		    ),
		    last_contact_date = $8, contact_count = $9, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Name, c.Industry, c.Location, c.Country, c.CompanyType, nonNil(c.Tags),
		c.LastContactDate, c.ContactCount)
	return err
}

const contactColumns = `
	id, first_name, last_name, email, company_id, last_contact_date,
	contact_count, created_at, updated_at`

// FindContactByEmailAndCompany returns the contact for (email, company).
func (s *Postgres) FindContactByEmailAndCompany(ctx context.Context, email, companyID string) (*models.Contact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contactColumns+`
		FROM contacts WHERE email = $1 AND company_id = $2`, email, companyID)
	return scanContact(row)
}

// CreateContact inserts a contact, returning the existing row on conflict.
func (s *Postgres) CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts
			(id, first_name, last_name, email, company_id, last_contact_date, contact_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, email) DO UPDATE SET email = EXCLUDED.email
		RETURNING `+contactColumns,
		id, c.FirstName, c.LastName, c.Email, c.CompanyID, c.LastContactDate, c.ContactCount,
	)
	created, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return created, nil
}

// UpdateContact writes the mutable contact fields.
func (s *Postgres) UpdateContact(ctx context.Context, c *models.Contact) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE contacts
		SET first_name = $2, last_name = $3, last_contact_date = $4,
		    contact_count = $5, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.FirstName, c.LastName, c.LastContactDate, c.ContactCount)
	return err
}

// CountRecentEmails counts EMAIL rows created since the given time.
func (s *Postgres) CountRecentEmails(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM communications WHERE type = $1 AND created_at >= $2
	`, models.CommunicationEmail, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent emails: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanCommunication(row pgx.Row) (*models.Communication, error) {
	var c models.Communication
	err := row.Scan(
		&c.ID, &c.Type, &c.Subject, &c.Direction, &c.MessageID, &c.ThreadID, &c.Importance,
		&c.HasAttachments, &c.Tags, &c.CommunicationDate, &c.CompanyID,
		&c.ContactID, &c.ProcessedBy, &c.Metadata, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	err := row.Scan(
		&c.ID, &c.Name, &c.Domain, &c.Industry, &c.Location, &c.Country, &c.CompanyType, &c.Tags,
		&c.FirstContactDate, &c.LastContactDate, &c.ContactCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanContact(row pgx.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.CompanyID, &c.LastContactDate,
		&c.ContactCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

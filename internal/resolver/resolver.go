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

// Package resolver finds or creates the Company and Contact behind an email
// address, short-circuiting repeat lookups through the cache.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bcem/crmingest/internal/cache"
	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/models"
	"github.com/bcem/crmingest/internal/store"
)

// Tags applied to organisations by the resolver.
const (
	TagAutoCreated   = "auto-created"
	TagPersonalEmail = "personal-email"
)

const (
	// CompanyTTL is how long a company stays cached by domain.
	CompanyTTL = time.Hour
	// ContactTTL is how long a contact stays cached by email.
	ContactTTL = 30 * time.Minute
)

var (
	// ErrSkippedInternal signals internal traffic. It is a no-op, not a failure.
	ErrSkippedInternal = errors.New("internal address skipped")

	// ErrInvalidAddress is returned when no domain can be derived from the address.
	ErrInvalidAddress = errors.New("invalid email address")
)

// CompanyKey is the cache key for a company looked up by domain.
func CompanyKey(domain string) string {
	return "crm:company:domain:" + strings.ToLower(domain)
}

// ContactKey is the cache key for a contact looked up by email.
func ContactKey(email string) string {
	return "crm:contact:email:" + strings.ToLower(email)
}

// Resolution is the outcome of resolving one address.
type Resolution struct {
	Company        *models.Company
	Contact        *models.Contact
	Classification classify.Result
	CompanyCreated bool
	ContactCreated bool
}

// Resolver finds or creates CRM entities.
//
// Updates to existing companies and contacts are read-then-write. Two
// concurrent resolutions of the same address can both read count N and
// both write N+1; counts and timestamps are best-effort aggregates.
type Resolver struct {
	store      store.Store
	cache      *cache.Client
	classifier *classify.Classifier
	now        func() time.Time
}

// New creates a resolver.
func New(s store.Store, c *cache.Client, classifier *classify.Classifier) *Resolver {
	return &Resolver{
		store:      s,
		cache:      c,
		classifier: classifier,
		now:        time.Now,
	}
}

// Resolve returns the Company and Contact for email, creating either if
// needed. Internal addresses return ErrSkippedInternal and touch nothing.
func (r *Resolver) Resolve(ctx context.Context, email, displayName string) (*Resolution, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	cls := r.classifier.Classify(email)
	if cls.Category == classify.Internal {
		return nil, ErrSkippedInternal
	}
	if cls.Domain == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, email)
	}

	now := r.now().UTC()
	res := &Resolution{Classification: cls}

	// Cache hit path: the cached contact carries its company ID.
	var cached models.Contact
	if r.cacheGet(ctx, ContactKey(email), &cached) && cached.CompanyID != "" {
		company, err := r.store.GetCompany(ctx, cached.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("get company %s: %w", cached.CompanyID, err)
		}
		if company != nil {
			if err := r.touchCompany(ctx, company, cls, now); err != nil {
				return nil, err
			}
			if err := r.touchContact(ctx, &cached, now); err != nil {
				return nil, err
			}
			res.Company, res.Contact = company, &cached
			return res, nil
		}
		slog.Warn("cached contact references missing company",
			"email", email,
			"company_id", cached.CompanyID,
		)
	}

	company, created, err := r.resolveCompany(ctx, cls, now)
	if err != nil {
		return nil, err
	}
	res.Company, res.CompanyCreated = company, created

	contact, created, err := r.resolveContact(ctx, email, displayName, company.ID, now)
	if err != nil {
		return nil, err
	}
	res.Contact, res.ContactCreated = contact, created

	return res, nil
}

func (r *Resolver) resolveCompany(ctx context.Context, cls classify.Result, now time.Time) (*models.Company, bool, error) {
	var company *models.Company

	var cached models.Company
	if r.cacheGet(ctx, CompanyKey(cls.Domain), &cached) && cached.ID != "" {
		company = &cached
	} else {
		found, err := r.store.FindCompanyByDomain(ctx, cls.Domain)
		if err != nil {
			return nil, false, fmt.Errorf("find company %s: %w", cls.Domain, err)
		}
		company = found
	}

	if company != nil {
		if err := r.touchCompany(ctx, company, cls, now); err != nil {
			return nil, false, err
		}
		r.cacheSet(ctx, CompanyKey(cls.Domain), company, CompanyTTL)
		return company, false, nil
	}

	name := cls.CompanyHint
	if name == "" {
		name = cls.Domain
	}
	companyType := models.CompanyTypeCompany
	if cls.Category == classify.Personal {
		companyType = models.CompanyTypeOther
	}

	company, created, err := r.store.CreateCompany(ctx, &models.Company{
		Name:             name,
		Domain:           cls.Domain,
		CompanyType:      companyType,
		Tags:             append([]string{TagAutoCreated}, derivedTags(cls)...),
		FirstContactDate: now,
		LastContactDate:  now,
		ContactCount:     1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create company %s: %w", cls.Domain, err)
	}
	if !created {
		// Lost a create race; treat the winner's row as a lookup hit.
		if err := r.touchCompany(ctx, company, cls, now); err != nil {
			return nil, false, err
		}
		r.cacheSet(ctx, CompanyKey(cls.Domain), company, CompanyTTL)
		return company, false, nil
	}

	slog.Info("company created",
		"company_id", company.ID,
		"domain", company.Domain,
		"company_type", company.CompanyType,
	)
	r.cacheSet(ctx, CompanyKey(cls.Domain), company, CompanyTTL)
	return company, true, nil
}

func (r *Resolver) resolveContact(ctx context.Context, email, displayName, companyID string, now time.Time) (*models.Contact, bool, error) {
	contact, err := r.store.FindContactByEmailAndCompany(ctx, email, companyID)
	if err != nil {
		return nil, false, fmt.Errorf("find contact %s: %w", email, err)
	}

	created := false
	if contact != nil {
		if err := r.touchContact(ctx, contact, now); err != nil {
			return nil, false, err
		}
	} else {
		first, last := SplitName(displayName)
		contact, err = r.store.CreateContact(ctx, &models.Contact{
			FirstName:       first,
			LastName:        last,
			Email:           email,
			CompanyID:       companyID,
			LastContactDate: now,
			ContactCount:    1,
		})
		if err != nil {
			return nil, false, fmt.Errorf("create contact %s: %w", email, err)
		}
		created = true
		slog.Info("contact created", "contact_id", contact.ID, "company_id", companyID)
	}

	r.cacheSet(ctx, ContactKey(email), contact, ContactTTL)
	return contact, created, nil
}

// touchCompany bumps contact aggregates and merges newly derived tags.
// Tags are only ever added.
func (r *Resolver) touchCompany(ctx context.Context, c *models.Company, cls classify.Result, now time.Time) error {
	c.LastContactDate = now
	c.ContactCount++
	c.Tags = MergeTags(c.Tags, derivedTags(cls))
	if err := r.store.UpdateCompany(ctx, c); err != nil {
		return fmt.Errorf("update company %s: %w", c.ID, err)
	}
	return nil
}

func (r *Resolver) touchContact(ctx context.Context, c *models.Contact, now time.Time) error {
	c.LastContactDate = now
	c.ContactCount++
	if err := r.store.UpdateContact(ctx, c); err != nil {
		return fmt.Errorf("update contact %s: %w", c.ID, err)
	}
	return nil
}

// Cache failures degrade to store lookups.
func (r *Resolver) cacheGet(ctx context.Context, key string, dst any) bool {
	found, err := r.cache.Get(ctx, key, dst)
	if err != nil {
		slog.Warn("resolver cache read failed", "key", key, "error", err)
		return false
	}
	return found
}

func (r *Resolver) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := r.cache.Set(ctx, key, v, ttl); err != nil {
		slog.Warn("resolver cache write failed", "key", key, "error", err)
	}
}

func derivedTags(cls classify.Result) []string {
	if cls.Category == classify.Personal {
		return []string{TagPersonalEmail}
	}
	return nil
}

// MergeTags returns the set union of existing and add, preserving the order
// of existing and appending new tags in the order given.
func MergeTags(existing, add []string) []string {
	out := slices.Clone(existing)
	for _, t := range add {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// SplitName splits a display name on whitespace: the first token is the
// first name, the rest is the last name. An empty name yields "Unknown".
func SplitName(displayName string) (first, last string) {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return "Unknown", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

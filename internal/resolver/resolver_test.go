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

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/crmingest/internal/cache/cachetest"
	"github.com/bcem/crmingest/internal/classify"
	"github.com/bcem/crmingest/internal/models"
	"github.com/bcem/crmingest/internal/store"
)

func newResolver(t *testing.T) (*Resolver, *store.Memory) {
	t.Helper()
	c, _ := cachetest.New(t)
	s := store.NewMemory()
	return New(s, c, classify.New([]string{"ourcompany.com"}, nil)), s
}

func TestResolve_CreatesCompanyAndContact(t *testing.T) {
	ctx := context.Background()
	r, s := newResolver(t)

	res, err := r.Resolve(ctx, "Jane.Doe@Acme-Corp.com", "Jane Q Doe")
	require.NoError(t, err)

	assert.True(t, res.CompanyCreated)
	assert.True(t, res.ContactCreated)
	assert.Equal(t, "Acme Corp", res.Company.Name)
	assert.Equal(t, "acme-corp.com", res.Company.Domain)
	assert.Equal(t, models.CompanyTypeCompany, res.Company.CompanyType)
	assert.Equal(t, []string{TagAutoCreated}, res.Company.Tags)
	assert.Equal(t, 1, res.Company.ContactCount)

	assert.Equal(t, "Jane", res.Contact.FirstName)
	assert.Equal(t, "Q Doe", res.Contact.LastName)
	assert.Equal(t, "jane.doe@acme-corp.com", res.Contact.Email)
	assert.Equal(t, res.Company.ID, res.Contact.CompanyID)

	companies, contacts, _ := s.Counts()
	assert.Equal(t, 1, companies)
	assert.Equal(t, 1, contacts)
}

func TestResolve_PersonalDomain(t *testing.T) {
	r, _ := newResolver(t)

	res, err := r.Resolve(context.Background(), "someone@gmail.com", "")
	require.NoError(t, err)

	assert.Equal(t, models.CompanyTypeOther, res.Company.CompanyType)
	assert.Equal(t, []string{TagAutoCreated, TagPersonalEmail}, res.Company.Tags)
	assert.Equal(t, "Unknown", res.Contact.FirstName)
	assert.Empty(t, res.Contact.LastName)
}

func TestResolve_InternalIsSkipped(t *testing.T) {
	r, s := newResolver(t)

	res, err := r.Resolve(context.Background(), "colleague@ourcompany.com", "Col League")
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrSkippedInternal))

	companies, contacts, _ := s.Counts()
	assert.Zero(t, companies)
	assert.Zero(t, contacts)
}

func TestResolve_InvalidAddress(t *testing.T) {
	r, _ := newResolver(t)

	_, err := r.Resolve(context.Background(), "not-an-address", "")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestResolve_RepeatBumpsAggregates(t *testing.T) {
	ctx := context.Background()
	r, s := newResolver(t)

	first, err := r.Resolve(ctx, "a@acme.com", "Ann")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "a@acme.com", "Ann")
	require.NoError(t, err)

	assert.False(t, second.CompanyCreated)
	assert.False(t, second.ContactCreated)
	assert.Equal(t, first.Company.ID, second.Company.ID)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)

	company, err := s.GetCompany(ctx, first.Company.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, company.ContactCount)

	contact, err := s.FindContactByEmailAndCompany(ctx, "a@acme.com", first.Company.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, contact.ContactCount)
}

func TestResolve_NewContactAtKnownCompany(t *testing.T) {
	ctx := context.Background()
	r, s := newResolver(t)

	a, err := r.Resolve(ctx, "a@acme.com", "Ann")
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "b@acme.com", "Bob")
	require.NoError(t, err)

	assert.Equal(t, a.Company.ID, b.Company.ID)
	assert.False(t, b.CompanyCreated)
	assert.True(t, b.ContactCreated)

	companies, contacts, _ := s.Counts()
	assert.Equal(t, 1, companies)
	assert.Equal(t, 2, contacts)
}

// staleLookupStore hides existing companies from domain lookups, so the
// resolver reaches CreateCompany for a domain another writer already holds.
type staleLookupStore struct {
	*store.Memory
}

func (staleLookupStore) FindCompanyByDomain(context.Context, string) (*models.Company, error) {
	return nil, nil
}

func TestResolve_LostCreateRaceBumpsExistingCompany(t *testing.T) {
	ctx := context.Background()
	c, _ := cachetest.New(t)
	mem := store.NewMemory()
	winner, created, err := mem.CreateCompany(ctx, &models.Company{
		Name:         "Acme",
		Domain:       "acme.com",
		Tags:         []string{TagAutoCreated},
		ContactCount: 1,
	})
	require.NoError(t, err)
	require.True(t, created)

	r := New(staleLookupStore{mem}, c, classify.New([]string{"ourcompany.com"}, nil))
	res, err := r.Resolve(ctx, "bob@acme.com", "Bob")
	require.NoError(t, err)

	assert.False(t, res.CompanyCreated)
	assert.Equal(t, winner.ID, res.Company.ID)

	stored, err := mem.GetCompany(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ContactCount)

	companies, _, _ := mem.Counts()
	assert.Equal(t, 1, companies)
}

func TestResolve_CacheMissFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	c, mr := cachetest.New(t)
	s := store.NewMemory()
	r := New(s, c, classify.New(nil, nil))

	first, err := r.Resolve(ctx, "a@acme.com", "Ann")
	require.NoError(t, err)

	mr.FlushAll()

	second, err := r.Resolve(ctx, "a@acme.com", "Ann")
	require.NoError(t, err)
	assert.Equal(t, first.Company.ID, second.Company.ID)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)
	assert.True(t, mr.Exists(CompanyKey("acme.com")))
	assert.True(t, mr.Exists(ContactKey("a@acme.com")))
}

func TestResolve_TagsNeverShrink(t *testing.T) {
	ctx := context.Background()
	r, s := newResolver(t)

	res, err := r.Resolve(ctx, "a@gmail.com", "")
	require.NoError(t, err)

	// An operator-assigned tag survives later resolutions.
	company, err := s.GetCompany(ctx, res.Company.ID)
	require.NoError(t, err)
	company.Tags = append(company.Tags, "vip")
	require.NoError(t, s.UpdateCompany(ctx, company))

	prev := len(company.Tags)
	for _, email := range []string{"b@gmail.com", "c@gmail.com", "a@gmail.com"} {
		_, err := r.Resolve(ctx, email, "")
		require.NoError(t, err)

		got, err := s.GetCompany(ctx, res.Company.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(got.Tags), prev)
		prev = len(got.Tags)
	}
}

func TestMergeTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, MergeTags([]string{"a", "b"}, []string{"b", "c", ""}))
	assert.Equal(t, []string{"x"}, MergeTags(nil, []string{"x"}))
	assert.Empty(t, MergeTags(nil, nil))
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"", "Unknown", ""},
		{"   ", "Unknown", ""},
		{"Cher", "Cher", ""},
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"  Jean  Claude  Van Damme ", "Jean", "Claude Van Damme"},
	}
	for _, tt := range tests {
		first, last := SplitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}

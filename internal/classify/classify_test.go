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

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClassify verifies the three traffic categories.
func TestClassify(t *testing.T) {
	c := New([]string{"ourcompany.com"}, []string{"fastmail.fm"})

	tests := []struct {
		email    string
		category Category
		domain   string
		hint     string
	}{
		{"user@company.com", External, "company.com", "Company"},
		{"user@gmail.com", Personal, "gmail.com", "Gmail"},
		{"user@ourcompany.com", Internal, "ourcompany.com", "Ourcompany"},
		{"User@OurCompany.COM", Internal, "ourcompany.com", "Ourcompany"},
		{"user@mail.ourcompany.com", Internal, "mail.ourcompany.com", "Mail Ourcompany"},
		{"user@fastmail.fm", Personal, "fastmail.fm", "Fastmail Fm"},
		{"jane@acme-corp.co.uk", External, "acme-corp.co.uk", "Acme Corp"},
		{"x@www.example.org", External, "www.example.org", "Example"},
		{"not-an-email", External, "", ""},
		{"", External, "", ""},
		{"trailing@", External, "", ""},
		{"@nolocal.com", External, "", ""},
		{"user@localhost", External, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := c.Classify(tt.email)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.domain, got.Domain)
			assert.Equal(t, tt.hint, got.CompanyHint)
		})
	}
}

// TestClassify_NoInternalDomains verifies nothing is internal when unconfigured.
func TestClassify_NoInternalDomains(t *testing.T) {
	c := New(nil, nil)
	assert.Equal(t, External, c.Classify("a@ourcompany.com").Category)
	assert.False(t, c.IsInternal("a@ourcompany.com"))
}

// TestClassify_SuffixOnlyLookalike verifies a similar-looking domain is not internal.
func TestClassify_SuffixOnlyLookalike(t *testing.T) {
	c := New([]string{"ourcompany.com"}, nil)
	assert.Equal(t, External, c.Classify("a@notourcompany.com").Category)
}

// TestCompanyHint verifies TLD stripping and title-casing.
func TestCompanyHint(t *testing.T) {
	assert.Equal(t, "Acme", CompanyHint("acme.com"))
	assert.Equal(t, "Big Data Labs", CompanyHint("big-data-labs.io"))
	assert.Equal(t, "Ox", CompanyHint("ox.ac.uk"))
	assert.Equal(t, "Co", CompanyHint("co.uk"))
	assert.Equal(t, "", CompanyHint(""))
}

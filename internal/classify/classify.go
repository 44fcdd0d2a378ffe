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

// Package classify maps email addresses to internal, personal, or external
// traffic and derives a best-effort company name from the domain. It is
// pure: no I/O, and malformed input is classified rather than rejected.
package classify

import (
	"strings"
	"unicode"
)

// Category is the traffic class of an email address.
type Category string

const (
	Internal Category = "internal"
	Personal Category = "personal"
	External Category = "external"
)

// Result is the outcome of classifying one address.
type Result struct {
	Category    Category
	Domain      string
	CompanyHint string
}

// defaultPersonalDomains are consumer webmail providers.
var defaultPersonalDomains = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "yahoo.co.uk", "ymail.com",
	"hotmail.com", "hotmail.co.uk", "outlook.com", "live.com", "msn.com",
	"aol.com",
	"icloud.com", "me.com", "mac.com",
	"protonmail.com", "proton.me",
	"gmx.com", "gmx.de", "gmx.net",
	"mail.com", "zoho.com", "yandex.com", "yandex.ru",
	"qq.com", "163.com", "126.com",
	"fastmail.com", "tutanota.com", "hey.com",
}

// suffixes are stripped from the right of a domain before building a hint.
var suffixes = map[string]bool{
	"com": true, "org": true, "net": true, "edu": true, "gov": true, "mil": true,
	"int": true, "info": true, "biz": true, "io": true, "ai": true, "app": true,
	"dev": true, "tech": true, "co": true, "ac": true,
	"uk": true, "us": true, "de": true, "fr": true, "nl": true, "es": true,
	"it": true, "se": true, "no": true, "dk": true, "fi": true, "ch": true,
	"at": true, "be": true, "ie": true, "ca": true, "au": true, "nz": true,
	"jp": true, "cn": true, "in": true, "sg": true, "br": true, "eu": true,
}

// Classifier holds the configured internal and personal domain sets.
type Classifier struct {
	internal map[string]bool
	personal map[string]bool
}

// New creates a classifier. Internal domains also match their subdomains.
// extraPersonal is merged into the built-in webmail set.
func New(internalDomains, extraPersonal []string) *Classifier {
	c := &Classifier{
		internal: make(map[string]bool, len(internalDomains)),
		personal: make(map[string]bool, len(defaultPersonalDomains)+len(extraPersonal)),
	}
	for _, d := range internalDomains {
		if d = normalise(d); d != "" {
			c.internal[d] = true
		}
	}
	for _, d := range defaultPersonalDomains {
		c.personal[d] = true
	}
	for _, d := range extraPersonal {
		if d = normalise(d); d != "" {
			c.personal[d] = true
		}
	}
	return c
}

// Classify categorises an email address.
func (c *Classifier) Classify(email string) Result {
	domain := Domain(email)
	if domain == "" {
		return Result{Category: External}
	}

	res := Result{Domain: domain, CompanyHint: CompanyHint(domain)}
	switch {
	case c.isInternal(domain):
		res.Category = Internal
	case c.personal[domain]:
		res.Category = Personal
	default:
		res.Category = External
	}
	return res
}

// IsInternal reports whether the address belongs to the organisation.
func (c *Classifier) IsInternal(email string) bool {
	d := Domain(email)
	return d != "" && c.isInternal(d)
}

func (c *Classifier) isInternal(domain string) bool {
	for d := domain; d != ""; {
		if c.internal[d] {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}

// Domain extracts the lower-cased domain part of an address, or "" when
// the address is malformed.
func Domain(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	d := normalise(email[at+1:])
	if d == "" || !strings.Contains(d, ".") || strings.ContainsAny(d, " @") {
		return ""
	}
	return d
}

// CompanyHint strips common top-level suffixes and title-cases what is
// left: "acme-corp.co.uk" becomes "Acme Corp".
func CompanyHint(domain string) string {
	domain = normalise(domain)
	if domain == "" {
		return ""
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 0 && parts[0] == "www" {
		parts = parts[1:]
	}

	end := len(parts)
	for end > 1 && suffixes[parts[end-1]] {
		end--
	}
	parts = parts[:end]

	words := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, w := range strings.FieldsFunc(p, func(r rune) bool { return r == '-' || r == '_' }) {
			words = append(words, titleCase(w))
		}
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func normalise(d string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
}

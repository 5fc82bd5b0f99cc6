package models

import "time"

// RepositoryRole distinguishes subject repositories, which never receive gold-licensed content
type RepositoryRole string

const (
	RepositoryRoleInstitutional RepositoryRole = "institutional"
	RepositoryRoleSubject       RepositoryRole = "subject"
)

// SubscriberProfile is a repository's matching configuration. Every list may be empty.
type SubscriberProfile struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Active       bool           `json:"active"`
	Role         RepositoryRole `json:"role"`
	Institutions []Identifier   `json:"institutions,omitempty"`
	MatchAll     bool           `json:"match_all"`

	Domains      []string     `json:"domains,omitempty"`
	NameVariants []string     `json:"name_variants,omitempty"`
	AuthorEmails []string     `json:"author_emails,omitempty"`
	AuthorIDs    []Identifier `json:"author_ids,omitempty"`
	Postcodes    []string     `json:"postcodes,omitempty"`
	Grants       []string     `json:"grants,omitempty"`
	Strings      []string     `json:"strings,omitempty"`

	Keywords     []string `json:"keywords,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`

	ExcludedLicenses []string `json:"excluded_licenses,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsSubject reports whether the subscriber is a subject-only repository
func (p *SubscriberProfile) IsSubject() bool {
	return p.Role == RepositoryRoleSubject
}

// HasCriteria reports whether the profile declares anything that could produce a match
func (p *SubscriberProfile) HasCriteria() bool {
	return p.MatchAll ||
		len(p.Domains) > 0 ||
		len(p.NameVariants) > 0 ||
		len(p.AuthorEmails) > 0 ||
		len(p.AuthorIDs) > 0 ||
		len(p.Postcodes) > 0 ||
		len(p.Grants) > 0 ||
		len(p.Strings) > 0
}

// ExcludesLicense reports whether the subscriber opted out of the given license
func (p *SubscriberProfile) ExcludesLicense(licenseID string) bool {
	for _, id := range p.ExcludedLicenses {
		if id == licenseID {
			return true
		}
	}
	return false
}

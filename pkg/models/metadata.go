package models

import "strings"

// Identifier is a typed external identifier (doi, issn, eissn, orcid, email, ...)
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// IdentifiersOfType returns the ids of all identifiers with the given type (case-insensitive)
func IdentifiersOfType(ids []Identifier, types ...string) []string {
	var out []string
	for _, id := range ids {
		for _, t := range types {
			if strings.EqualFold(id.Type, t) {
				out = append(out, id.ID)
				break
			}
		}
	}
	return out
}

// Metadata is the bibliographic metadata of a notification
type Metadata struct {
	Journal           Journal      `json:"journal"`
	Article           Article      `json:"article"`
	Authors           []Author     `json:"authors,omitempty"`
	Contributors      []Author     `json:"contributors,omitempty"`
	Projects          []Project    `json:"projects,omitempty"`
	Licenses          []LicenseRef `json:"licenses,omitempty"`
	Publisher         string       `json:"publisher,omitempty"`
	PublicationDate   string       `json:"publication_date,omitempty"`
	PublicationStatus string       `json:"publication_status,omitempty"`
	AcceptedDate      string       `json:"accepted_date,omitempty"`
	EmbargoMonths     int          `json:"embargo_months,omitempty"`
}

// Journal describes the journal an article was published in
type Journal struct {
	Title       string       `json:"title,omitempty"`
	Abbrev      string       `json:"abbrev,omitempty"`
	Volume      string       `json:"volume,omitempty"`
	Issue       string       `json:"issue,omitempty"`
	Publishers  []string     `json:"publishers,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
}

// ISSNs returns every ISSN-like identifier of the journal
func (j Journal) ISSNs() []string {
	return IdentifiersOfType(j.Identifiers, "issn", "eissn", "pissn")
}

// Article describes the article itself
type Article struct {
	Title       string       `json:"title,omitempty"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Type        string       `json:"type,omitempty"`
	Version     string       `json:"version,omitempty"`
	StartPage   string       `json:"start_page,omitempty"`
	EndPage     string       `json:"end_page,omitempty"`
	Language    []string     `json:"language,omitempty"`
	Abstract    string       `json:"abstract,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Subjects    []string     `json:"subjects,omitempty"`
	Keywords    []string     `json:"keywords,omitempty"`
}

// PersonName is the structured name of an author
type PersonName struct {
	Firstname string `json:"firstname,omitempty"`
	Surname   string `json:"surname,omitempty"`
	Fullname  string `json:"fullname,omitempty"`
	Suffix    string `json:"suffix,omitempty"`
}

// Display returns the best available rendering of the name
func (n PersonName) Display() string {
	if n.Fullname != "" {
		return n.Fullname
	}
	return strings.TrimSpace(strings.Join([]string{n.Firstname, n.Surname}, " "))
}

// Affiliation is an institution an author is affiliated with
type Affiliation struct {
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Org         string       `json:"org,omitempty"`
	Dept        string       `json:"dept,omitempty"`
	Street      string       `json:"street,omitempty"`
	City        string       `json:"city,omitempty"`
	State       string       `json:"state,omitempty"`
	Country     string       `json:"country,omitempty"`
	Postcode    string       `json:"postcode,omitempty"`
	Raw         string       `json:"raw,omitempty"`
}

// Text returns the affiliation as a single string for substring matching
func (a Affiliation) Text() string {
	if a.Raw != "" {
		return a.Raw
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Dept, a.Org, a.Street, a.City, a.State, a.Postcode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Author is an author or contributor of an article
type Author struct {
	Type         string        `json:"type,omitempty"`
	Name         PersonName    `json:"name"`
	Organisation string        `json:"organisation,omitempty"`
	Identifiers  []Identifier  `json:"identifiers,omitempty"`
	Affiliations []Affiliation `json:"affiliations,omitempty"`
}

// Emails returns the email identifiers of the author
func (a Author) Emails() []string {
	return IdentifiersOfType(a.Identifiers, "email")
}

// Project is a funded project the article is an output of
type Project struct {
	Name         string       `json:"name,omitempty"`
	Acronym      string       `json:"acronym,omitempty"`
	Identifiers  []Identifier `json:"identifiers,omitempty"`
	GrantNumbers []string     `json:"grant_numbers,omitempty"`
}

// LicenseRef is a license declared by the provider on the notification itself
type LicenseRef struct {
	Title   string `json:"title,omitempty"`
	Type    string `json:"type,omitempty"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
	Start   string `json:"start,omitempty"`
}

// PublicationYear returns the year of PublicationDate, or 0 when it is missing or malformed
func (m Metadata) PublicationYear() int {
	if len(m.PublicationDate) < 4 {
		return 0
	}
	year := 0
	for _, r := range m.PublicationDate[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	return year
}

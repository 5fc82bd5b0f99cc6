package models

import "time"

// LicenseType classifies how eligibility for a license is decided
type LicenseType string

const (
	LicenseTypeGold     LicenseType = "gold"
	LicenseTypeAlliance LicenseType = "alliance"
	LicenseTypeNational LicenseType = "national"
	LicenseTypeDeal     LicenseType = "deal"
	LicenseTypeFID      LicenseType = "fid"
	LicenseTypeHybrid   LicenseType = "hybrid"
)

// LicenseStatus is the register status of a license or participant record
type LicenseStatus string

const (
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusInactive LicenseStatus = "inactive"
)

// RegisterLinkType is the link type that carries a journal's canonical reference URL
const RegisterLinkType = "register"

// License is an entry of the license register
type License struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      LicenseType      `json:"type"`
	Status    LicenseStatus    `json:"status"`
	Journals  []LicenseJournal `json:"journals,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the license is active
func (l *License) IsActive() bool {
	return l.Status == LicenseStatusActive
}

// LicenseJournal is one journal covered by a license
type LicenseJournal struct {
	Title         string       `json:"title,omitempty"`
	Identifiers   []Identifier `json:"identifiers,omitempty"`
	Period        YearRange    `json:"period"`
	EmbargoMonths int          `json:"embargo_months,omitempty"`
	Links         []Link       `json:"links,omitempty"`
}

// ISSNs returns the journal's ISSN-like identifiers
func (j LicenseJournal) ISSNs() []string {
	return IdentifiersOfType(j.Identifiers, "issn", "eissn", "pissn")
}

// RegisterURL returns the URL of the first link typed "register"
func (j LicenseJournal) RegisterURL() (string, bool) {
	for _, l := range j.Links {
		if l.Type == RegisterLinkType && l.URL != "" {
			return l.URL, true
		}
	}
	return "", false
}

// YearRange is an inclusive range of years. Bounds are kept as text because register
// imports carry free-form values.
type YearRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Participant lists the institutions that take part in a license
type Participant struct {
	ID           string        `json:"id"`
	LicenseID    string        `json:"license_id"`
	Status       LicenseStatus `json:"status"`
	Institutions []Identifier  `json:"institutions,omitempty"`
}

// LicenseRecord is the normalized journal record attached to an eligible subscriber
type LicenseRecord struct {
	LicenseID     string      `json:"license_id"`
	Name          string      `json:"name"`
	Type          LicenseType `json:"type"`
	JournalTitle  string      `json:"journal_title,omitempty"`
	Link          string      `json:"link"`
	EmbargoMonths int         `json:"embargo_months,omitempty"`
}

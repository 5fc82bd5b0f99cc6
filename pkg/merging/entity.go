// Package merging merges extracted metadata into a notification. Every function
// returns new values and leaves its inputs untouched.
package merging

import (
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
)

// EntityRule describes how entities of one kind are recognised and combined
type EntityRule[T any] struct {
	// Identifiers returns the (type, id) pairs identifying the entity
	Identifiers func(T) []models.Identifier
	// Name returns the primary name compared when either side has no identifiers
	Name func(T) string
	// Fill returns existing with its missing fields and identifiers taken from incoming
	Fill func(existing, incoming T) T
}

// SameEntity reports whether a and b describe the same entity: they share a
// (type, id) pair or, when either lacks identifiers, they share the primary name.
func SameEntity[T any](a, b T, rule EntityRule[T]) bool {
	ida, idb := rule.Identifiers(a), rule.Identifiers(b)
	if len(ida) > 0 && len(idb) > 0 {
		keys := make(map[string]struct{}, len(ida))
		for _, id := range ida {
			keys[identifierKey(id)] = struct{}{}
		}
		for _, id := range idb {
			if _, ok := keys[identifierKey(id)]; ok {
				return true
			}
		}
		return false
	}

	na := normalizers.Normalize(rule.Name(a))
	return na != "" && na == normalizers.Normalize(rule.Name(b))
}

// MergeEntity fills the gaps of existing from incoming
func MergeEntity[T any](existing, incoming T, rule EntityRule[T]) T {
	return rule.Fill(existing, incoming)
}

// MergeEntities returns the union of existing and incoming. An incoming entity that is
// the same as one already present is merged into it instead of being appended.
func MergeEntities[T any](existing, incoming []T, rule EntityRule[T]) []T {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make([]T, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	for _, inc := range incoming {
		merged := false
		for i := range out {
			if SameEntity(out[i], inc, rule) {
				out[i] = MergeEntity(out[i], inc, rule)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, inc)
		}
	}
	return out
}

// =============================================================================
// RULES
// =============================================================================

// AuthorRule merges authors and contributors
var AuthorRule = EntityRule[models.Author]{
	Identifiers: func(a models.Author) []models.Identifier { return a.Identifiers },
	Name:        func(a models.Author) string { return a.Name.Display() },
	Fill: func(existing, incoming models.Author) models.Author {
		out := existing
		out.Type = firstNonEmpty(existing.Type, incoming.Type)
		out.Organisation = firstNonEmpty(existing.Organisation, incoming.Organisation)
		out.Name = models.PersonName{
			Firstname: firstNonEmpty(existing.Name.Firstname, incoming.Name.Firstname),
			Surname:   firstNonEmpty(existing.Name.Surname, incoming.Name.Surname),
			Fullname:  firstNonEmpty(existing.Name.Fullname, incoming.Name.Fullname),
			Suffix:    firstNonEmpty(existing.Name.Suffix, incoming.Name.Suffix),
		}
		out.Identifiers = UnionIdentifiers(existing.Identifiers, incoming.Identifiers)
		out.Affiliations = MergeEntities(existing.Affiliations, incoming.Affiliations, AffiliationRule)
		return out
	},
}

// AffiliationRule merges author affiliations
var AffiliationRule = EntityRule[models.Affiliation]{
	Identifiers: func(a models.Affiliation) []models.Identifier { return a.Identifiers },
	Name: func(a models.Affiliation) string {
		return firstNonEmpty(a.Org, a.Raw)
	},
	Fill: func(existing, incoming models.Affiliation) models.Affiliation {
		return models.Affiliation{
			Identifiers: UnionIdentifiers(existing.Identifiers, incoming.Identifiers),
			Org:         firstNonEmpty(existing.Org, incoming.Org),
			Dept:        firstNonEmpty(existing.Dept, incoming.Dept),
			Street:      firstNonEmpty(existing.Street, incoming.Street),
			City:        firstNonEmpty(existing.City, incoming.City),
			State:       firstNonEmpty(existing.State, incoming.State),
			Country:     firstNonEmpty(existing.Country, incoming.Country),
			Postcode:    firstNonEmpty(existing.Postcode, incoming.Postcode),
			Raw:         firstNonEmpty(existing.Raw, incoming.Raw),
		}
	},
}

// ProjectRule merges funded projects
var ProjectRule = EntityRule[models.Project]{
	Identifiers: func(p models.Project) []models.Identifier { return p.Identifiers },
	Name:        func(p models.Project) string { return p.Name },
	Fill: func(existing, incoming models.Project) models.Project {
		return models.Project{
			Name:         firstNonEmpty(existing.Name, incoming.Name),
			Acronym:      firstNonEmpty(existing.Acronym, incoming.Acronym),
			Identifiers:  UnionIdentifiers(existing.Identifiers, incoming.Identifiers),
			GrantNumbers: UnionStrings(existing.GrantNumbers, incoming.GrantNumbers),
		}
	},
}

// LicenseRefRule merges declared licenses; the URL identifies a license
var LicenseRefRule = EntityRule[models.LicenseRef]{
	Identifiers: func(l models.LicenseRef) []models.Identifier {
		if l.URL == "" {
			return nil
		}
		return []models.Identifier{{Type: "url", ID: l.URL}}
	},
	Name: func(l models.LicenseRef) string { return firstNonEmpty(l.Title, l.Type) },
	Fill: func(existing, incoming models.LicenseRef) models.LicenseRef {
		return models.LicenseRef{
			Title:   firstNonEmpty(existing.Title, incoming.Title),
			Type:    firstNonEmpty(existing.Type, incoming.Type),
			URL:     firstNonEmpty(existing.URL, incoming.URL),
			Version: firstNonEmpty(existing.Version, incoming.Version),
			Start:   firstNonEmpty(existing.Start, incoming.Start),
		}
	},
}

// =============================================================================
// HELPERS
// =============================================================================

// UnionIdentifiers returns a followed by the identifiers of b not already in a
func UnionIdentifiers(a, b []models.Identifier) []models.Identifier {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]models.Identifier, 0, len(a)+len(b))
	for _, list := range [][]models.Identifier{a, b} {
		for _, id := range list {
			key := identifierKey(id)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// UnionStrings returns a followed by the values of b not already in a, compared normalized
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			key := normalizers.Normalize(v)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func identifierKey(id models.Identifier) string {
	return normalizers.Normalize(id.Type) + "\x00" + normalizers.Normalize(id.ID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

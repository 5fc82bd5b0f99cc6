package matching

import (
	"github.com/JiscPER/jper-sub000/pkg/models"
)

// Field names used in provenance entries
const (
	FieldDomains      = "domains"
	FieldNameVariants = "name_variants"
	FieldAuthorEmails = "author_emails"
	FieldAuthorIDs    = "author_ids"
	FieldGrants       = "grants"
	FieldPostcodes    = "postcodes"
	FieldStrings      = "strings"
	FieldMatchAll     = "match_all"

	FieldURLs         = "urls"
	FieldEmails       = "emails"
	FieldAffiliations = "affiliations"
	FieldKeywords     = "keywords"
	FieldContentTypes = "content_types"
)

// term is one comparable value. Typed values (author identifiers) carry their type.
type term struct {
	value string
	typ   string
}

func (t term) identifier() models.Identifier {
	return models.Identifier{Type: t.typ, ID: t.value}
}

func (t term) display() string {
	if t.typ == "" {
		return t.value
	}
	return t.typ + ":" + t.value
}

// termMatcher adapts a field matcher to terms
type termMatcher func(a, b term) (string, bool)

func onValues(fn func(a, b string) (string, bool)) termMatcher {
	return func(a, b term) (string, bool) { return fn(a.value, b.value) }
}

var (
	exactTerms          = onValues(Exact)
	exactSubstringTerms = onValues(ExactSubstring)
	domainURLTerms      = onValues(DomainURL)
	domainEmailTerms    = onValues(DomainEmail)
	postcodeTerms       = onValues(PostcodeMatch)

	authorTerms termMatcher = func(a, b term) (string, bool) {
		return AuthorMatch(a.identifier(), b.identifier())
	}
	authorStringTerms termMatcher = func(a, b term) (string, bool) {
		return AuthorStringMatch(a.value, b.identifier())
	}
)

// rule is one (subscriber field, notification field, matcher) combination
type rule struct {
	subscriberField   string
	notificationField string
	match             termMatcher
	affiliation       bool
	postcode          bool
}

// rules is evaluated in order; provenance entries follow this order.
var rules = []rule{
	{subscriberField: FieldDomains, notificationField: FieldURLs, match: domainURLTerms},
	{subscriberField: FieldDomains, notificationField: FieldEmails, match: domainEmailTerms},
	{subscriberField: FieldNameVariants, notificationField: FieldAffiliations, match: exactSubstringTerms, affiliation: true},
	{subscriberField: FieldAuthorEmails, notificationField: FieldEmails, match: exactTerms},
	{subscriberField: FieldAuthorIDs, notificationField: FieldAuthorIDs, match: authorTerms},
	{subscriberField: FieldGrants, notificationField: FieldGrants, match: exactTerms},
	{subscriberField: FieldPostcodes, notificationField: FieldPostcodes, match: postcodeTerms, postcode: true},
	{subscriberField: FieldStrings, notificationField: FieldURLs, match: domainURLTerms},
	{subscriberField: FieldStrings, notificationField: FieldEmails, match: exactTerms},
	{subscriberField: FieldStrings, notificationField: FieldAffiliations, match: exactSubstringTerms, affiliation: true},
	{subscriberField: FieldStrings, notificationField: FieldAuthorIDs, match: authorStringTerms},
	{subscriberField: FieldStrings, notificationField: FieldPostcodes, match: postcodeTerms, postcode: true},
	{subscriberField: FieldStrings, notificationField: FieldGrants, match: exactTerms},
}

func subscriberTerms(p *models.SubscriberProfile, field string) []term {
	switch field {
	case FieldDomains:
		return stringTerms(p.Domains)
	case FieldNameVariants:
		return stringTerms(p.NameVariants)
	case FieldAuthorEmails:
		return stringTerms(p.AuthorEmails)
	case FieldAuthorIDs:
		return identifierTerms(p.AuthorIDs)
	case FieldGrants:
		return stringTerms(p.Grants)
	case FieldPostcodes:
		return stringTerms(p.Postcodes)
	case FieldStrings:
		return stringTerms(p.Strings)
	}
	return nil
}

func notificationTerms(d models.MatchData, field string) []term {
	switch field {
	case FieldURLs:
		return stringTerms(d.URLs)
	case FieldEmails:
		return stringTerms(d.Emails)
	case FieldAffiliations:
		return stringTerms(d.Affiliations)
	case FieldAuthorIDs:
		return identifierTerms(d.AuthorIDs)
	case FieldGrants:
		return stringTerms(d.Grants)
	case FieldPostcodes:
		return stringTerms(d.Postcodes)
	}
	return nil
}

func stringTerms(values []string) []term {
	out := make([]term, 0, len(values))
	for _, v := range values {
		out = append(out, term{value: v})
	}
	return out
}

func identifierTerms(ids []models.Identifier) []term {
	out := make([]term, 0, len(ids))
	for _, id := range ids {
		out = append(out, term{value: id.ID, typ: id.Type})
	}
	return out
}

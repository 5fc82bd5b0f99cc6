package matching

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
)

// IgnoreAffiliation is the sentinel that lets either side opt out of affiliation matching
const IgnoreAffiliation = "IGNORE-AFFILIATION"

// Each matcher compares one subscriber term against one notification term. A match
// returns an explanation quoting the original values; no match returns ok=false.

// Exact matches when both values are equal after normalization
func Exact(a, b string) (string, bool) {
	na, nb := normalizers.Normalize(a), normalizers.Normalize(b)
	if na == "" || na != nb {
		return "", false
	}
	return fmt.Sprintf("'%s' exactly matches '%s'", a, b), true
}

// ExactSubstring matches when a occurs in b as whole words after normalization.
// The IGNORE-AFFILIATION sentinel on either side always matches.
func ExactSubstring(a, b string) (string, bool) {
	if isIgnoreAffiliation(a) || isIgnoreAffiliation(b) {
		return fmt.Sprintf("'%s' matched '%s' because affiliation matching is ignored", a, b), true
	}

	na, nb := normalizers.Normalize(a), normalizers.Normalize(b)
	if na == "" || nb == "" {
		return "", false
	}

	re, err := wordPattern(na)
	if err != nil || !re.MatchString(nb) {
		return "", false
	}
	return fmt.Sprintf("'%s' appears in '%s'", a, b), true
}

// DomainURL matches when the domain of one value is a suffix of the other
func DomainURL(domain, url string) (string, bool) {
	if !domainSuffix(normalizers.DomainOf(domain), normalizers.DomainOf(url)) {
		return "", false
	}
	return fmt.Sprintf("domain '%s' matches url '%s'", domain, url), true
}

// DomainEmail matches when the domain part of the email and the domain are suffixes of each other
func DomainEmail(domain, email string) (string, bool) {
	if !domainSuffix(normalizers.DomainOf(domain), normalizers.EmailDomain(email)) {
		return "", false
	}
	return fmt.Sprintf("domain '%s' matches email '%s'", domain, email), true
}

// AuthorMatch matches when both the identifier type and the normalized id are equal
func AuthorMatch(a, b models.Identifier) (string, bool) {
	na := normalizers.Normalize(a.ID)
	if na == "" || na != normalizers.Normalize(b.ID) {
		return "", false
	}
	if normalizers.Normalize(a.Type) != normalizers.Normalize(b.Type) {
		return "", false
	}
	return fmt.Sprintf("author %s '%s' matches '%s'", b.Type, a.ID, b.ID), true
}

// AuthorStringMatch matches a free string against an author identifier, ignoring its type
func AuthorStringMatch(s string, id models.Identifier) (string, bool) {
	ns := normalizers.Normalize(s)
	if ns == "" || ns != normalizers.Normalize(id.ID) {
		return "", false
	}
	return fmt.Sprintf("'%s' matches author %s '%s'", s, id.Type, id.ID), true
}

// PostcodeMatch matches postcodes ignoring case and all spaces
func PostcodeMatch(a, b string) (string, bool) {
	na := normalizers.Postcode(a)
	if na == "" || na != normalizers.Postcode(b) {
		return "", false
	}
	return fmt.Sprintf("postcode '%s' matches '%s'", a, b), true
}

func isIgnoreAffiliation(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), IgnoreAffiliation)
}

// wordPattern builds a whole-word pattern for an already normalized term. Word
// boundaries are only asserted next to word characters so terms such as "c++" still match.
// The guards consume the neighbouring rune, so the pattern is only fit for match tests.
func wordPattern(term string) (*regexp.Regexp, error) {
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)

	var b strings.Builder
	if isWordRune(first) {
		b.WriteString(`(?:^|[^\p{L}\p{N}_])`)
	}
	b.WriteString(regexp.QuoteMeta(term))
	if isWordRune(last) {
		b.WriteString(`(?:$|[^\p{L}\p{N}_])`)
	}
	return regexp.Compile(b.String())
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// domainSuffix is a plain string suffix test, so "ac.uk" matches "bac.uk".
func domainSuffix(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

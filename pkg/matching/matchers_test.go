package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

func TestExact(t *testing.T) {
	_, ok := Exact("GRANT-123", " grant-123 ")
	assert.True(t, ok)

	_, ok = Exact("GRANT-123", "GRANT-1234")
	assert.False(t, ok)

	_, ok = Exact("", "")
	assert.False(t, ok, "empty values never match")
}

func TestExactSubstring(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected bool
	}{
		{name: "whole word match", a: "Edinburgh", b: "School of Informatics, University of Edinburgh", expected: true},
		{name: "multi word match", a: "university of edinburgh", b: "The University of  Edinburgh, UK", expected: true},
		{name: "partial token does not match", a: "Edin", b: "University of Edinburgh", expected: false},
		{name: "diacritics ignored", a: "Universitat Zurich", b: "Universität Zürich", expected: true},
		{name: "special characters escaped", a: "C++ (lab)", b: "The C++ (Lab) group", expected: true},
		{name: "unbalanced bracket does not break", a: "Dept (Physics", b: "Dept (Physics, Oxford", expected: true},
		{name: "sentinel on subscriber side", a: "IGNORE-AFFILIATION", b: "anything at all", expected: true},
		{name: "sentinel on notification side", a: "University of Edinburgh", b: "ignore-affiliation", expected: true},
		{name: "empty subscriber term", a: "", b: "University of Edinburgh", expected: false},
		{name: "cyrillic prefix of longer word", a: "мгу", b: "мгупс институт", expected: false},
		{name: "cyrillic whole word", a: "мгу", b: "кафедра мгу москва", expected: true},
		{name: "suffix of word with leading non ascii letter", a: "rsted", b: "Ørsted Institute", expected: false},
		{name: "word preceded by non ascii letter", a: "oslo", b: "Øoslo dept", expected: false},
		{name: "ascii prefix of longer word", a: "mit", b: "mitte university", expected: false},
		{name: "word at end of value", a: "mit", b: "dept of physics, mit", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ExactSubstring(tt.a, tt.b)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestExactSubstring_ExplanationQuotesOriginals(t *testing.T) {
	explanation, ok := ExactSubstring("Edinburgh", "University of EDINBURGH")
	assert.True(t, ok)
	assert.Contains(t, explanation, "'Edinburgh'")
	assert.Contains(t, explanation, "'University of EDINBURGH'")
}

func TestDomainURL(t *testing.T) {
	tests := []struct {
		domain   string
		url      string
		expected bool
	}{
		{"ed.ac.uk", "http://www.ed.ac.uk/", true},
		{"ed.ac.uk", "ic.ac.uk", false},
		{"https://www.ed.ac.uk/about", "ed.ac.uk", true},
		{"ed.ac.uk", "https://med.ac.uk/", true},
		{"ac.uk", "http://bac.uk/", true},
		{"http://bac.uk/", "ac.uk", true},
		{"", "http://www.ed.ac.uk/", false},
	}

	for _, tt := range tests {
		t.Run(tt.domain+"|"+tt.url, func(t *testing.T) {
			_, ok := DomainURL(tt.domain, tt.url)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestDomainEmail(t *testing.T) {
	_, ok := DomainEmail("ed.ac.uk", "someone@inf.ed.ac.uk")
	assert.True(t, ok)

	_, ok = DomainEmail("http://ed.ac.uk/", "someone@ED.AC.UK")
	assert.True(t, ok)

	_, ok = DomainEmail("ed.ac.uk", "someone@")
	assert.False(t, ok, "empty email domain is not matchable")

	_, ok = DomainEmail("ed.ac.uk", "someone@ic.ac.uk")
	assert.False(t, ok)

	_, ok = DomainEmail("med.ac.uk", "x@dolbymed.ac.uk")
	assert.True(t, ok, "suffix test is not aligned to labels")
}

func TestAuthorMatch(t *testing.T) {
	orcid := models.Identifier{Type: "orcid", ID: "0000-0002-1825-0097"}

	_, ok := AuthorMatch(orcid, models.Identifier{Type: "ORCID", ID: " 0000-0002-1825-0097 "})
	assert.True(t, ok)

	_, ok = AuthorMatch(orcid, models.Identifier{Type: "scopus", ID: "0000-0002-1825-0097"})
	assert.False(t, ok, "type must be equal")
}

func TestAuthorStringMatch(t *testing.T) {
	_, ok := AuthorStringMatch("0000-0002-1825-0097", models.Identifier{Type: "orcid", ID: "0000-0002-1825-0097"})
	assert.True(t, ok)

	_, ok = AuthorStringMatch("0000-0002-1825-0097", models.Identifier{Type: "scopus", ID: "0000-0002-1825-0097"})
	assert.True(t, ok, "type is ignored")

	_, ok = AuthorStringMatch("someone else", models.Identifier{Type: "orcid", ID: "0000-0002-1825-0097"})
	assert.False(t, ok)
}

func TestPostcodeMatch(t *testing.T) {
	_, ok := PostcodeMatch("HP3 9AA", "hp39aa")
	assert.True(t, ok)

	_, ok = PostcodeMatch(" hp3  9aa", "HP39AA")
	assert.True(t, ok)

	_, ok = PostcodeMatch("HP3 9AA", "HP3 9AB")
	assert.False(t, ok)
}

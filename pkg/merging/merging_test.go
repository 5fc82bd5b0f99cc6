package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

func TestSameEntity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     models.Author
		expected bool
	}{
		{
			name:     "shared identifier pair",
			a:        models.Author{Identifiers: []models.Identifier{{Type: "orcid", ID: "1"}, {Type: "email", ID: "a@x.org"}}},
			b:        models.Author{Identifiers: []models.Identifier{{Type: "EMAIL", ID: "A@x.org"}}},
			expected: true,
		},
		{
			name:     "same id different type",
			a:        models.Author{Identifiers: []models.Identifier{{Type: "orcid", ID: "1"}}},
			b:        models.Author{Identifiers: []models.Identifier{{Type: "scopus", ID: "1"}}},
			expected: false,
		},
		{
			name:     "identifiers disagree even with same name",
			a:        models.Author{Name: models.PersonName{Fullname: "Ada"}, Identifiers: []models.Identifier{{Type: "orcid", ID: "1"}}},
			b:        models.Author{Name: models.PersonName{Fullname: "Ada"}, Identifiers: []models.Identifier{{Type: "orcid", ID: "2"}}},
			expected: false,
		},
		{
			name:     "no identifiers falls back to name",
			a:        models.Author{Name: models.PersonName{Fullname: "Ada Lovelace"}},
			b:        models.Author{Name: models.PersonName{Firstname: "ada", Surname: "lovelace"}, Identifiers: []models.Identifier{{Type: "orcid", ID: "1"}}},
			expected: true,
		},
		{
			name:     "no identifiers and no name",
			a:        models.Author{},
			b:        models.Author{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SameEntity(tt.a, tt.b, AuthorRule))
		})
	}
}

func TestMergeEntities_FillsSharedAuthorWithoutDuplicating(t *testing.T) {
	existing := []models.Author{
		{
			Name:        models.PersonName{Surname: "Lovelace"},
			Identifiers: []models.Identifier{{Type: "orcid", ID: "0000-0001"}},
		},
	}
	incoming := []models.Author{
		{
			Name:         models.PersonName{Firstname: "Ada", Surname: "Byron"},
			Identifiers:  []models.Identifier{{Type: "orcid", ID: "0000-0001"}, {Type: "email", ID: "ada@ed.ac.uk"}},
			Affiliations: []models.Affiliation{{Org: "University of Edinburgh"}},
		},
		{
			Name: models.PersonName{Fullname: "Charles Babbage"},
		},
	}

	merged := MergeEntities(existing, incoming, AuthorRule)
	require.Len(t, merged, 2)

	ada := merged[0]
	assert.Equal(t, "Lovelace", ada.Name.Surname, "existing scalar wins")
	assert.Equal(t, "Ada", ada.Name.Firstname, "missing scalar filled")
	assert.Equal(t, []models.Identifier{{Type: "orcid", ID: "0000-0001"}, {Type: "email", ID: "ada@ed.ac.uk"}}, ada.Identifiers)
	assert.Equal(t, []models.Affiliation{{Org: "University of Edinburgh"}}, ada.Affiliations)
	assert.Equal(t, "Charles Babbage", merged[1].Name.Fullname)

	// inputs are untouched
	assert.Len(t, existing[0].Identifiers, 1)
	assert.Empty(t, existing[0].Affiliations)
	assert.Empty(t, existing[0].Name.Firstname)
}

func TestMergeEntities_AffiliationsByName(t *testing.T) {
	existing := []models.Affiliation{{Org: "University of Edinburgh"}}
	incoming := []models.Affiliation{{Org: "university of  edinburgh", Postcode: "EH8 9AB"}, {Org: "Imperial College"}}

	merged := MergeEntities(existing, incoming, AffiliationRule)
	require.Len(t, merged, 2)
	assert.Equal(t, "University of Edinburgh", merged[0].Org)
	assert.Equal(t, "EH8 9AB", merged[0].Postcode)
	assert.Equal(t, "Imperial College", merged[1].Org)
}

func TestMergeMetadata(t *testing.T) {
	existing := models.Metadata{
		Article: models.Article{
			Title:       "Routing Publications",
			Identifiers: []models.Identifier{{Type: "doi", ID: "10.1000/xyz"}},
			Subjects:    []string{"Computing"},
		},
		Journal:  models.Journal{Identifiers: []models.Identifier{{Type: "issn", ID: "1234-5678"}}},
		Projects: []models.Project{{Name: "Router", GrantNumbers: []string{"EP/1"}}},
	}
	incoming := models.Metadata{
		Article: models.Article{
			Title:       "A different title",
			Abstract:    "Abstract text",
			Identifiers: []models.Identifier{{Type: "DOI", ID: "10.1000/XYZ"}, {Type: "pmid", ID: "42"}},
			Subjects:    []string{"computing", "Libraries"},
		},
		Journal:         models.Journal{Title: "Journal of Routing", Identifiers: []models.Identifier{{Type: "eissn", ID: "8765-4321"}}},
		Projects:        []models.Project{{Name: "router", GrantNumbers: []string{"EP/1", "EP/2"}}},
		PublicationDate: "2021-05-01",
		EmbargoMonths:   6,
	}

	result := MergeMetadata(existing, incoming)
	md := result.Metadata

	assert.Equal(t, "Routing Publications", md.Article.Title)
	assert.Equal(t, "Abstract text", md.Article.Abstract)
	assert.Equal(t, "Journal of Routing", md.Journal.Title)
	assert.Equal(t, "2021-05-01", md.PublicationDate)
	assert.Equal(t, 6, md.EmbargoMonths)
	assert.Len(t, md.Article.Identifiers, 2)
	assert.Equal(t, []string{"Computing", "Libraries"}, md.Article.Subjects)
	assert.Len(t, md.Journal.Identifiers, 2)
	require.Len(t, md.Projects, 1)
	assert.Equal(t, []string{"EP/1", "EP/2"}, md.Projects[0].GrantNumbers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, FieldConflict{Field: "article.title", Kept: "Routing Publications", Rejected: "A different title"}, result.Conflicts[0])
}

func TestMergeMetadata_EmptyIncomingIsIdentity(t *testing.T) {
	existing := models.Metadata{
		Article: models.Article{Title: "Title", Keywords: []string{"a"}},
		Authors: []models.Author{{Name: models.PersonName{Fullname: "Ada"}}},
	}
	result := MergeMetadata(existing, models.Metadata{})
	assert.Equal(t, existing, result.Metadata)
	assert.Empty(t, result.Conflicts)
}

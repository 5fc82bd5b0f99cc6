package matching

import (
	"strings"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

// BuildMatchData projects notification metadata into matchable fields. The result
// is de-duplicated per field.
func BuildMatchData(md models.Metadata) models.MatchData {
	var data models.MatchData

	people := make([]models.Author, 0, len(md.Authors)+len(md.Contributors))
	people = append(people, md.Authors...)
	people = append(people, md.Contributors...)

	for _, person := range people {
		for _, id := range person.Identifiers {
			switch strings.ToLower(id.Type) {
			case "email":
				data.Emails = append(data.Emails, id.ID)
			case "url":
				data.URLs = append(data.URLs, id.ID)
			default:
				data.AuthorIDs = append(data.AuthorIDs, id)
			}
		}
		if person.Organisation != "" {
			data.Affiliations = append(data.Affiliations, person.Organisation)
		}
		for _, aff := range person.Affiliations {
			if text := aff.Text(); text != "" {
				data.Affiliations = append(data.Affiliations, text)
			}
			if aff.Postcode != "" {
				data.Postcodes = append(data.Postcodes, aff.Postcode)
			}
			data.URLs = append(data.URLs, models.IdentifiersOfType(aff.Identifiers, "url")...)
		}
	}

	for _, project := range md.Projects {
		data.Grants = append(data.Grants, project.GrantNumbers...)
	}

	data.Keywords = append(data.Keywords, md.Article.Keywords...)
	data.Keywords = append(data.Keywords, md.Article.Subjects...)

	if md.Article.Type != "" {
		data.ContentTypes = append(data.ContentTypes, md.Article.Type)
	}

	return data.Merge(models.MatchData{})
}

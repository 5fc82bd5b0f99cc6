package merging

import (
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
)

// FieldConflict records a scalar field where both sides had different values.
// The existing value is always the one kept.
type FieldConflict struct {
	Field    string `json:"field"`
	Kept     string `json:"kept"`
	Rejected string `json:"rejected"`
}

// MetadataResult is the outcome of MergeMetadata
type MetadataResult struct {
	Metadata  models.Metadata
	Conflicts []FieldConflict
}

// MergeMetadata merges incoming (extracted) metadata into existing. Scalars keep the
// first non-empty value; lists are unioned with identifier-aware de-duplication.
func MergeMetadata(existing, incoming models.Metadata) MetadataResult {
	m := &scalarMerger{}
	out := models.Metadata{
		Journal: models.Journal{
			Title:       m.pick("journal.title", existing.Journal.Title, incoming.Journal.Title),
			Abbrev:      m.pick("journal.abbrev", existing.Journal.Abbrev, incoming.Journal.Abbrev),
			Volume:      m.pick("journal.volume", existing.Journal.Volume, incoming.Journal.Volume),
			Issue:       m.pick("journal.issue", existing.Journal.Issue, incoming.Journal.Issue),
			Publishers:  UnionStrings(existing.Journal.Publishers, incoming.Journal.Publishers),
			Identifiers: UnionIdentifiers(existing.Journal.Identifiers, incoming.Journal.Identifiers),
		},
		Article: models.Article{
			Title:       m.pick("article.title", existing.Article.Title, incoming.Article.Title),
			Subtitle:    m.pick("article.subtitle", existing.Article.Subtitle, incoming.Article.Subtitle),
			Type:        m.pick("article.type", existing.Article.Type, incoming.Article.Type),
			Version:     m.pick("article.version", existing.Article.Version, incoming.Article.Version),
			StartPage:   m.pick("article.start_page", existing.Article.StartPage, incoming.Article.StartPage),
			EndPage:     m.pick("article.end_page", existing.Article.EndPage, incoming.Article.EndPage),
			Language:    UnionStrings(existing.Article.Language, incoming.Article.Language),
			Abstract:    m.pick("article.abstract", existing.Article.Abstract, incoming.Article.Abstract),
			Identifiers: UnionIdentifiers(existing.Article.Identifiers, incoming.Article.Identifiers),
			Subjects:    UnionStrings(existing.Article.Subjects, incoming.Article.Subjects),
			Keywords:    UnionStrings(existing.Article.Keywords, incoming.Article.Keywords),
		},
		Authors:           MergeEntities(existing.Authors, incoming.Authors, AuthorRule),
		Contributors:      MergeEntities(existing.Contributors, incoming.Contributors, AuthorRule),
		Projects:          MergeEntities(existing.Projects, incoming.Projects, ProjectRule),
		Licenses:          MergeEntities(existing.Licenses, incoming.Licenses, LicenseRefRule),
		Publisher:         m.pick("publisher", existing.Publisher, incoming.Publisher),
		PublicationDate:   m.pick("publication_date", existing.PublicationDate, incoming.PublicationDate),
		PublicationStatus: m.pick("publication_status", existing.PublicationStatus, incoming.PublicationStatus),
		AcceptedDate:      m.pick("accepted_date", existing.AcceptedDate, incoming.AcceptedDate),
		EmbargoMonths:     existing.EmbargoMonths,
	}
	if out.EmbargoMonths == 0 {
		out.EmbargoMonths = incoming.EmbargoMonths
	}

	return MetadataResult{Metadata: out, Conflicts: m.conflicts}
}

type scalarMerger struct {
	conflicts []FieldConflict
}

func (s *scalarMerger) pick(field, existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming != "" && normalizers.Normalize(existing) != normalizers.Normalize(incoming) {
		s.conflicts = append(s.conflicts, FieldConflict{Field: field, Kept: existing, Rejected: incoming})
	}
	return existing
}

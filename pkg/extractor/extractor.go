// Package extractor reads notification metadata and match data out of a content
// package's metadata document using per-format JMESPath mappings.
package extractor

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// UnsupportedFormatError is returned for packaging formats without a mapping
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("no extraction mapping for packaging format %q", e.Format)
}

// Extractor implements the routing extractor over a DocumentSource
type Extractor struct {
	source   DocumentSource
	mappings map[string]Mapping
	eval     *Evaluator
	logger   ectologger.Logger
}

// New creates an Extractor. Every mapping expression is compiled up front.
func New(source DocumentSource, mappings map[string]Mapping, logger ectologger.Logger) (*Extractor, error) {
	eval := NewEvaluator()
	for format, m := range mappings {
		if err := m.Validate(eval); err != nil {
			return nil, fmt.Errorf("mapping for %s: %w", format, err)
		}
	}
	return &Extractor{
		source:   source,
		mappings: mappings,
		eval:     eval,
		logger:   logger,
	}, nil
}

// Formats returns the packaging formats with a mapping
func (e *Extractor) Formats() []string {
	out := make([]string, 0, len(e.mappings))
	for f := range e.mappings {
		out = append(out, f)
	}
	return out
}

// Extract fetches the package's metadata document and maps it
func (e *Extractor) Extract(ctx context.Context, notificationID, packagingFormat string) (models.Metadata, models.MatchData, error) {
	ctx, span := tracing.StartSpan(ctx, "extractor.Extractor.Extract")
	defer span.End()

	mapping, ok := e.mappings[packagingFormat]
	if !ok {
		return models.Metadata{}, models.MatchData{}, &UnsupportedFormatError{Format: packagingFormat}
	}

	doc, err := e.source.Document(ctx, notificationID, packagingFormat)
	if err != nil {
		return models.Metadata{}, models.MatchData{}, err
	}

	md, err := e.metadata(mapping.Metadata, doc)
	if err != nil {
		return models.Metadata{}, models.MatchData{}, err
	}
	data, err := e.matchData(mapping.Match, doc)
	if err != nil {
		return models.Metadata{}, models.MatchData{}, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id":  notificationID,
		"packaging_format": packagingFormat,
		"authors":          len(md.Authors),
		"issns":            len(md.Journal.Identifiers),
	}).Debug("Extracted package metadata")
	return md, data, nil
}

// ExtractDocument maps an already decoded document, used to preview mappings
func (e *Extractor) ExtractDocument(packagingFormat string, doc any) (models.Metadata, models.MatchData, error) {
	mapping, ok := e.mappings[packagingFormat]
	if !ok {
		return models.Metadata{}, models.MatchData{}, &UnsupportedFormatError{Format: packagingFormat}
	}
	md, err := e.metadata(mapping.Metadata, doc)
	if err != nil {
		return models.Metadata{}, models.MatchData{}, err
	}
	data, err := e.matchData(mapping.Match, doc)
	return md, data, err
}

// reader collects the first evaluation error so field reads stay one line each
type reader struct {
	eval *Evaluator
	err  error
}

func (r *reader) str(expr string, data any) string {
	if r.err != nil {
		return ""
	}
	s, err := r.eval.EvaluateString(expr, data)
	r.err = err
	return s
}

func (r *reader) strs(expr string, data any, normalizer string) []string {
	if r.err != nil {
		return nil
	}
	values, err := r.eval.EvaluateStrings(expr, data)
	if err != nil {
		r.err = err
		return nil
	}
	if normalizer == "" {
		return values
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := normalizers.Apply(v, normalizer); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (r *reader) items(expr string, data any) []any {
	if r.err != nil {
		return nil
	}
	items, err := r.eval.EvaluateSlice(expr, data)
	r.err = err
	return items
}

func (r *reader) integer(expr string, data any) int {
	if r.err != nil {
		return 0
	}
	n, err := r.eval.EvaluateInt(expr, data)
	r.err = err
	return n
}

func (e *Extractor) metadata(m MetadataMapping, doc any) (models.Metadata, error) {
	r := &reader{eval: e.eval}

	var md models.Metadata
	md.Article.Title = r.str(m.Title, doc)
	md.Article.Type = r.str(m.ArticleType, doc)
	if doi := r.str(m.DOI, doc); doi != "" {
		md.Article.Identifiers = append(md.Article.Identifiers, models.Identifier{Type: "doi", ID: doi})
	}
	md.Article.Subjects = r.strs(m.Subjects, doc, "trim")
	md.Article.Keywords = r.strs(m.Keywords, doc, "trim")

	md.Journal.Title = r.str(m.JournalTitle, doc)
	if publisher := r.str(m.Publisher, doc); publisher != "" {
		md.Journal.Publishers = []string{publisher}
		md.Publisher = publisher
	}
	for _, issn := range r.strs(m.ISSNs, doc, "issn") {
		md.Journal.Identifiers = append(md.Journal.Identifiers, models.Identifier{Type: "issn", ID: issn})
	}
	for _, issn := range r.strs(m.EISSNs, doc, "issn") {
		md.Journal.Identifiers = append(md.Journal.Identifiers, models.Identifier{Type: "eissn", ID: issn})
	}

	md.PublicationDate = r.str(m.PublicationDate, doc)
	md.PublicationStatus = r.str(m.PublicationStatus, doc)
	md.EmbargoMonths = r.integer(m.EmbargoMonths, doc)

	for _, item := range r.items(m.Authors.Items, doc) {
		a := models.Author{
			Type: "author",
			Name: models.PersonName{
				Fullname:  r.str(m.Authors.Fullname, item),
				Firstname: r.str(m.Authors.Firstname, item),
				Surname:   r.str(m.Authors.Surname, item),
			},
		}
		for _, email := range r.strs(m.Authors.Emails, item, "trim") {
			a.Identifiers = append(a.Identifiers, models.Identifier{Type: "email", ID: email})
		}
		for _, orcid := range r.strs(m.Authors.ORCIDs, item, "trim") {
			a.Identifiers = append(a.Identifiers, models.Identifier{Type: "orcid", ID: orcid})
		}
		postcodes := r.strs(m.Authors.Postcodes, item, "trim")
		for i, aff := range r.strs(m.Authors.Affiliations, item, "trim") {
			affiliation := models.Affiliation{Raw: aff}
			if i < len(postcodes) {
				affiliation.Postcode = postcodes[i]
			}
			a.Affiliations = append(a.Affiliations, affiliation)
		}
		if a.Name.Display() == "" && len(a.Identifiers) == 0 {
			continue
		}
		md.Authors = append(md.Authors, a)
	}

	for _, item := range r.items(m.Projects.Items, doc) {
		p := models.Project{
			Name:         r.str(m.Projects.Name, item),
			GrantNumbers: r.strs(m.Projects.Grants, item, "trim"),
		}
		if p.Name == "" && len(p.GrantNumbers) == 0 {
			continue
		}
		md.Projects = append(md.Projects, p)
	}

	for _, item := range r.items(m.Licenses.Items, doc) {
		l := models.LicenseRef{
			Title: r.str(m.Licenses.Title, item),
			Type:  r.str(m.Licenses.Type, item),
			URL:   r.str(m.Licenses.URL, item),
		}
		if l.Title == "" && l.Type == "" && l.URL == "" {
			continue
		}
		md.Licenses = append(md.Licenses, l)
	}

	if r.err != nil {
		return models.Metadata{}, r.err
	}
	return md, nil
}

func (e *Extractor) matchData(m MatchMapping, doc any) (models.MatchData, error) {
	r := &reader{eval: e.eval}
	data := models.MatchData{
		URLs:         r.strs(m.URLs, doc, "trim"),
		Emails:       r.strs(m.Emails, doc, "trim"),
		Affiliations: r.strs(m.Affiliations, doc, "trim"),
		Postcodes:    r.strs(m.Postcodes, doc, "trim"),
		Grants:       r.strs(m.Grants, doc, "trim"),
		Keywords:     r.strs(m.Keywords, doc, "trim"),
		ContentTypes: r.strs(m.ContentTypes, doc, "trim"),
	}
	if r.err != nil {
		return models.MatchData{}, r.err
	}
	// union with nothing drops duplicates and empty values
	return data.Merge(models.MatchData{}), nil
}

package extractor

import (
	"fmt"
	"reflect"
)

// Mapping holds the JMESPath expressions that read one packaging format's metadata
// document. Expressions under Authors, Projects and Licenses are evaluated against
// each item their Items expression yields.
type Mapping struct {
	Metadata MetadataMapping `mapstructure:"metadata" json:"metadata" yaml:"metadata"`
	Match    MatchMapping    `mapstructure:"match" json:"match" yaml:"match"`
}

// MetadataMapping locates bibliographic fields
type MetadataMapping struct {
	Title             string         `mapstructure:"title" json:"title,omitempty"`
	ArticleType       string         `mapstructure:"article_type" json:"article_type,omitempty"`
	DOI               string         `mapstructure:"doi" json:"doi,omitempty"`
	Subjects          string         `mapstructure:"subjects" json:"subjects,omitempty"`
	Keywords          string         `mapstructure:"keywords" json:"keywords,omitempty"`
	JournalTitle      string         `mapstructure:"journal_title" json:"journal_title,omitempty"`
	Publisher         string         `mapstructure:"publisher" json:"publisher,omitempty"`
	ISSNs             string         `mapstructure:"issns" json:"issns,omitempty"`
	EISSNs            string         `mapstructure:"eissns" json:"eissns,omitempty"`
	PublicationDate   string         `mapstructure:"publication_date" json:"publication_date,omitempty"`
	PublicationStatus string         `mapstructure:"publication_status" json:"publication_status,omitempty"`
	EmbargoMonths     string         `mapstructure:"embargo_months" json:"embargo_months,omitempty"`
	Authors           AuthorMapping  `mapstructure:"authors" json:"authors"`
	Projects          ProjectMapping `mapstructure:"projects" json:"projects"`
	Licenses          LicenseMapping `mapstructure:"licenses" json:"licenses"`
}

// AuthorMapping locates authors and, relative to each author, their fields
type AuthorMapping struct {
	Items        string `mapstructure:"items" json:"items,omitempty"`
	Fullname     string `mapstructure:"fullname" json:"fullname,omitempty"`
	Firstname    string `mapstructure:"firstname" json:"firstname,omitempty"`
	Surname      string `mapstructure:"surname" json:"surname,omitempty"`
	Emails       string `mapstructure:"emails" json:"emails,omitempty"`
	ORCIDs       string `mapstructure:"orcids" json:"orcids,omitempty"`
	Affiliations string `mapstructure:"affiliations" json:"affiliations,omitempty"`
	Postcodes    string `mapstructure:"postcodes" json:"postcodes,omitempty"`
}

// ProjectMapping locates funded projects
type ProjectMapping struct {
	Items  string `mapstructure:"items" json:"items,omitempty"`
	Name   string `mapstructure:"name" json:"name,omitempty"`
	Grants string `mapstructure:"grants" json:"grants,omitempty"`
}

// LicenseMapping locates declared licenses
type LicenseMapping struct {
	Items string `mapstructure:"items" json:"items,omitempty"`
	Title string `mapstructure:"title" json:"title,omitempty"`
	Type  string `mapstructure:"type" json:"type,omitempty"`
	URL   string `mapstructure:"url" json:"url,omitempty"`
}

// MatchMapping locates matchable values that do not belong to a metadata field,
// such as addresses found in the full text
type MatchMapping struct {
	URLs         string `mapstructure:"urls" json:"urls,omitempty"`
	Emails       string `mapstructure:"emails" json:"emails,omitempty"`
	Affiliations string `mapstructure:"affiliations" json:"affiliations,omitempty"`
	Postcodes    string `mapstructure:"postcodes" json:"postcodes,omitempty"`
	Grants       string `mapstructure:"grants" json:"grants,omitempty"`
	Keywords     string `mapstructure:"keywords" json:"keywords,omitempty"`
	ContentTypes string `mapstructure:"content_types" json:"content_types,omitempty"`
}

// Validate compiles every expression of the mapping
func (m Mapping) Validate(eval *Evaluator) error {
	return validateStrings(eval, reflect.ValueOf(m), "")
}

func validateStrings(eval *Evaluator, v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := validateStrings(eval, v.Field(i), path+"."+v.Type().Field(i).Name); err != nil {
				return err
			}
		}
	case reflect.String:
		if err := eval.Validate(v.String()); err != nil {
			return fmt.Errorf("%s: invalid expression %q: %w", path[1:], v.String(), err)
		}
	}
	return nil
}

// JATS is the packaging format of JATS XML packages rendered to JSON by the ingest service
const JATS = "https://pubrouter.jisc.ac.uk/FilesAndJATS"

// DefaultMappings returns the built-in mappings keyed by packaging format
func DefaultMappings() map[string]Mapping {
	return map[string]Mapping{
		JATS: {
			Metadata: MetadataMapping{
				Title:             "front.article_meta.title_group.article_title",
				ArticleType:       "article_type",
				DOI:               "front.article_meta.article_id[?pub_id_type=='doi'].value | [0]",
				Subjects:          "front.article_meta.article_categories.subj_group[].subject[]",
				Keywords:          "front.article_meta.kwd_group[].kwd[]",
				JournalTitle:      "front.journal_meta.journal_title_group.journal_title",
				Publisher:         "front.journal_meta.publisher.publisher_name",
				ISSNs:             "front.journal_meta.issn[?pub_type=='ppub' || !pub_type].value",
				EISSNs:            "front.journal_meta.issn[?pub_type=='epub'].value",
				PublicationDate:   "front.article_meta.pub_date[?pub_type=='epub' || date_type=='pub'].iso | [0]",
				PublicationStatus: "front.article_meta.publication_status",
				EmbargoMonths:     "front.article_meta.permissions.embargo_months",
				Authors: AuthorMapping{
					Items:        "front.article_meta.contrib_group[].contrib[] | [?contrib_type=='author']",
					Fullname:     "string_name",
					Firstname:    "name.given_names",
					Surname:      "name.surname",
					Emails:       "email",
					ORCIDs:       "contrib_id[?contrib_id_type=='orcid'].value",
					Affiliations: "aff[].text",
					Postcodes:    "aff[].postal_code",
				},
				Projects: ProjectMapping{
					Items:  "front.article_meta.funding_group[].award_group[]",
					Name:   "funding_source.institution",
					Grants: "award_id",
				},
				Licenses: LicenseMapping{
					Items: "front.article_meta.permissions.license",
					Title: "text",
					Type:  "license_type",
					URL:   "href",
				},
			},
			Match: MatchMapping{
				URLs:         "front.article_meta.aff[].uri",
				Emails:       "front.article_meta.author_notes.corresp[].email",
				Affiliations: "front.article_meta.aff[].text",
				Postcodes:    "front.article_meta.aff[].postal_code",
				Grants:       "back.funding_statement.award_id",
			},
		},
	}
}

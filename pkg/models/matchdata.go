package models

// MatchData is the matchable projection of a notification's metadata
type MatchData struct {
	URLs         []string     `json:"urls,omitempty"`
	Emails       []string     `json:"emails,omitempty"`
	Affiliations []string     `json:"affiliations,omitempty"`
	AuthorIDs    []Identifier `json:"author_ids,omitempty"`
	Postcodes    []string     `json:"postcodes,omitempty"`
	Keywords     []string     `json:"keywords,omitempty"`
	Grants       []string     `json:"grants,omitempty"`
	ContentTypes []string     `json:"content_types,omitempty"`
}

// IsEmpty reports whether no field carries a value
func (m MatchData) IsEmpty() bool {
	return len(m.URLs) == 0 && len(m.Emails) == 0 && len(m.Affiliations) == 0 &&
		len(m.AuthorIDs) == 0 && len(m.Postcodes) == 0 && len(m.Keywords) == 0 &&
		len(m.Grants) == 0 && len(m.ContentTypes) == 0
}

// Merge returns the per-field union of m and other with duplicates removed.
// Values from m come first.
func (m MatchData) Merge(other MatchData) MatchData {
	return MatchData{
		URLs:         unionStrings(m.URLs, other.URLs),
		Emails:       unionStrings(m.Emails, other.Emails),
		Affiliations: unionStrings(m.Affiliations, other.Affiliations),
		AuthorIDs:    unionIdentifiers(m.AuthorIDs, other.AuthorIDs),
		Postcodes:    unionStrings(m.Postcodes, other.Postcodes),
		Keywords:     unionStrings(m.Keywords, other.Keywords),
		Grants:       unionStrings(m.Grants, other.Grants),
		ContentTypes: unionStrings(m.ContentTypes, other.ContentTypes),
	}
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unionIdentifiers(a, b []Identifier) []Identifier {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[Identifier]struct{}, len(a)+len(b))
	out := make([]Identifier, 0, len(a)+len(b))
	for _, list := range [][]Identifier{a, b} {
		for _, v := range list {
			if v.ID == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

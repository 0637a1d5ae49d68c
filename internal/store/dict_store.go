package store

import "strings"

// DomainKeywords is a curated keyword set steering selection toward accounts
// specialised in a subject (the "vertical domain" feature).
type DomainKeywords struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Keywords []string `json:"keywords"`
	Enable   bool     `json:"enable"`
	Sort     int      `json:"sort,omitempty"`
}

// BannedKeywords is a keyword set that rejects prompts before submission.
type BannedKeywords struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	Enable   bool     `json:"enable"`
}

// NormalizeKeywords trims, lower-cases and de-duplicates a keyword list.
func NormalizeKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// DictStore persists the domain and banned keyword dictionaries.
type DictStore interface {
	ListDomains() ([]*DomainKeywords, error)
	SaveDomain(d *DomainKeywords) error
	DeleteDomain(id string) error

	ListBanned() ([]*BannedKeywords, error)
	SaveBanned(b *BannedKeywords) error
	DeleteBanned(id string) error
}

// Package dict serves time-bounded derived views over the keyword
// dictionaries: the banned-word scanner and the vertical-domain matcher.
package dict

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/WGwuzhi/midjourney-proxy/internal/locks"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
)

const (
	cacheTTL       = 30 * time.Minute
	bannedCacheKey = "banned"
	domainCacheKey = "domains"
)

// promptSplitRe tokenizes a prompt for domain matching: commas, periods,
// dashes and whitespace are all separators.
var promptSplitRe = regexp.MustCompile(`[,.\-\s]+`)

// Cache is the derived keyword view. Reads rebuild lazily after expiry or an
// explicit Clear; concurrent rebuilds collapse through a singleflight.
type Cache struct {
	dicts  store.DictStore
	cache  *gocache.Cache
	flight locks.Flight
}

// New returns a cache over the dictionary store.
func New(dicts store.DictStore) *Cache {
	return &Cache{
		dicts: dicts,
		cache: gocache.New(cacheTTL, 10*time.Minute),
	}
}

// ClearBanned evicts the banned-word view immediately.
func (c *Cache) ClearBanned() { c.cache.Delete(bannedCacheKey) }

// ClearDomains evicts the domain view immediately.
func (c *Cache) ClearDomains() { c.cache.Delete(domainCacheKey) }

type bannedView struct {
	words []string
	res   []*regexp.Regexp
}

func (c *Cache) bannedView() (*bannedView, error) {
	if v, ok := c.cache.Get(bannedCacheKey); ok {
		return v.(*bannedView), nil
	}
	v, err := c.flight.Do(bannedCacheKey, func() (any, error) {
		sets, err := c.dicts.ListBanned()
		if err != nil {
			return nil, fmt.Errorf("list banned keywords: %w", err)
		}
		view := &bannedView{}
		for _, set := range sets {
			if !set.Enable {
				continue
			}
			for _, w := range store.NormalizeKeywords(set.Keywords) {
				view.words = append(view.words, w)
				view.res = append(view.res, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
			}
		}
		c.cache.SetDefault(bannedCacheKey, view)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*bannedView), nil
}

// CheckBanned scans the lower-cased prompt with word-boundary matching and
// returns the offending substring as it appeared in the original prompt.
func (c *Cache) CheckBanned(prompt string) (string, error) {
	view, err := c.bannedView()
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(prompt)
	for _, re := range view.res {
		loc := re.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		return prompt[loc[0]:loc[1]], nil
	}
	return "", nil
}

type domainView struct {
	// keyword → set of domain ids containing it
	byKeyword map[string][]string
}

func (c *Cache) domainView() (*domainView, error) {
	if v, ok := c.cache.Get(domainCacheKey); ok {
		return v.(*domainView), nil
	}
	v, err := c.flight.Do(domainCacheKey, func() (any, error) {
		sets, err := c.dicts.ListDomains()
		if err != nil {
			return nil, fmt.Errorf("list domain keywords: %w", err)
		}
		view := &domainView{byKeyword: make(map[string][]string)}
		for _, set := range sets {
			if !set.Enable {
				continue
			}
			for _, w := range store.NormalizeKeywords(set.Keywords) {
				view.byKeyword[w] = append(view.byKeyword[w], set.ID)
			}
		}
		c.cache.SetDefault(domainCacheKey, view)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domainView), nil
}

// MatchDomains tokenizes the prompt and returns the ids of enabled domain
// sets containing any token or its naive plural.
func (c *Cache) MatchDomains(prompt string) ([]string, error) {
	view, err := c.domainView()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, tok := range promptSplitRe.Split(strings.ToLower(prompt), -1) {
		if tok == "" {
			continue
		}
		// Keywords are stored singular; "cars" must hit "car", and a plural
		// keyword still hits its singular token.
		cands := []string{tok, tok + "s"}
		if s := strings.TrimSuffix(tok, "s"); s != tok && s != "" {
			cands = append(cands, s)
		}
		for _, cand := range cands {
			for _, id := range view.byKeyword[cand] {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const defaultScrollCount = 3

// Platform describes how to search one job board.
type Platform struct {
	Name string
	// SearchURL is a template with two %s verbs: keyword and location.
	SearchURL      string
	ResultSelector string
	Cards          CardSelectors
	// IDPattern captures the platform job id from a detail URL in group 1.
	IDPattern   *regexp.Regexp
	ScrollCount int
}

// BuildSearchURL fills the search template with escaped values.
func (p Platform) BuildSearchURL(keyword, location string) string {
	return fmt.Sprintf(p.SearchURL, url.QueryEscape(strings.TrimSpace(keyword)), url.QueryEscape(strings.TrimSpace(location)))
}

// ParseJobID extracts the platform job id from a detail URL.
func (p Platform) ParseJobID(rawURL string) (string, bool) {
	if p.IDPattern == nil || rawURL == "" {
		return "", false
	}
	m := p.IDPattern.FindStringSubmatch(rawURL)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func (p Platform) scrolls() int {
	if p.ScrollCount > 0 {
		return p.ScrollCount
	}
	return defaultScrollCount
}

var LinkedIn = Platform{
	Name:           "linkedin",
	SearchURL:      "https://www.linkedin.com/jobs/search/?keywords=%s&location=%s",
	ResultSelector: "ul.jobs-search__results-list",
	Cards: CardSelectors{
		Card:     "ul.jobs-search__results-list > li",
		Link:     "a.base-card__full-link",
		Title:    "h3.base-search-card__title",
		Company:  "h4.base-search-card__subtitle",
		Location: "span.job-search-card__location",
	},
	IDPattern:   regexp.MustCompile(`/jobs/view/(?:[^/?#]*-)?(\d+)`),
	ScrollCount: 3,
}

var Indeed = Platform{
	Name:           "indeed",
	SearchURL:      "https://www.indeed.com/jobs?q=%s&l=%s",
	ResultSelector: "#mosaic-provider-jobcards",
	Cards: CardSelectors{
		Card:     "div.job_seen_beacon",
		Link:     "h2.jobTitle a",
		Title:    "h2.jobTitle span",
		Company:  "[data-testid='company-name']",
		Location: "[data-testid='text-location']",
	},
	IDPattern:   regexp.MustCompile(`[?&]jk=([0-9a-fA-F]+)`),
	ScrollCount: 2,
}

// Registry holds the browser-driven platforms by name.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewRegistry returns a registry with the given platforms.
func NewRegistry(platforms ...Platform) *Registry {
	r := &Registry{platforms: make(map[string]Platform, len(platforms))}
	for _, p := range platforms {
		r.Register(p)
	}
	return r
}

// DefaultRegistry knows linkedin and indeed.
func DefaultRegistry() *Registry {
	return NewRegistry(LinkedIn, Indeed)
}

func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[strings.ToLower(p.Name)] = p
}

func (r *Registry) Lookup(name string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

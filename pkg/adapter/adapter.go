package adapter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
)

// Locator identifies one listing to fetch, optionally carrying native
// taxonomy ids the adapter already knows from enumeration. SeriesText is for
// sites whose detail pages never name the series: the label captured while
// walking the search tree rides along to the draft.
type Locator struct {
	URL        string
	SeriesText string
	Hint       *models.SourceTaxonomy
}

// SiteAdapter is the per-site crawling contract. Adapters are stateless
// beyond their Transport: EnumerateLocators walks the site's search surface
// and never returns the same URL twice, FetchAndParse turns one locator into
// a listing draft.
type SiteAdapter interface {
	Site() string
	EnumerateLocators(ctx context.Context, maxPages int) ([]Locator, error)
	FetchAndParse(ctx context.Context, loc Locator) (*models.ListingDraft, error)
	Close() error
}

// Deps is everything a concrete adapter needs at construction time.
type Deps struct {
	Transport   fetch.Transport
	RateLimiter *fetch.RateLimiter
	BaseURL     string        // Empty = the site's production base URL
	PageDelay   time.Duration // Pacing between search pages during enumeration
	Log         *logrus.Entry
}

// Known site names.
const (
	SiteAuto24     = "auto24"
	SiteAutodiiler = "autodiiler"
	SiteVeego      = "veego"
)

type factory func(deps Deps) SiteAdapter

var factories = map[string]factory{
	SiteAuto24:     func(d Deps) SiteAdapter { return NewAuto24(d) },
	SiteAutodiiler: func(d Deps) SiteAdapter { return NewAutodiiler(d) },
	SiteVeego:      func(d Deps) SiteAdapter { return NewVeego(d) },
}

// New constructs the adapter registered under site.
func New(site string, deps Deps) (SiteAdapter, error) {
	f, ok := factories[site]
	if !ok {
		return nil, fmt.Errorf("unknown site adapter %q (known: %v)", site, Sites())
	}
	return f(deps), nil
}

// Sites lists the registered adapter names, sorted.
func Sites() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

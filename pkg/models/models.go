package models

import "time"

// SourceTaxonomy carries a site's native taxonomy identifiers for a listing,
// when the adapter can recover them (e.g. from a search API payload).
// All fields are optional; empty string means "not provided".
type SourceTaxonomy struct {
	MakeKey   string
	SeriesKey string
	ModelKey  string
}

// ListingDraft is what an adapter produces for a single listing page before
// storage. Display strings are kept raw (site casing, diacritics); canonical
// ids are attached later by the resolver.
type ListingDraft struct {
	SourceSite   string
	SourceURL    string
	Title        string
	MakeText     string
	SeriesText   string
	ModelText    string
	Price        *float64
	Year         *int
	Mileage      *int64
	FuelType     string
	BodyType     string
	Transmission string
	Color        string
	Description  string
	ImageURL     string
	Taxonomy     *SourceTaxonomy // Native ids, if the site exposes them
}

// Listing is a stored listing row, draft fields plus canonical ids and
// bookkeeping timestamps. Canonical ids are nil until resolution succeeds.
type Listing struct {
	ID            int64
	SourceSite    string
	SourceURL     string
	Title         string
	MakeText      string
	SeriesText    string
	ModelText     string
	Price         *float64
	Year          *int
	Mileage       *int64
	FuelType      string
	BodyType      string
	Transmission  string
	Color         string
	Description   string
	ImageURL      string
	Taxonomy      SourceTaxonomy // Native site ids captured at crawl time
	MakeID        *int64
	SeriesID      *int64
	ModelID       *int64
	LastSeenRunID string
	LastSeenAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Make is a canonical vehicle make ("BMW").
type Make struct {
	ID    int64
	Label string
	Norm  string
}

// Series is a canonical model series under a make ("3. seeria" -> "3 seeria").
type Series struct {
	ID     int64
	MakeID int64
	Label  string
	Norm   string
}

// Model is a canonical model. SeriesID is 0 for standalone models that hang
// directly off the make.
type Model struct {
	ID       int64
	MakeID   int64
	SeriesID int64
	Label    string
	Norm     string
}

// Mapping links a site's native key and/or normalized label to a canonical
// entity, anchored by resolved parent ids (0 = no anchor at that level).
type Mapping struct {
	ID                int64
	SourceSite        string
	EntityType        string // "make", "series" or "model"
	MakeCanonicalID   int64
	SeriesCanonicalID int64
	SourceKey         string
	SourceNorm        string
	CanonicalID       int64
}

// Mapping entity types.
const (
	EntityMake   = "make"
	EntitySeries = "series"
	EntityModel  = "model"
)

// SourceModel is a leaf in a site's taxonomy tree.
type SourceModel struct {
	Key   string // Site-native id (may be empty)
	Label string
}

// SourceSeries groups models under a series in a site's taxonomy tree.
type SourceSeries struct {
	Key    string
	Label  string
	Models []SourceModel
}

// SourceMake is the root of one make's subtree as a site presents it:
// series with their models, plus models that have no series.
type SourceMake struct {
	Key            string
	Label          string
	Series         []SourceSeries
	ModelsNoSeries []SourceModel
}

// SaveReport summarizes one UpsertMany call.
type SaveReport struct {
	Inserted         int
	Updated          int
	ValidationErrors int
}

// SeedReport counts entities touched by one taxonomy seeding run.
type SeedReport struct {
	Makes    int
	Series   int
	Models   int
	Mappings int
}

// ResolveReport counts listings touched by one resolution pass.
type ResolveReport struct {
	Scanned int
	Updated int
	Skipped int
}

// SiteResult is the per-site outcome of an orchestrated run.
type SiteResult struct {
	Site     string
	Scraped  int
	Inserted int
	Updated  int
	Deleted  int64
	Errors   int
	Failed   bool
	Err      error
	Elapsed  time.Duration
}

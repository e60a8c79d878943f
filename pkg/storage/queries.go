package storage

import (
	"context"
	"fmt"
	"strings"

	"carindex/pkg/models"
	"carindex/pkg/utils"
)

// ListingFilter is the query surface of the read API. Nil/zero fields are
// not applied.
type ListingFilter struct {
	Query      string // Substring match on title/make/model text
	MakeID     *int64
	SeriesID   *int64
	ModelID    *int64
	MinPrice   *float64
	MaxPrice   *float64
	MinYear    *int
	MaxYear    *int
	BodyType   string
	FuelType   string
	SourceSite string
	Limit      int
	Offset     int
}

// FilterOption is one selectable canonical entity with its listing count.
type FilterOption struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// ValueCount is one distinct raw attribute value with its listing count.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// StatsOverview is the catalog-level summary served by the read API.
type StatsOverview struct {
	TotalListings    int64            `json:"total_listings"`
	ResolvedListings int64            `json:"resolved_listings"`
	TotalMakes       int64            `json:"total_makes"`
	TotalSeries      int64            `json:"total_series"`
	TotalModels      int64            `json:"total_models"`
	BySite           map[string]int64 `json:"by_site"`
}

// SearchListings returns one page of listings matching the filter, newest
// first, plus the total match count.
func (s *Store) SearchListings(ctx context.Context, f ListingFilter) ([]*models.Listing, int64, error) {
	var conds []string
	var args []interface{}

	if f.Query != "" {
		needle := "%" + f.Query + "%"
		conds = append(conds, `(title LIKE ? OR make_text LIKE ? OR model_text LIKE ?)`)
		args = append(args, needle, needle, needle)
	}
	if f.MakeID != nil {
		conds = append(conds, `make_id = ?`)
		args = append(args, *f.MakeID)
	}
	if f.SeriesID != nil {
		conds = append(conds, `series_id = ?`)
		args = append(args, *f.SeriesID)
	}
	if f.ModelID != nil {
		conds = append(conds, `model_id = ?`)
		args = append(args, *f.ModelID)
	}
	if f.MinPrice != nil {
		conds = append(conds, `price >= ?`)
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, `price <= ?`)
		args = append(args, *f.MaxPrice)
	}
	if f.MinYear != nil {
		conds = append(conds, `year >= ?`)
		args = append(args, *f.MinYear)
	}
	if f.MaxYear != nil {
		conds = append(conds, `year <= ?`)
		args = append(args, *f.MaxYear)
	}
	if f.BodyType != "" {
		conds = append(conds, `body_type = ?`)
		args = append(args, f.BodyType)
	}
	if f.FuelType != "" {
		conds = append(conds, `fuel_type = ?`)
		args = append(args, f.FuelType)
	}
	if f.SourceSite != "" {
		conds = append(conds, `source_site = ?`)
		args = append(args, f.SourceSite)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: counting search results: %v", utils.ErrDatabase, err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + listingColumns + ` FROM listings` + where +
		fmt.Sprintf(` ORDER BY updated_at DESC, id DESC LIMIT %d OFFSET %d`, limit, offset)

	listings, err := s.queryListings(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// Stats returns the catalog-level overview.
func (s *Store) Stats(ctx context.Context) (*StatsOverview, error) {
	stats := &StatsOverview{BySite: make(map[string]int64)}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM listings`, &stats.TotalListings},
		{`SELECT COUNT(*) FROM listings WHERE make_id IS NOT NULL AND model_id IS NOT NULL`, &stats.ResolvedListings},
		{`SELECT COUNT(*) FROM makes`, &stats.TotalMakes},
		{`SELECT COUNT(*) FROM series`, &stats.TotalSeries},
		{`SELECT COUNT(*) FROM models`, &stats.TotalModels},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("%w: computing stats: %v", utils.ErrDatabase, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source_site, COUNT(*) FROM listings GROUP BY source_site`)
	if err != nil {
		return nil, fmt.Errorf("%w: computing per-site stats: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()
	for rows.Next() {
		var site string
		var n int64
		if err := rows.Scan(&site, &n); err != nil {
			return nil, fmt.Errorf("%w: scanning per-site stats: %v", utils.ErrDatabase, err)
		}
		stats.BySite[site] = n
	}
	return stats, rows.Err()
}

// MakesWithListings returns makes referenced by at least one listing.
func (s *Store) MakesWithListings(ctx context.Context) ([]FilterOption, error) {
	return s.filterOptions(ctx, `
		SELECT m.id, m.label, COUNT(l.id)
		FROM makes m JOIN listings l ON l.make_id = m.id
		GROUP BY m.id, m.label ORDER BY m.label`)
}

// SeriesWithListings returns the make's series referenced by at least one listing.
func (s *Store) SeriesWithListings(ctx context.Context, makeID int64) ([]FilterOption, error) {
	return s.filterOptions(ctx, `
		SELECT sr.id, sr.label, COUNT(l.id)
		FROM series sr JOIN listings l ON l.series_id = sr.id
		WHERE sr.make_id = ?
		GROUP BY sr.id, sr.label ORDER BY sr.label`, makeID)
}

// ModelsWithListings returns the make's models referenced by at least one
// listing, optionally restricted to one series (0 = standalone models only,
// nil = all).
func (s *Store) ModelsWithListings(ctx context.Context, makeID int64, seriesID *int64) ([]FilterOption, error) {
	query := `
		SELECT m.id, m.label, COUNT(l.id)
		FROM models m JOIN listings l ON l.model_id = m.id
		WHERE m.make_id = ?`
	args := []interface{}{makeID}
	if seriesID != nil {
		query += ` AND m.series_id = ?`
		args = append(args, *seriesID)
	}
	query += ` GROUP BY m.id, m.label ORDER BY m.label`
	return s.filterOptions(ctx, query, args...)
}

// FuelTypes returns the distinct non-empty fuel type values in use.
func (s *Store) FuelTypes(ctx context.Context) ([]ValueCount, error) {
	return s.valueCounts(ctx, `
		SELECT fuel_type, COUNT(*) FROM listings
		WHERE fuel_type != '' GROUP BY fuel_type ORDER BY fuel_type`)
}

// BodyTypes returns the distinct non-empty body type values in use.
func (s *Store) BodyTypes(ctx context.Context) ([]ValueCount, error) {
	return s.valueCounts(ctx, `
		SELECT body_type, COUNT(*) FROM listings
		WHERE body_type != '' GROUP BY body_type ORDER BY body_type`)
}

func (s *Store) filterOptions(ctx context.Context, query string, args ...interface{}) ([]FilterOption, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying filter options: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var options []FilterOption
	for rows.Next() {
		var o FilterOption
		if err := rows.Scan(&o.ID, &o.Label, &o.Count); err != nil {
			return nil, fmt.Errorf("%w: scanning filter option: %v", utils.ErrDatabase, err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (s *Store) valueCounts(ctx context.Context, query string) ([]ValueCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying value counts: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var values []ValueCount
	for rows.Next() {
		var v ValueCount
		if err := rows.Scan(&v.Value, &v.Count); err != nil {
			return nil, fmt.Errorf("%w: scanning value count: %v", utils.ErrDatabase, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

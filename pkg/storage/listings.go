package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carindex/pkg/models"
	"carindex/pkg/utils"
)

const listingColumns = `id, source_site, source_url, title, make_text, series_text, model_text,
	price, year, mileage, fuel_type, body_type, transmission, color, description, image_url,
	source_make_key, source_series_key, source_model_key,
	make_id, series_id, model_id, last_seen_run_id, last_seen_at, created_at, updated_at`

// UpsertMany saves a batch of listing drafts keyed by source_url.
// Invalid drafts (missing source_url or source_site) are counted and skipped;
// the rest of the batch continues. created_at is set only on first insert,
// updated_at on every write. When runID is non-empty the freshness markers
// (last_seen_run_id, last_seen_at) are stamped as well.
func (s *Store) UpsertMany(ctx context.Context, drafts []*models.ListingDraft, runID string) (models.SaveReport, error) {
	var report models.SaveReport
	if len(drafts) == 0 {
		return report, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%w: beginning upsert tx: %v", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, d := range drafts {
		if d == nil || d.SourceURL == "" || d.SourceSite == "" {
			report.ValidationErrors++
			s.log.Warn("Skipping listing draft without source_url/source_site")
			continue
		}

		var existingID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM listings WHERE source_url = ?`, d.SourceURL).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			if err := insertListing(ctx, tx, d, runID, now); err != nil {
				return report, err
			}
			report.Inserted++
		case err != nil:
			return report, fmt.Errorf("%w: looking up listing %q: %v", utils.ErrDatabase, d.SourceURL, err)
		default:
			if err := updateListing(ctx, tx, existingID, d, runID, now); err != nil {
				return report, err
			}
			report.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("%w: committing upsert tx: %v", utils.ErrDatabase, err)
	}
	return report, nil
}

func insertListing(ctx context.Context, tx *sql.Tx, d *models.ListingDraft, runID string, now time.Time) error {
	var lastSeenRun string
	var lastSeenAt interface{}
	if runID != "" {
		lastSeenRun = runID
		lastSeenAt = now
	}
	var makeKey, seriesKey, modelKey string
	if d.Taxonomy != nil {
		makeKey, seriesKey, modelKey = d.Taxonomy.MakeKey, d.Taxonomy.SeriesKey, d.Taxonomy.ModelKey
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO listings (
			source_site, source_url, title, make_text, series_text, model_text,
			price, year, mileage, fuel_type, body_type, transmission, color,
			description, image_url, source_make_key, source_series_key, source_model_key,
			last_seen_run_id, last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SourceSite, d.SourceURL, d.Title, d.MakeText, d.SeriesText, d.ModelText,
		nullFloat(d.Price), nullInt(d.Year), nullInt64(d.Mileage),
		d.FuelType, d.BodyType, d.Transmission, d.Color,
		d.Description, d.ImageURL, makeKey, seriesKey, modelKey,
		lastSeenRun, lastSeenAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting listing %q: %v", utils.ErrDatabase, d.SourceURL, err)
	}
	return nil
}

func updateListing(ctx context.Context, tx *sql.Tx, id int64, d *models.ListingDraft, runID string, now time.Time) error {
	var makeKey, seriesKey, modelKey string
	if d.Taxonomy != nil {
		makeKey, seriesKey, modelKey = d.Taxonomy.MakeKey, d.Taxonomy.SeriesKey, d.Taxonomy.ModelKey
	}
	query := `
		UPDATE listings SET
			source_site = ?, title = ?, make_text = ?, series_text = ?, model_text = ?,
			price = ?, year = ?, mileage = ?, fuel_type = ?, body_type = ?,
			transmission = ?, color = ?, description = ?, image_url = ?,
			source_make_key = ?, source_series_key = ?, source_model_key = ?, updated_at = ?`
	args := []interface{}{
		d.SourceSite, d.Title, d.MakeText, d.SeriesText, d.ModelText,
		nullFloat(d.Price), nullInt(d.Year), nullInt64(d.Mileage),
		d.FuelType, d.BodyType, d.Transmission, d.Color, d.Description, d.ImageURL,
		makeKey, seriesKey, modelKey, now,
	}
	if runID != "" {
		query += `, last_seen_run_id = ?, last_seen_at = ?`
		args = append(args, runID, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: updating listing %q: %v", utils.ErrDatabase, d.SourceURL, err)
	}
	return nil
}

// DeleteStaleForSite removes listings of the site that were not seen by the
// given run. The caller must only invoke this after a crawl that produced at
// least one listing for the site.
func (s *Store) DeleteStaleForSite(ctx context.Context, site, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listings WHERE source_site = ? AND last_seen_run_id != ?`, site, runID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting stale listings for %q: %v", utils.ErrDatabase, site, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: counting stale deletions for %q: %v", utils.ErrDatabase, site, err)
	}
	return deleted, nil
}

// CountAll returns the total number of stored listings.
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting listings: %v", utils.ErrDatabase, err)
	}
	return n, nil
}

// CountBySite returns the number of stored listings for one site.
func (s *Store) CountBySite(ctx context.Context, site string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE source_site = ?`, site).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting listings for %q: %v", utils.ErrDatabase, site, err)
	}
	return n, nil
}

// GetListingByID fetches one listing by rowid.
func (s *Store) GetListingByID(ctx context.Context, id int64) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching listing %d: %v", utils.ErrDatabase, id, err)
	}
	return l, nil
}

// GetListingBySourceURL fetches one listing by its unique source URL.
func (s *Store) GetListingBySourceURL(ctx context.Context, sourceURL string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE source_url = ?`, sourceURL)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching listing %q: %v", utils.ErrDatabase, sourceURL, err)
	}
	return l, nil
}

// ListUnresolved streams listings still missing a canonical make or model id.
// limit 0 means unbounded.
func (s *Store) ListUnresolved(ctx context.Context, limit int) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE make_id IS NULL OR model_id IS NULL ORDER BY id`
	return s.queryListings(ctx, withLimit(query, limit))
}

// ListAllListings streams every listing in id order. limit 0 means unbounded.
func (s *Store) ListAllListings(ctx context.Context, limit int) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY id`
	return s.queryListings(ctx, withLimit(query, limit))
}

// SetCanonicalIDs writes resolved canonical ids onto a listing.
// nil values store NULL.
func (s *Store) SetCanonicalIDs(ctx context.Context, listingID int64, makeID, seriesID, modelID *int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET make_id = ?, series_id = ?, model_id = ?, updated_at = ? WHERE id = ?`,
		nullInt64(makeID), nullInt64(seriesID), nullInt64(modelID), time.Now().UTC(), listingID)
	if err != nil {
		return fmt.Errorf("%w: setting canonical ids on listing %d: %v", utils.ErrDatabase, listingID, err)
	}
	return nil
}

func withLimit(query string, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	return query
}

func (s *Store) queryListings(ctx context.Context, query string, args ...interface{}) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying listings: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var result []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning listing row: %v", utils.ErrDatabase, err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating listing rows: %v", utils.ErrDatabase, err)
	}
	return result, nil
}

// rowScanner lets scanListing work for both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var price sql.NullFloat64
	var year, mileage, makeID, seriesID, modelID sql.NullInt64
	var lastSeenAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.SourceSite, &l.SourceURL, &l.Title, &l.MakeText, &l.SeriesText, &l.ModelText,
		&price, &year, &mileage, &l.FuelType, &l.BodyType, &l.Transmission, &l.Color,
		&l.Description, &l.ImageURL,
		&l.Taxonomy.MakeKey, &l.Taxonomy.SeriesKey, &l.Taxonomy.ModelKey,
		&makeID, &seriesID, &modelID,
		&l.LastSeenRunID, &lastSeenAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if price.Valid {
		l.Price = &price.Float64
	}
	if year.Valid {
		y := int(year.Int64)
		l.Year = &y
	}
	if mileage.Valid {
		l.Mileage = &mileage.Int64
	}
	if makeID.Valid {
		l.MakeID = &makeID.Int64
	}
	if seriesID.Valid {
		l.SeriesID = &seriesID.Int64
	}
	if modelID.Valid {
		l.ModelID = &modelID.Int64
	}
	if lastSeenAt.Valid {
		l.LastSeenAt = lastSeenAt.Time
	}
	return &l, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

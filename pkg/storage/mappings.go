package storage

import (
	"context"
	"database/sql"
	"fmt"

	"carindex/pkg/models"
	"carindex/pkg/utils"
)

// UpsertMapping records (or refreshes) one site mapping. The unique scope is
// (source_site, entity_type, make_canonical_id, series_canonical_id,
// source_norm); an existing row gets its source_key and canonical_id updated.
// Returns whether a new row was created.
func (s *Store) UpsertMapping(ctx context.Context, m models.Mapping) (bool, error) {
	var id int64
	var storedKey string
	var storedCanonical int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_key, canonical_id FROM mappings
		WHERE source_site = ? AND entity_type = ? AND make_canonical_id = ?
		  AND series_canonical_id = ? AND source_norm = ?`,
		m.SourceSite, m.EntityType, m.MakeCanonicalID, m.SeriesCanonicalID, m.SourceNorm).
		Scan(&id, &storedKey, &storedCanonical)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO mappings (source_site, entity_type, make_canonical_id,
				series_canonical_id, source_key, source_norm, canonical_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.SourceSite, m.EntityType, m.MakeCanonicalID, m.SeriesCanonicalID,
			m.SourceKey, m.SourceNorm, m.CanonicalID)
		if err != nil {
			return false, fmt.Errorf("%w: inserting mapping %q/%q: %v", utils.ErrDatabase, m.EntityType, m.SourceNorm, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("%w: looking up mapping %q/%q: %v", utils.ErrDatabase, m.EntityType, m.SourceNorm, err)
	}

	if storedKey != m.SourceKey || storedCanonical != m.CanonicalID {
		_, err := s.db.ExecContext(ctx,
			`UPDATE mappings SET source_key = ?, canonical_id = ? WHERE id = ?`,
			m.SourceKey, m.CanonicalID, id)
		if err != nil {
			return false, fmt.Errorf("%w: updating mapping %d: %v", utils.ErrDatabase, id, err)
		}
	}
	return false, nil
}

// FindMappingByKey looks up a mapping by the site's native key within the
// make anchor scope (0 for make-level mappings). Empty keys never match.
func (s *Store) FindMappingByKey(ctx context.Context, site, entityType string, makeAnchor int64, key string) (*models.Mapping, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_site, entity_type, make_canonical_id, series_canonical_id,
		       source_key, source_norm, canonical_id
		FROM mappings
		WHERE source_site = ? AND entity_type = ? AND make_canonical_id = ? AND source_key = ?`,
		site, entityType, makeAnchor, key)
	return scanMapping(row)
}

// FindMappingByNorm looks up a mapping by normalized label within the full
// (make, series) anchor scope.
func (s *Store) FindMappingByNorm(ctx context.Context, site, entityType string, makeAnchor, seriesAnchor int64, norm string) (*models.Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_site, entity_type, make_canonical_id, series_canonical_id,
		       source_key, source_norm, canonical_id
		FROM mappings
		WHERE source_site = ? AND entity_type = ? AND make_canonical_id = ?
		  AND series_canonical_id = ? AND source_norm = ?`,
		site, entityType, makeAnchor, seriesAnchor, norm)
	return scanMapping(row)
}

func scanMapping(row *sql.Row) (*models.Mapping, error) {
	var m models.Mapping
	err := row.Scan(&m.ID, &m.SourceSite, &m.EntityType, &m.MakeCanonicalID,
		&m.SeriesCanonicalID, &m.SourceKey, &m.SourceNorm, &m.CanonicalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scanning mapping: %v", utils.ErrDatabase, err)
	}
	return &m, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"carindex/pkg/models"
	"carindex/pkg/utils"
)

// The catalog upserts are find-or-create by normalized label within their
// scope. Display labels are refreshed when a site starts spelling an entity
// differently; ids are stable across runs.

// UpsertMake finds or creates a canonical make and returns its id.
func (s *Store) UpsertMake(ctx context.Context, label, norm string) (int64, error) {
	var id int64
	var storedLabel string
	err := s.db.QueryRowContext(ctx, `SELECT id, label FROM makes WHERE norm = ?`, norm).Scan(&id, &storedLabel)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx, `INSERT INTO makes (label, norm) VALUES (?, ?)`, label, norm)
		if err != nil {
			return 0, fmt.Errorf("%w: inserting make %q: %v", utils.ErrDatabase, label, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("%w: looking up make %q: %v", utils.ErrDatabase, norm, err)
	}

	if storedLabel != label && label != "" {
		if _, err := s.db.ExecContext(ctx, `UPDATE makes SET label = ? WHERE id = ?`, label, id); err != nil {
			return 0, fmt.Errorf("%w: relabeling make %d: %v", utils.ErrDatabase, id, err)
		}
	}
	return id, nil
}

// UpsertSeries finds or creates a canonical series under a make and returns its id.
func (s *Store) UpsertSeries(ctx context.Context, makeID int64, label, norm string) (int64, error) {
	var id int64
	var storedLabel string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label FROM series WHERE make_id = ? AND norm = ?`, makeID, norm).Scan(&id, &storedLabel)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO series (make_id, label, norm) VALUES (?, ?, ?)`, makeID, label, norm)
		if err != nil {
			return 0, fmt.Errorf("%w: inserting series %q: %v", utils.ErrDatabase, label, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("%w: looking up series %q: %v", utils.ErrDatabase, norm, err)
	}

	if storedLabel != label && label != "" {
		if _, err := s.db.ExecContext(ctx, `UPDATE series SET label = ? WHERE id = ?`, label, id); err != nil {
			return 0, fmt.Errorf("%w: relabeling series %d: %v", utils.ErrDatabase, id, err)
		}
	}
	return id, nil
}

// UpsertModel finds or creates a canonical model and returns its id.
// seriesID 0 means a standalone model directly under the make.
func (s *Store) UpsertModel(ctx context.Context, makeID, seriesID int64, label, norm string) (int64, error) {
	var id int64
	var storedLabel string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label FROM models WHERE make_id = ? AND series_id = ? AND norm = ?`,
		makeID, seriesID, norm).Scan(&id, &storedLabel)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO models (make_id, series_id, label, norm) VALUES (?, ?, ?, ?)`,
			makeID, seriesID, label, norm)
		if err != nil {
			return 0, fmt.Errorf("%w: inserting model %q: %v", utils.ErrDatabase, label, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("%w: looking up model %q: %v", utils.ErrDatabase, norm, err)
	}

	if storedLabel != label && label != "" {
		if _, err := s.db.ExecContext(ctx, `UPDATE models SET label = ? WHERE id = ?`, label, id); err != nil {
			return 0, fmt.Errorf("%w: relabeling model %d: %v", utils.ErrDatabase, id, err)
		}
	}
	return id, nil
}

// FindMakeByNorm returns the canonical make with the given norm, or nil.
func (s *Store) FindMakeByNorm(ctx context.Context, norm string) (*models.Make, error) {
	var m models.Make
	err := s.db.QueryRowContext(ctx, `SELECT id, label, norm FROM makes WHERE norm = ?`, norm).
		Scan(&m.ID, &m.Label, &m.Norm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: finding make %q: %v", utils.ErrDatabase, norm, err)
	}
	return &m, nil
}

// FindSeriesByNorm returns the canonical series with the given norm under a make, or nil.
func (s *Store) FindSeriesByNorm(ctx context.Context, makeID int64, norm string) (*models.Series, error) {
	var sr models.Series
	err := s.db.QueryRowContext(ctx,
		`SELECT id, make_id, label, norm FROM series WHERE make_id = ? AND norm = ?`, makeID, norm).
		Scan(&sr.ID, &sr.MakeID, &sr.Label, &sr.Norm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: finding series %q: %v", utils.ErrDatabase, norm, err)
	}
	return &sr, nil
}

// FindModelByNorm returns the canonical model with the given norm in its
// (make, series) scope, or nil. seriesID 0 targets standalone models.
func (s *Store) FindModelByNorm(ctx context.Context, makeID, seriesID int64, norm string) (*models.Model, error) {
	var m models.Model
	err := s.db.QueryRowContext(ctx,
		`SELECT id, make_id, series_id, label, norm FROM models WHERE make_id = ? AND series_id = ? AND norm = ?`,
		makeID, seriesID, norm).
		Scan(&m.ID, &m.MakeID, &m.SeriesID, &m.Label, &m.Norm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: finding model %q: %v", utils.ErrDatabase, norm, err)
	}
	return &m, nil
}

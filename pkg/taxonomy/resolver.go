package taxonomy

import (
	"context"

	"github.com/sirupsen/logrus"

	"carindex/pkg/models"
	"carindex/pkg/storage"
)

// Resolver maps raw listing text (and native site keys, when captured) to
// canonical catalog ids through the mappings table. It never guesses: a
// listing resolves only through a mapping recorded by seeding or by a
// previous native-id observation.
type Resolver struct {
	store *storage.Store
	log   *logrus.Entry
}

// NewResolver creates a Resolver over the store.
func NewResolver(store *storage.Store, log *logrus.Entry) *Resolver {
	return &Resolver{store: store, log: log}
}

// ResolveOne computes canonical ids for a single listing without writing
// anything. Precedence at each level: the site's native key first, then the
// normalized display text, always anchored by the ids resolved above it.
// A series that fails to resolve does not block the model: model text is
// then matched among the make's standalone models.
func (r *Resolver) ResolveOne(ctx context.Context, l *models.Listing) (makeID, seriesID, modelID *int64, err error) {
	site := l.SourceSite
	makeNorm := Normalize(l.MakeText)
	modelNorm := Normalize(l.ModelText)
	if site == "" || makeNorm == "" || modelNorm == "" {
		return nil, nil, nil, nil
	}

	// Make: native key, then normalized text (unanchored scope)
	m, err := r.store.FindMappingByKey(ctx, site, models.EntityMake, 0, l.Taxonomy.MakeKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if m == nil {
		m, err = r.store.FindMappingByNorm(ctx, site, models.EntityMake, 0, 0, makeNorm)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if m == nil {
		return nil, nil, nil, nil
	}
	makeID = &m.CanonicalID

	// Series: only meaningful under a resolved make
	if seriesNorm := Normalize(l.SeriesText); seriesNorm != "" || l.Taxonomy.SeriesKey != "" {
		sm, err := r.store.FindMappingByKey(ctx, site, models.EntitySeries, *makeID, l.Taxonomy.SeriesKey)
		if err != nil {
			return nil, nil, nil, err
		}
		if sm == nil && seriesNorm != "" {
			sm, err = r.store.FindMappingByNorm(ctx, site, models.EntitySeries, *makeID, 0, seriesNorm)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		if sm != nil {
			seriesID = &sm.CanonicalID
		}
	}

	// Model: native key under the make, then one text lookup anchored by
	// whatever series resolved — the standalone scope only when none did.
	// A miss inside a resolved series stays a miss.
	mm, err := r.store.FindMappingByKey(ctx, site, models.EntityModel, *makeID, l.Taxonomy.ModelKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if mm == nil {
		anchor := int64(0)
		if seriesID != nil {
			anchor = *seriesID
		}
		mm, err = r.store.FindMappingByNorm(ctx, site, models.EntityModel, *makeID, anchor, modelNorm)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if mm != nil {
		modelID = &mm.CanonicalID
	}

	return makeID, seriesID, modelID, nil
}

// ResolveAllUnresolved resolves listings that still miss a canonical make or
// model id, writing back ids only when both the make and the model resolved.
// limit 0 means unbounded.
func (r *Resolver) ResolveAllUnresolved(ctx context.Context, limit int) (models.ResolveReport, error) {
	listings, err := r.store.ListUnresolved(ctx, limit)
	if err != nil {
		return models.ResolveReport{}, err
	}
	return r.resolveBatch(ctx, listings)
}

// ReapplyAll re-runs resolution over every stored listing, refreshing
// canonical ids after mappings changed (e.g. a fresh seed run).
// limit 0 means unbounded.
func (r *Resolver) ReapplyAll(ctx context.Context, limit int) (models.ResolveReport, error) {
	listings, err := r.store.ListAllListings(ctx, limit)
	if err != nil {
		return models.ResolveReport{}, err
	}
	return r.resolveBatch(ctx, listings)
}

func (r *Resolver) resolveBatch(ctx context.Context, listings []*models.Listing) (models.ResolveReport, error) {
	var report models.ResolveReport
	for _, l := range listings {
		report.Scanned++

		makeID, seriesID, modelID, err := r.ResolveOne(ctx, l)
		if err != nil {
			return report, err
		}
		if makeID == nil || modelID == nil {
			report.Skipped++
			r.log.WithFields(logrus.Fields{
				"listing": l.SourceURL, "make_text": l.MakeText, "model_text": l.ModelText,
			}).Debug("Listing left unresolved")
			continue
		}

		if err := r.store.SetCanonicalIDs(ctx, l.ID, makeID, seriesID, modelID); err != nil {
			return report, err
		}
		report.Updated++
	}

	r.log.WithFields(logrus.Fields{
		"scanned": report.Scanned, "updated": report.Updated, "skipped": report.Skipped,
	}).Info("Resolution pass finished")
	return report, nil
}

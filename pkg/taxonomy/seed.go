package taxonomy

import (
	"context"

	"github.com/sirupsen/logrus"

	"carindex/pkg/models"
	"carindex/pkg/storage"
)

// SourceExtractor produces one site's taxonomy tree: makes with their series
// and standalone models, carrying the site's native keys where available.
type SourceExtractor interface {
	Site() string
	ExtractTaxonomy(ctx context.Context) ([]models.SourceMake, error)
}

// Seeder walks a site's taxonomy tree into the canonical catalog plus the
// mappings table. Seeding is idempotent: re-running over the same tree
// creates nothing new.
type Seeder struct {
	store *storage.Store
	log   *logrus.Entry
}

// NewSeeder creates a Seeder over the store.
func NewSeeder(store *storage.Store, log *logrus.Entry) *Seeder {
	return &Seeder{store: store, log: log}
}

// SeedFromSource extracts the site's tree and upserts every make, series and
// model together with the mappings that anchor the site's keys and labels to
// the canonical ids.
func (s *Seeder) SeedFromSource(ctx context.Context, extractor SourceExtractor) (models.SeedReport, error) {
	var report models.SeedReport
	site := extractor.Site()
	siteLog := s.log.WithField("site", site)
	siteLog.Info("Seeding taxonomy...")

	tree, err := extractor.ExtractTaxonomy(ctx)
	if err != nil {
		return report, err
	}

	for _, srcMake := range tree {
		makeLabel := CleanLabel(srcMake.Label)
		makeNorm := Normalize(srcMake.Label)
		if makeNorm == "" {
			continue
		}
		makeID, err := s.store.UpsertMake(ctx, makeLabel, makeNorm)
		if err != nil {
			return report, err
		}
		report.Makes++
		if err := s.seedMapping(ctx, &report, models.Mapping{
			SourceSite:  site,
			EntityType:  models.EntityMake,
			SourceKey:   srcMake.Key,
			SourceNorm:  makeNorm,
			CanonicalID: makeID,
		}); err != nil {
			return report, err
		}

		for _, srcSeries := range srcMake.Series {
			seriesLabel := CleanLabel(srcSeries.Label)
			seriesNorm := Normalize(srcSeries.Label)
			if seriesNorm == "" {
				continue
			}
			seriesID, err := s.store.UpsertSeries(ctx, makeID, seriesLabel, seriesNorm)
			if err != nil {
				return report, err
			}
			report.Series++
			if err := s.seedMapping(ctx, &report, models.Mapping{
				SourceSite:      site,
				EntityType:      models.EntitySeries,
				MakeCanonicalID: makeID,
				SourceKey:       srcSeries.Key,
				SourceNorm:      seriesNorm,
				CanonicalID:     seriesID,
			}); err != nil {
				return report, err
			}

			for _, srcModel := range srcSeries.Models {
				if err := s.seedModel(ctx, &report, site, makeID, seriesID, srcModel); err != nil {
					return report, err
				}
			}
		}

		for _, srcModel := range srcMake.ModelsNoSeries {
			if err := s.seedModel(ctx, &report, site, makeID, 0, srcModel); err != nil {
				return report, err
			}
		}
	}

	siteLog.WithFields(logrus.Fields{
		"makes": report.Makes, "series": report.Series,
		"models": report.Models, "mappings": report.Mappings,
	}).Info("Taxonomy seeded")
	return report, nil
}

func (s *Seeder) seedModel(ctx context.Context, report *models.SeedReport, site string, makeID, seriesID int64, src models.SourceModel) error {
	label := CleanLabel(src.Label)
	norm := Normalize(src.Label)
	if norm == "" {
		return nil
	}
	modelID, err := s.store.UpsertModel(ctx, makeID, seriesID, label, norm)
	if err != nil {
		return err
	}
	report.Models++
	return s.seedMapping(ctx, report, models.Mapping{
		SourceSite:        site,
		EntityType:        models.EntityModel,
		MakeCanonicalID:   makeID,
		SeriesCanonicalID: seriesID,
		SourceKey:         src.Key,
		SourceNorm:        norm,
		CanonicalID:       modelID,
	})
}

func (s *Seeder) seedMapping(ctx context.Context, report *models.SeedReport, m models.Mapping) error {
	created, err := s.store.UpsertMapping(ctx, m)
	if err != nil {
		return err
	}
	if created {
		report.Mappings++
	}
	return nil
}

package adapter

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
)

// AutodiilerTaxonomyExtractor reads the site's make/series/model catalog:
// makes from the homepage search dropdown, each make's groups from the
// garage API. Series carry no native id on this site, only a label.
type AutodiilerTaxonomyExtractor struct {
	transport fetch.Transport
	baseURL   string
	apiBase   string
	log       *logrus.Entry
}

// NewAutodiilerTaxonomyExtractor creates the extractor. baseURL "" targets
// production.
func NewAutodiilerTaxonomyExtractor(transport fetch.Transport, baseURL string, log *logrus.Entry) *AutodiilerTaxonomyExtractor {
	base, api := autodiilerBaseURL, autodiilerAPIBase
	if baseURL != "" {
		base = strings.TrimRight(baseURL, "/")
		api = base + "/api/v1"
	}
	return &AutodiilerTaxonomyExtractor{
		transport: transport,
		baseURL:   base,
		apiBase:   api,
		log:       log.WithField("site", SiteAutodiiler),
	}
}

// Site returns the extractor's site name.
func (e *AutodiilerTaxonomyExtractor) Site() string { return SiteAutodiiler }

// ExtractTaxonomy fetches every make and its series/model groups.
// A make whose tree fails to fetch is skipped, not fatal.
func (e *AutodiilerTaxonomyExtractor) ExtractTaxonomy(ctx context.Context) ([]models.SourceMake, error) {
	makes, err := fetchAutodiilerMakes(ctx, e.transport, e.baseURL)
	if err != nil {
		return nil, err
	}
	e.log.WithField("makes", len(makes)).Info("Makes fetched")

	var tree []models.SourceMake
	for _, mk := range makes {
		groups, err := fetchAutodiilerMakeTree(ctx, e.transport, e.apiBase, mk.Key)
		if err != nil {
			e.log.WithField("make_id", mk.Key).Warnf("Make tree fetch failed: %v", err)
			continue
		}
		for _, group := range groups {
			label := strings.TrimSpace(group.Label)
			if label != "" {
				series := models.SourceSeries{Label: label}
				for _, opt := range group.Options {
					series.Models = append(series.Models, models.SourceModel{
						Key:   rawKey(opt.Value),
						Label: strings.TrimSpace(opt.Label),
					})
				}
				mk.Series = append(mk.Series, series)
			} else {
				for _, opt := range group.Options {
					mk.ModelsNoSeries = append(mk.ModelsNoSeries, models.SourceModel{
						Key:   rawKey(opt.Value),
						Label: strings.TrimSpace(opt.Label),
					})
				}
			}
		}
		tree = append(tree, mk)
	}
	return tree, nil
}

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
	"carindex/pkg/utils"
)

// veegoEntryRe matches i18n dictionary entries inside the site's compiled
// Nuxt chunk, e.g.:
//
//	series:{t:0,b:{t:2,i:[{t:3}],s:"seeria"}}
//	"1 series":{t:0,b:{t:2,i:[{t:3}],s:"1 seeria"}}
var veegoEntryRe = regexp.MustCompile(
	`(?:^|[{,])(?:"((?:\\.|[^"\\])*)"|([A-Za-z_$][\w$]*)):\{t:0,b:\{t:2,i:\[\{t:3\}\],s:"((?:\\.|[^"\\])*)"\}\}`)

var (
	numSeriesRe = regexp.MustCompile(`(?i)^\s*(\d+)\s+series\s*$`)
	seriesNumRe = regexp.MustCompile(`(?i)^\s*series\s+(\d+)\s*$`)
	seriesWdRe  = regexp.MustCompile(`(?i)\bseries\b`)
)

// VeegoTranslator maps the API's English taxonomy labels back to the
// Estonian ones the site displays, using the translation dictionary mined
// from a Nuxt chunk.
type VeegoTranslator struct {
	mapping map[string]string
}

// NewVeegoTranslatorFromJS builds a translator from the raw chunk source.
func NewVeegoTranslatorFromJS(js string) (*VeegoTranslator, error) {
	mapping := make(map[string]string)
	for _, m := range veegoEntryRe.FindAllStringSubmatch(js, -1) {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		mapping[key] = m[3]
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("%w: no translations found, the Nuxt chunk layout may have changed", utils.ErrParsing)
	}
	return &VeegoTranslator{mapping: mapping}, nil
}

// Translate maps one label. Exact dictionary hits win; "1 series" /
// "series 1" shapes are rebuilt around the translated "series" word; as a
// last resort the bare word is substituted. Unknown labels pass through.
func (t *VeegoTranslator) Translate(text string) string {
	if direct, ok := t.mapping[text]; ok {
		return direct
	}
	seriesET, ok := t.mapping["series"]
	if !ok {
		return text
	}
	if m := numSeriesRe.FindStringSubmatch(text); m != nil {
		return m[1] + " " + seriesET
	}
	if m := seriesNumRe.FindStringSubmatch(text); m != nil {
		return seriesET + " " + m[1]
	}
	return seriesWdRe.ReplaceAllString(text, seriesET)
}

// VeegoTaxonomyExtractor reads veego's make/series/model catalog from the
// attribute API, translating labels when a translator is present.
type VeegoTaxonomyExtractor struct {
	transport  fetch.Transport
	apiBase    string
	chunkURL   string // Nuxt chunk carrying the i18n dictionary, "" = skip translation
	translator *VeegoTranslator
	log        *logrus.Entry
}

// NewVeegoTaxonomyExtractor creates the extractor. baseURL "" targets
// production; chunkURL "" disables label translation.
func NewVeegoTaxonomyExtractor(transport fetch.Transport, baseURL, chunkURL string, log *logrus.Entry) *VeegoTaxonomyExtractor {
	api := veegoAPIBase
	if baseURL != "" {
		api = strings.TrimRight(baseURL, "/") + "/api"
	}
	return &VeegoTaxonomyExtractor{
		transport: transport,
		apiBase:   api,
		chunkURL:  chunkURL,
		log:       log.WithField("site", SiteVeego),
	}
}

// Site returns the extractor's site name.
func (e *VeegoTaxonomyExtractor) Site() string { return SiteVeego }

// ExtractTaxonomy fetches every make and its model tree. Labels go through
// the translator when the chunk could be loaded; otherwise they stay as the
// API serves them.
func (e *VeegoTaxonomyExtractor) ExtractTaxonomy(ctx context.Context) ([]models.SourceMake, error) {
	e.loadTranslator(ctx)

	body, err := e.transport.Get(ctx, e.apiBase+"/attr/vehicles/makes?top=false&all=true")
	if err != nil {
		return nil, err
	}
	var makes []veegoMake
	if err := json.Unmarshal(body, &makes); err != nil {
		return nil, fmt.Errorf("%w: JSON of makes endpoint: %v", utils.ErrParsing, err)
	}
	e.log.WithField("makes", len(makes)).Info("Makes fetched")

	var tree []models.SourceMake
	for _, mk := range makes {
		makeID := mk.ID.String()
		srcMake := models.SourceMake{Key: makeID, Label: mk.Name}

		body, err := e.transport.Get(ctx, fmt.Sprintf("%s/attr/%s/models", e.apiBase, makeID))
		if err != nil {
			e.log.WithField("make_id", makeID).Warnf("Make tree fetch failed: %v", err)
			continue
		}
		var nodes []veegoNode
		if err := json.Unmarshal(body, &nodes); err != nil {
			e.log.WithField("make_id", makeID).Warnf("Make tree parse failed: %v", err)
			continue
		}

		for _, node := range nodes {
			if node.Lvl != 1 {
				continue
			}
			if len(node.Models) > 0 {
				series := models.SourceSeries{Key: node.ID.String(), Label: e.translate(node.Name)}
				for _, model := range node.Models {
					series.Models = append(series.Models, models.SourceModel{
						Key:   model.ID.String(),
						Label: e.translate(model.Name),
					})
				}
				srcMake.Series = append(srcMake.Series, series)
			} else {
				srcMake.ModelsNoSeries = append(srcMake.ModelsNoSeries, models.SourceModel{
					Key:   node.ID.String(),
					Label: e.translate(node.Name),
				})
			}
		}
		tree = append(tree, srcMake)
	}
	return tree, nil
}

// loadTranslator fetches and parses the i18n chunk once per extraction.
// Failures degrade to untranslated labels.
func (e *VeegoTaxonomyExtractor) loadTranslator(ctx context.Context) {
	if e.translator != nil || e.chunkURL == "" {
		return
	}
	body, err := e.transport.Get(ctx, e.chunkURL)
	if err != nil {
		e.log.Warnf("Translation chunk fetch failed, keeping English labels: %v", err)
		return
	}
	translator, err := NewVeegoTranslatorFromJS(string(body))
	if err != nil {
		e.log.Warnf("Translation chunk parse failed, keeping English labels: %v", err)
		return
	}
	e.translator = translator
}

func (e *VeegoTaxonomyExtractor) translate(label string) string {
	if e.translator == nil {
		return label
	}
	return e.translator.Translate(label)
}

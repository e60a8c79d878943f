package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
	"carindex/pkg/utils"
)

// Auto24TaxonomyExtractor reads the site's full make/series/model catalog:
// makes from the search form's select options, each make's tree from the
// data_json service. Wire it with a caching transport; the trees are one
// request per make and rarely change.
type Auto24TaxonomyExtractor struct {
	transport fetch.Transport
	baseURL   string
	log       *logrus.Entry
}

// NewAuto24TaxonomyExtractor creates the extractor. baseURL "" targets the
// production site.
func NewAuto24TaxonomyExtractor(transport fetch.Transport, baseURL string, log *logrus.Entry) *Auto24TaxonomyExtractor {
	if baseURL == "" {
		baseURL = auto24BaseURL
	}
	return &Auto24TaxonomyExtractor{
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       log.WithField("site", SiteAuto24),
	}
}

// Site returns the extractor's site name.
func (e *Auto24TaxonomyExtractor) Site() string { return SiteAuto24 }

// a24Node is one node of the data_json tree. Nodes with children are series,
// nodes without are standalone models. value may arrive as number or string.
type a24Node struct {
	Label    string          `json:"label"`
	Value    json.RawMessage `json:"value"`
	Children []a24Node       `json:"children"`
}

type a24TreeResponse struct {
	Q struct {
		Response []a24Node `json:"response"`
	} `json:"q"`
}

// ExtractTaxonomy fetches every make and its series/model tree.
// A make whose tree fails to fetch is skipped, not fatal.
func (e *Auto24TaxonomyExtractor) ExtractTaxonomy(ctx context.Context) ([]models.SourceMake, error) {
	makes, err := e.fetchMakes(ctx)
	if err != nil {
		return nil, err
	}
	e.log.WithField("makes", len(makes)).Info("Makes fetched")

	var tree []models.SourceMake
	for _, mk := range makes {
		nodes, err := e.fetchMakeTree(ctx, mk.Key)
		if err != nil {
			e.log.WithField("make_id", mk.Key).Warnf("Make tree fetch failed: %v", err)
			continue
		}
		for _, node := range nodes {
			if len(node.Children) > 0 {
				series := models.SourceSeries{Key: rawKey(node.Value), Label: node.Label}
				for _, child := range node.Children {
					series.Models = append(series.Models, models.SourceModel{
						Key:   rawKey(child.Value),
						Label: child.Label,
					})
				}
				mk.Series = append(mk.Series, series)
			} else {
				mk.ModelsNoSeries = append(mk.ModelsNoSeries, models.SourceModel{
					Key:   rawKey(node.Value),
					Label: node.Label,
				})
			}
		}
		tree = append(tree, mk)
	}
	return tree, nil
}

func (e *Auto24TaxonomyExtractor) fetchMakes(ctx context.Context) ([]models.SourceMake, error) {
	body, err := e.transport.Get(ctx, e.baseURL+"/")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of search form: %v", utils.ErrParsing, err)
	}

	var makes []models.SourceMake
	doc.Find("select#searchParam-cmm-2-make option").Each(func(_ int, sel *goquery.Selection) {
		value, _ := sel.Attr("value")
		label := strings.TrimSpace(sel.Text())
		if value != "" && label != "" {
			makes = append(makes, models.SourceMake{Key: value, Label: label})
		}
	})
	return makes, nil
}

func (e *Auto24TaxonomyExtractor) fetchMakeTree(ctx context.Context, makeID string) ([]a24Node, error) {
	treeURL := fmt.Sprintf("%s/services/data_json.php?q=models&existonly=true&parent=%s&type=100", e.baseURL, makeID)
	body, err := e.transport.Get(ctx, treeURL)
	if err != nil {
		return nil, err
	}
	var resp a24TreeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: JSON of make tree: %v", utils.ErrParsing, err)
	}
	return resp.Q.Response, nil
}

// rawKey stringifies a JSON value that may be a number, a string or absent.
func rawKey(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
	"carindex/pkg/utils"
)

const (
	veegoBaseURL = "https://veego.ee"
	veegoAPIBase = "https://api.veego.ee/api"
)

var descKmRe = regexp.MustCompile(`(?i)(\d[\d\s  ]*)\s*km`)

// Veego crawls veego.ee through its public JSON API: makes and model trees
// come from attribute endpoints, listing ids from the search endpoint, and
// the detail pages carry JSON-LD structured data. No anti-bot frontend, so
// the plain transport suffices.
type Veego struct {
	transport   fetch.Transport
	rateLimiter *fetch.RateLimiter
	baseURL     string
	apiBase     string
	pageDelay   time.Duration
	log         *logrus.Entry
}

// NewVeego creates the veego adapter. A non-empty Deps.BaseURL overrides
// both the site and the API base (tests point them at one server).
func NewVeego(deps Deps) *Veego {
	base, api := veegoBaseURL, veegoAPIBase
	if deps.BaseURL != "" {
		base = strings.TrimRight(deps.BaseURL, "/")
		api = base + "/api"
	}
	return &Veego{
		transport:   deps.Transport,
		rateLimiter: deps.RateLimiter,
		baseURL:     base,
		apiBase:     api,
		pageDelay:   deps.PageDelay,
		log:         deps.Log.WithField("site", SiteVeego),
	}
}

// Site returns the adapter's site name.
func (v *Veego) Site() string { return SiteVeego }

// Close closes the adapter's transport.
func (v *Veego) Close() error { return v.transport.Close() }

type veegoMake struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type veegoNode struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Lvl    int         `json:"lvl"`
	Models []veegoNode `json:"models"`
}

// makeSeriesModel is one searchable (make, series?, model) triple.
type makeSeriesModel struct {
	makeID   string
	seriesID string // empty for standalone models
	modelID  string
}

// EnumerateLocators builds every (make, series, model) combination from the
// attribute API and pages each one through the search endpoint. maxPages
// bounds the pages per combination; each locator carries the native ids that
// produced it.
func (v *Veego) EnumerateLocators(ctx context.Context, maxPages int) ([]Locator, error) {
	combos, err := v.buildCombos(ctx)
	if err != nil {
		return nil, err
	}
	v.log.WithField("combinations", len(combos)).Info("Taxonomy combinations built")

	seen := make(map[string]*models.SourceTaxonomy)
	var order []string
	for _, combo := range combos {
		urls, err := v.searchListingURLs(ctx, combo, maxPages)
		if err != nil {
			v.log.WithField("make_id", combo.makeID).Warnf("Search failed: %v", err)
			continue
		}
		hint := &models.SourceTaxonomy{
			MakeKey:   combo.makeID,
			SeriesKey: combo.seriesID,
			ModelKey:  combo.modelID,
		}
		for _, u := range urls {
			if _, dup := seen[u]; !dup {
				seen[u] = hint
				order = append(order, u)
			}
		}
	}

	locators := make([]Locator, len(order))
	for i, u := range order {
		locators[i] = Locator{URL: u, Hint: seen[u]}
	}
	v.log.WithField("total", len(locators)).Info("Enumeration finished")
	return locators, nil
}

func (v *Veego) buildCombos(ctx context.Context) ([]makeSeriesModel, error) {
	body, err := v.apiGet(ctx, v.apiBase+"/attr/vehicles/makes?top=false&all=true")
	if err != nil {
		return nil, err
	}
	var makes []veegoMake
	if err := json.Unmarshal(body, &makes); err != nil {
		return nil, fmt.Errorf("%w: JSON of makes endpoint: %v", utils.ErrParsing, err)
	}

	var combos []makeSeriesModel
	for _, mk := range makes {
		makeID := mk.ID.String()
		body, err := v.apiGet(ctx, fmt.Sprintf("%s/attr/%s/models", v.apiBase, makeID))
		if err != nil {
			v.log.WithField("make_id", makeID).Warnf("Models fetch failed: %v", err)
			continue
		}
		var nodes []veegoNode
		if err := json.Unmarshal(body, &nodes); err != nil {
			v.log.WithField("make_id", makeID).Warnf("Models parse failed: %v", err)
			continue
		}
		// Top-level nodes with children are series; without, standalone models
		for _, node := range nodes {
			if node.Lvl != 1 {
				continue
			}
			if len(node.Models) > 0 {
				for _, model := range node.Models {
					combos = append(combos, makeSeriesModel{makeID, node.ID.String(), model.ID.String()})
				}
			} else {
				combos = append(combos, makeSeriesModel{makeID: makeID, modelID: node.ID.String()})
			}
		}
	}
	return combos, nil
}

type veegoSearchResponse struct {
	Results []struct {
		ID json.Number `json:"id"`
	} `json:"results"`
}

func (v *Veego) searchListingURLs(ctx context.Context, combo makeSeriesModel, maxPages int) ([]string, error) {
	var urls []string
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		payload, err := json.Marshal(map[string]interface{}{
			"make_id":   combo.makeID,
			"model_ids": []string{combo.modelID},
			"is_new":    0,
			"per_page":  30,
			"page":      page,
			"order_by":  "Standard",
		})
		if err != nil {
			return nil, fmt.Errorf("%w: JSON of search payload: %v", utils.ErrParsing, err)
		}

		v.rateLimiter.ApplyDelay(v.host(), v.pageDelay)
		body, err := v.transport.Post(ctx, v.apiBase+"/v2/search", "application/json", payload)
		v.rateLimiter.UpdateLastRequestTime(v.host())
		if err != nil {
			return urls, err
		}

		var resp veegoSearchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return urls, fmt.Errorf("%w: JSON of search response: %v", utils.ErrParsing, err)
		}
		if len(resp.Results) == 0 {
			break
		}
		for _, r := range resp.Results {
			urls = append(urls, fmt.Sprintf("%s/soidukid/%s", v.baseURL, r.ID.String()))
		}
	}
	return urls, nil
}

func (v *Veego) apiGet(ctx context.Context, rawURL string) ([]byte, error) {
	v.rateLimiter.ApplyDelay(v.host(), v.pageDelay)
	body, err := v.transport.Get(ctx, rawURL)
	v.rateLimiter.UpdateLastRequestTime(v.host())
	return body, err
}

// FetchAndParse fetches one detail page and extracts the draft from its
// JSON-LD block. Pages without a vehicle-typed JSON-LD block fail parsing.
func (v *Veego) FetchAndParse(ctx context.Context, loc Locator) (*models.ListingDraft, error) {
	body, err := v.transport.Get(ctx, loc.URL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of %s: %v", utils.ErrParsing, loc.URL, err)
	}

	ld := extractJSONLD(doc)
	if ld == nil {
		return nil, fmt.Errorf("%w: no vehicle JSON-LD block at %s", utils.ErrParsing, loc.URL)
	}

	draft := &models.ListingDraft{
		SourceSite: SiteVeego,
		SourceURL:  loc.URL,
		Taxonomy:   loc.Hint,
	}
	parseJSONLD(ld, draft)
	return draft, nil
}

// extractJSONLD returns the first JSON-LD block whose @type looks like a
// vehicle product.
func extractJSONLD(doc *goquery.Document) map[string]interface{} {
	var found map[string]interface{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			return true
		}
		if typeMatches(data["@type"], "Product", "Car", "Vehicle") {
			found = data
			return false
		}
		return true
	})
	return found
}

func typeMatches(raw interface{}, wanted ...string) bool {
	check := func(s string) bool {
		for _, w := range wanted {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}
	switch t := raw.(type) {
	case string:
		return check(t)
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && check(s) {
				return true
			}
		}
	}
	return false
}

func parseJSONLD(ld map[string]interface{}, draft *models.ListingDraft) {
	draft.Title = ldString(ld["name"])

	switch brand := ld["brand"].(type) {
	case map[string]interface{}:
		draft.MakeText = ldString(brand["name"])
	case string:
		draft.MakeText = brand
	}
	draft.ModelText = ldString(ld["model"])

	yearRaw := ld["modelDate"]
	if yearRaw == nil {
		yearRaw = ld["vehicleModelDate"]
	}
	if yearRaw == nil {
		yearRaw = ld["dateVehicleFirstRegistered"]
	}
	switch y := yearRaw.(type) {
	case float64:
		year := int(y)
		draft.Year = &year
	case string:
		if year, ok := utils.FirstYear(y); ok {
			draft.Year = &year
		}
	}

	offers := ld["offers"]
	if list, ok := offers.([]interface{}); ok && len(list) > 0 {
		offers = list[0]
	}
	if offer, ok := offers.(map[string]interface{}); ok {
		switch p := offer["price"].(type) {
		case float64:
			price := p
			draft.Price = &price
		case string:
			if price, ok := utils.ExtractNumber(p); ok {
				draft.Price = &price
			}
		}
	}

	draft.Description = ldString(ld["description"])
	if m := descKmRe.FindStringSubmatch(draft.Description); m != nil {
		if km, ok := utils.ExtractNumber(m[1]); ok {
			mileage := int64(km)
			draft.Mileage = &mileage
		}
	}

	fuel := ldString(ld["fuelType"])
	if fuel == "" {
		fuel = ldString(ld["fuelEfficiency"])
	}
	draft.FuelType = NormalizeFuelType(fuel)
	draft.Transmission = ldString(ld["vehicleTransmission"])
	draft.BodyType = ldString(ld["bodyType"])
	draft.Color = ldString(ld["color"])

	switch img := ld["image"].(type) {
	case []interface{}:
		if len(img) > 0 {
			draft.ImageURL = ldString(img[0])
		}
	case string:
		draft.ImageURL = img
	}
}

func ldString(raw interface{}) string {
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

func (v *Veego) host() string {
	if u, err := url.Parse(v.apiBase); err == nil {
		return u.Hostname()
	}
	return v.apiBase
}

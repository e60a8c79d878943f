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
	autodiilerBaseURL = "https://autodiiler.ee"
	autodiilerAPIBase = "https://garage.autodiiler.ee/api/v1"
)

// Dropdown option ids on the homepage look like
// home-search-brand-id-multiselect-option-<make_id>.
const autodiilerMakeOptionPrefix = "home-search-brand-id-multiselect-option-"

var (
	autodiilerDescClassRe = regexp.MustCompile(`(?i)description|desc|content`)
	autodiilerKWRe        = regexp.MustCompile(`(?i)kw`)
)

// Autodiiler crawls autodiiler.ee. Makes come from the homepage search
// dropdown, model trees and listing ids from the garage JSON API, and the
// detail pages carry JSON-LD (often wrapped in an @graph envelope) with an
// HTML fallback for whatever the block misses. The series has no native id
// on this site; its label is captured during enumeration and rides on the
// locator.
type Autodiiler struct {
	transport   fetch.Transport
	rateLimiter *fetch.RateLimiter
	baseURL     string
	apiBase     string
	pageDelay   time.Duration
	log         *logrus.Entry
}

// NewAutodiiler creates the autodiiler adapter. A non-empty Deps.BaseURL
// overrides both the site and the garage API base (tests point them at one
// server).
func NewAutodiiler(deps Deps) *Autodiiler {
	base, api := autodiilerBaseURL, autodiilerAPIBase
	if deps.BaseURL != "" {
		base = strings.TrimRight(deps.BaseURL, "/")
		api = base + "/api/v1"
	}
	return &Autodiiler{
		transport:   deps.Transport,
		rateLimiter: deps.RateLimiter,
		baseURL:     base,
		apiBase:     api,
		pageDelay:   deps.PageDelay,
		log:         deps.Log.WithField("site", SiteAutodiiler),
	}
}

// Site returns the adapter's site name.
func (a *Autodiiler) Site() string { return SiteAutodiiler }

// Close closes the adapter's transport.
func (a *Autodiiler) Close() error { return a.transport.Close() }

// adlrOption is one model entry of the garage model tree. value may arrive
// as number or string.
type adlrOption struct {
	Value json.RawMessage `json:"value"`
	Label string          `json:"label"`
}

// adlrGroup is one top-level tree node: a labelled group is a series, an
// unlabelled one holds standalone models.
type adlrGroup struct {
	Label   string       `json:"label"`
	Options []adlrOption `json:"options"`
}

type adlrTreeResponse struct {
	Data []adlrGroup `json:"data"`
}

// adlrCombo is one searchable (make, series label, model) triple.
type adlrCombo struct {
	makeKey     string
	seriesLabel string // empty for standalone models
	modelKey    string
}

// EnumerateLocators builds every (make, model) combination from the garage
// API and pages each one through the search endpoint. maxPages bounds the
// pages per combination; each locator carries the native ids and the series
// label that produced it.
func (a *Autodiiler) EnumerateLocators(ctx context.Context, maxPages int) ([]Locator, error) {
	makes, err := fetchAutodiilerMakes(ctx, a.transport, a.baseURL)
	if err != nil {
		return nil, err
	}
	a.log.WithField("makes", len(makes)).Info("Makes fetched")

	var combos []adlrCombo
	for _, mk := range makes {
		groups, err := fetchAutodiilerMakeTree(ctx, a.transport, a.apiBase, mk.Key)
		if err != nil {
			a.log.WithField("make_id", mk.Key).Warnf("Model tree fetch failed: %v", err)
			continue
		}
		for _, group := range groups {
			for _, opt := range group.Options {
				combos = append(combos, adlrCombo{
					makeKey:     mk.Key,
					seriesLabel: strings.TrimSpace(group.Label),
					modelKey:    rawKey(opt.Value),
				})
			}
		}
	}
	a.log.WithField("combinations", len(combos)).Info("Taxonomy combinations built")

	seen := make(map[string]bool)
	var locators []Locator
	for _, combo := range combos {
		urls, err := a.searchListingURLs(ctx, combo, maxPages)
		if err != nil {
			a.log.WithField("make_id", combo.makeKey).Warnf("Search failed: %v", err)
			continue
		}
		hint := &models.SourceTaxonomy{MakeKey: combo.makeKey, ModelKey: combo.modelKey}
		for _, u := range urls {
			if seen[u] {
				continue
			}
			seen[u] = true
			locators = append(locators, Locator{URL: u, SeriesText: combo.seriesLabel, Hint: hint})
		}
	}
	a.log.WithField("total", len(locators)).Info("Enumeration finished")
	return locators, nil
}

type adlrSearchResponse struct {
	Data []struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

func (a *Autodiiler) searchListingURLs(ctx context.Context, combo adlrCombo, maxPages int) ([]string, error) {
	var urls []string
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		searchURL := fmt.Sprintf("%s/vehicles?locale=et&page=%d&ba=%s&bm=%s&s=default",
			a.apiBase, page, combo.makeKey, combo.modelKey)

		a.rateLimiter.ApplyDelay(a.host(), a.pageDelay)
		body, err := a.transport.Get(ctx, searchURL)
		a.rateLimiter.UpdateLastRequestTime(a.host())
		if err != nil {
			return urls, err
		}

		var resp adlrSearchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return urls, fmt.Errorf("%w: JSON of search response: %v", utils.ErrParsing, err)
		}
		if len(resp.Data) == 0 {
			break
		}
		for _, r := range resp.Data {
			urls = append(urls, fmt.Sprintf("%s/et/vehicles/%s", a.baseURL, r.ID.String()))
		}
	}
	return urls, nil
}

// FetchAndParse fetches one detail page, extracts the draft from its JSON-LD
// block and fills whatever is still missing from the HTML. The series label
// comes from the locator; the page never names it.
func (a *Autodiiler) FetchAndParse(ctx context.Context, loc Locator) (*models.ListingDraft, error) {
	body, err := a.transport.Get(ctx, loc.URL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of %s: %v", utils.ErrParsing, loc.URL, err)
	}

	draft := &models.ListingDraft{
		SourceSite: SiteAutodiiler,
		SourceURL:  loc.URL,
		SeriesText: loc.SeriesText,
		Taxonomy:   loc.Hint,
	}
	if ld := extractGraphJSONLD(doc); ld != nil {
		parseJSONLD(ld, draft)
	} else {
		a.log.WithField("url", loc.URL).Debug("No JSON-LD block, HTML only")
	}
	a.fillFromHTML(doc, draft)

	if draft.Title == "" && draft.MakeText == "" {
		return nil, fmt.Errorf("%w: nothing recognisable at %s", utils.ErrParsing, loc.URL)
	}
	return draft, nil
}

// extractGraphJSONLD returns the first vehicle-typed JSON-LD block, looking
// inside @graph envelopes as well as at top-level blocks.
func extractGraphJSONLD(doc *goquery.Document) map[string]interface{} {
	if ld := extractJSONLD(doc); ld != nil {
		return ld
	}
	var found map[string]interface{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			return true
		}
		graph, ok := data["@graph"].([]interface{})
		if !ok {
			return true
		}
		for _, item := range graph {
			node, ok := item.(map[string]interface{})
			if ok && typeMatches(node["@type"], "Product", "Car", "Vehicle") {
				found = node
				return false
			}
		}
		return true
	})
	return found
}

// fillFromHTML completes the draft from page markup. Existing JSON-LD values
// always win; this only fills blanks.
func (a *Autodiiler) fillFromHTML(doc *goquery.Document, draft *models.ListingDraft) {
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if draft.Title == "" {
		draft.Title = title
	}

	// Make is the first title word, model the words up to the year or the
	// power figure.
	if parts := strings.Fields(title); len(parts) >= 2 {
		if draft.MakeText == "" {
			draft.MakeText = parts[0]
		}
		if draft.ModelText == "" {
			var modelParts []string
			for i, part := range parts[1:] {
				if len(part) == 4 && strings.IndexFunc(part, notDigit) < 0 {
					break
				}
				if i > 0 && autodiilerKWRe.MatchString(part) {
					break
				}
				modelParts = append(modelParts, part)
			}
			draft.ModelText = strings.Join(modelParts, " ")
		}
	}

	if draft.Price == nil {
		draft.Price = autodiilerPrice(doc)
	}

	if draft.Description == "" {
		doc.Find("div").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			class, _ := sel.Attr("class")
			if !autodiilerDescClassRe.MatchString(class) {
				return true
			}
			desc := strings.TrimSpace(sel.Text())
			if len(desc) > 2000 {
				desc = desc[:2000]
			}
			draft.Description = desc
			return false
		})
	}

	if draft.ImageURL == "" {
		doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			src, _ := sel.Attr("src")
			if src == "" {
				src, _ = sel.Attr("data-src")
			}
			if !strings.Contains(src, "media.autodiiler.ee") {
				return true
			}
			lower := strings.ToLower(src)
			for _, skip := range []string{"logo", "icon", "flag"} {
				if strings.Contains(lower, skip) {
					return true
				}
			}
			draft.ImageURL = src
			return false
		})
	}
}

// autodiilerPrice scans the page for €-amounts in a plausible range and
// takes the highest: the asking price outranks monthly-payment figures.
func autodiilerPrice(doc *goquery.Document) *float64 {
	var best *float64
	for _, m := range priceEuroRe.FindAllStringSubmatch(doc.Text(), -1) {
		if v, found := utils.ExtractNumber(m[1]); found && v >= 100 && v <= 500000 {
			if best == nil || v > *best {
				value := v
				best = &value
			}
		}
	}
	return best
}

func notDigit(r rune) bool { return r < '0' || r > '9' }

// fetchAutodiilerMakes pulls the make dropdown off the homepage. Shared by
// the adapter and the taxonomy extractor.
func fetchAutodiilerMakes(ctx context.Context, transport fetch.Transport, baseURL string) ([]models.SourceMake, error) {
	body, err := transport.Get(ctx, baseURL+"/et")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of homepage: %v", utils.ErrParsing, err)
	}

	var makes []models.SourceMake
	doc.Find("div#home-search-brand-id-dropdown ul li").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		key := strings.TrimSpace(strings.TrimPrefix(id, autodiilerMakeOptionPrefix))
		label, _ := sel.Attr("aria-label")
		label = strings.TrimSpace(label)
		if label == "" {
			label = strings.TrimSpace(sel.Text())
		}
		if key != "" && key != id {
			makes = append(makes, models.SourceMake{Key: key, Label: label})
		}
	})
	return makes, nil
}

// fetchAutodiilerMakeTree fetches one make's series/model groups from the
// garage API.
func fetchAutodiilerMakeTree(ctx context.Context, transport fetch.Transport, apiBase, makeKey string) ([]adlrGroup, error) {
	treeURL := fmt.Sprintf("%s/vehicles/misc/brands/%s/models?locale=et&vehicle_type_id=", apiBase, makeKey)
	body, err := transport.Get(ctx, treeURL)
	if err != nil {
		return nil, err
	}
	var resp adlrTreeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: JSON of model tree: %v", utils.ErrParsing, err)
	}
	return resp.Data, nil
}

func (a *Autodiiler) host() string {
	if u, err := url.Parse(a.apiBase); err == nil {
		return u.Hostname()
	}
	return a.apiBase
}

package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
	"carindex/pkg/utils"
)

const auto24BaseURL = "https://www.auto24.ee"

var (
	vehicleIDRe   = regexp.MustCompile(`/vehicles/(\d+)`)
	priceEuroRe   = regexp.MustCompile(`(\d{1,3}(?:[\s  ]?\d{3})*)\s*€`)
	priceDigitsRe = regexp.MustCompile(`(\d[\d\s  ]*)`)
	mileageKmRe   = regexp.MustCompile(`(?i)(\d{1,3}(?:[\s  ]?\d{3})+)\s*km`)
	descNoiseRes  = []*regexp.Regexp{
		regexp.MustCompile(`Eestis arvel[^.]*\.`),
		regexp.MustCompile(`Sõiduki asukoht:[^.]*\.`),
		regexp.MustCompile(`Müüja[^.]*\.`),
		regexp.MustCompile(`Salvesta|Jaga|Võrdle|Prindi|Teavita`),
	}
	descClassRe = regexp.MustCompile(`other-info|other_info|lisainfo`)
)

// Auto24 crawls auto24.ee: HTML search pages (50 rows each) and HTML detail
// pages. The site sits behind an anti-bot frontend, so it is normally wired
// with the impersonating transport.
type Auto24 struct {
	transport   fetch.Transport
	rateLimiter *fetch.RateLimiter
	baseURL     string
	pageDelay   time.Duration
	converter   *md.Converter
	log         *logrus.Entry
}

// NewAuto24 creates the auto24 adapter.
func NewAuto24(deps Deps) *Auto24 {
	base := deps.BaseURL
	if base == "" {
		base = auto24BaseURL
	}
	return &Auto24{
		transport:   deps.Transport,
		rateLimiter: deps.RateLimiter,
		baseURL:     strings.TrimRight(base, "/"),
		pageDelay:   deps.PageDelay,
		converter:   md.NewConverter("", true, nil),
		log:         deps.Log.WithField("site", SiteAuto24),
	}
}

// Site returns the adapter's site name.
func (a *Auto24) Site() string { return SiteAuto24 }

// Close closes the adapter's transport.
func (a *Auto24) Close() error { return a.transport.Close() }

// EnumerateLocators walks the used-car search pages and collects unique
// listing URLs. Pagination runs on a 50-row offset; the page counter span
// tells us when the site stopped serving new pages.
func (a *Auto24) EnumerateLocators(ctx context.Context, maxPages int) ([]Locator, error) {
	seen := make(map[string]struct{})
	host := a.host()

	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		searchURL := a.baseURL + "/kasutatud/nimekiri.php"
		if page > 1 {
			searchURL = fmt.Sprintf("%s?ak=%d", searchURL, (page-1)*50)
		}

		a.rateLimiter.ApplyDelay(host, a.pageDelay)
		body, err := a.transport.Get(ctx, searchURL)
		a.rateLimiter.UpdateLastRequestTime(host)
		if err != nil {
			if len(seen) > 0 {
				// Keep what we have; a mid-walk failure should not void the run
				a.log.WithField("page", page).Warnf("Stopping enumeration: %v", err)
				break
			}
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: HTML of search page %d: %v", utils.ErrParsing, page, err)
		}

		if !a.onPage(doc, page) {
			a.log.WithField("page", page-1).Info("No more pages")
			break
		}
		pageURLs := a.listingURLs(doc)
		if len(pageURLs) == 0 {
			a.log.WithField("page", page).Info("No more listings")
			break
		}
		for _, u := range pageURLs {
			seen[u] = struct{}{}
		}
		a.log.WithFields(logrus.Fields{"page": page, "found": len(pageURLs)}).Info("Search page enumerated")
	}

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	locators := make([]Locator, len(urls))
	for i, u := range urls {
		locators[i] = Locator{URL: u}
	}
	a.log.WithField("total", len(locators)).Info("Enumeration finished")
	return locators, nil
}

// onPage checks the "(current / total)" counter to confirm the site actually
// served the requested page instead of silently repeating the last one.
func (a *Auto24) onPage(doc *goquery.Document, page int) bool {
	counter := doc.Find("span.page-cntr").First()
	if counter.Length() == 0 {
		return false
	}
	text := strings.TrimSpace(counter.Text())
	current := strings.TrimSpace(strings.ReplaceAll(strings.SplitN(text, "/", 2)[0], "(", ""))
	n, err := strconv.Atoi(current)
	if err != nil {
		return false
	}
	return n >= page
}

func (a *Auto24) listingURLs(doc *goquery.Document) []string {
	var urls []string
	doc.Find("a.row-link").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		full := href
		if strings.HasPrefix(href, "/") {
			full = a.baseURL + href
		}
		// Normalize the English URL variant to the Estonian one
		if m := vehicleIDRe.FindStringSubmatch(full); m != nil {
			full = a.baseURL + "/soidukid/" + m[1]
		}
		urls = append(urls, full)
	})
	return urls
}

// FetchAndParse fetches one detail page and extracts the listing draft.
func (a *Auto24) FetchAndParse(ctx context.Context, loc Locator) (*models.ListingDraft, error) {
	body, err := a.transport.Get(ctx, loc.URL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of %s: %v", utils.ErrParsing, loc.URL, err)
	}

	draft := &models.ListingDraft{
		SourceSite: SiteAuto24,
		SourceURL:  loc.URL,
		Title:      strings.TrimSpace(doc.Find("h1").First().Text()),
		Taxonomy:   loc.Hint,
	}
	if draft.Title == "" {
		draft.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	a.parseBreadcrumbs(doc, draft)
	draft.Price = a.extractPrice(doc)

	details := a.extractDetails(doc)
	if yearText, ok := firstDetail(details, "esmane reg", "aasta", "esmane registreerimine"); ok {
		if y, found := utils.FirstYear(yearText); found {
			draft.Year = &y
		}
	}
	draft.Mileage = a.extractMileage(doc, details)
	if fuel, ok := firstDetail(details, "kütus", "kütusetüüp"); ok {
		draft.FuelType = NormalizeFuelType(fuel)
	}
	draft.Transmission, _ = firstDetail(details, "käigukast")
	draft.BodyType, _ = firstDetail(details, "keretüüp")
	draft.Color, _ = firstDetail(details, "värvus", "värv")
	draft.Description = a.extractDescription(doc)
	if img, ok := doc.Find("div#lightgallery img").First().Attr("src"); ok {
		draft.ImageURL = img
	}

	return draft, nil
}

// parseBreadcrumbs reads make/series/model from the taxonomy breadcrumb
// links. The link target encodes the depth: two "bw" parameters mean a model
// crumb, one means a series crumb and a bare "b=" parameter is the make.
// Crumbs carrying f1/f2 filter parameters are navigation, not taxonomy.
func (a *Auto24) parseBreadcrumbs(doc *goquery.Document, draft *models.ListingDraft) {
	doc.Find(".b-breadcrumbs a.b-breadcrumbs__item").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.Contains(href, "f1") || strings.Contains(href, "f2") {
			return
		}
		text := strings.TrimSpace(sel.Text())
		switch strings.Count(href, "bw") {
		case 2:
			draft.ModelText = text
		case 1:
			draft.SeriesText = text
		case 0:
			if strings.Count(href, "b=") == 1 {
				draft.MakeText = text
			}
		}
	})
}

// extractPrice reads the price from the data container ("Soodushind" beats
// "Hind"), falling back to the median plausible €-amount on the page.
func (a *Auto24) extractPrice(doc *goquery.Document) *float64 {
	container := doc.Find("div.data-container").First()
	if container.Length() > 0 {
		lines := textLines(container)
		var price *float64
		for i, line := range lines {
			label := strings.ToLower(line)
			if (label == "soodushind" || label == "hind") && i+1 < len(lines) {
				if m := priceDigitsRe.FindStringSubmatch(lines[i+1]); m != nil {
					if v, found := utils.ExtractNumber(m[1]); found {
						value := v
						price = &value
						if label == "soodushind" { // Sale price takes priority
							return price
						}
					}
				}
			}
		}
		if price != nil {
			return price
		}
	}

	// Fallback: every €-amount on the page in a plausible range, median wins
	var valid []float64
	for _, m := range priceEuroRe.FindAllStringSubmatch(doc.Text(), -1) {
		if v, found := utils.ExtractNumber(m[1]); found && v >= 100 && v <= 500000 {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Float64s(valid)
	pick := valid[len(valid)-1]
	if len(valid) > 2 {
		pick = valid[len(valid)/2]
	}
	return &pick
}

// extractDetails flattens the data container's label/value line pairs and
// the technical-data table rows into one lowercase-keyed map.
func (a *Auto24) extractDetails(doc *goquery.Document) map[string]string {
	details := make(map[string]string)

	container := doc.Find("div.data-container").First()
	if container.Length() > 0 {
		lines := textLines(container)
		for i := 0; i < len(lines)-1; {
			key := strings.ToLower(lines[i])
			value := lines[i+1]
			if key != "" && value != "" && strings.ToLower(value) != key {
				details[key] = value
				i += 2
			} else {
				i++
			}
		}
	}

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(row.Find("th").First().Text()))
		value := strings.TrimSpace(row.Find("td").First().Text())
		if label != "" && value != "" {
			if _, exists := details[label]; !exists {
				details[label] = value
			}
		}
	})
	return details
}

func (a *Auto24) extractMileage(doc *goquery.Document, details map[string]string) *int64 {
	if text, ok := firstDetail(details, "läbisõidumõõdiku näit", "läbisõit", "odomeeter", "odomeetri näit"); ok {
		if v, found := utils.ExtractNumber(text); found {
			km := int64(v)
			return &km
		}
	}
	if m := mileageKmRe.FindStringSubmatch(doc.Text()); m != nil {
		if v, found := utils.ExtractNumber(m[1]); found {
			km := int64(v)
			return &km
		}
	}
	return nil
}

// extractDescription converts the seller's free-text block to markdown and
// strips boilerplate phrases the site injects around it.
func (a *Auto24) extractDescription(doc *goquery.Document) string {
	var block *goquery.Selection
	doc.Find("div").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		class, _ := sel.Attr("class")
		if descClassRe.MatchString(class) {
			block = sel
			return false
		}
		return true
	})
	if block == nil {
		return ""
	}

	html, err := goquery.OuterHtml(block)
	if err != nil {
		return ""
	}
	text, err := a.converter.ConvertString(html)
	if err != nil {
		a.log.Debugf("Description conversion failed: %v", err)
		text = block.Text()
	}
	for _, re := range descNoiseRes {
		text = re.ReplaceAllString(text, "")
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= 20 {
		return ""
	}
	return utils.Truncate(text, 2000)
}

func (a *Auto24) host() string {
	if u, err := url.Parse(a.baseURL); err == nil {
		return u.Hostname()
	}
	return a.baseURL
}

// NormalizeFuelType folds a raw fuel label (Estonian or English) onto the
// catalog's canonical Estonian values.
func NormalizeFuelType(raw string) string {
	fuel := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case fuel == "":
		return ""
	case strings.Contains(fuel, "hybrid") || strings.Contains(fuel, "hübriid"):
		return "Hübriid"
	case strings.Contains(fuel, "bensiin") || strings.Contains(fuel, "petrol"):
		return "Bensiin"
	case strings.Contains(fuel, "diisel") || strings.Contains(fuel, "diesel"):
		return "Diisel"
	case strings.Contains(fuel, "elekter") || strings.Contains(fuel, "electric"):
		return "Elekter"
	default:
		runes := []rune(fuel)
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

// textLines explodes a selection into trimmed non-empty text lines.
func textLines(sel *goquery.Selection) []string {
	var lines []string
	for _, line := range strings.Split(sel.Text(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func firstDetail(details map[string]string, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := details[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

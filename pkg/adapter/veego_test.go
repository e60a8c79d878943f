package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carindex/pkg/fetch"
	"carindex/pkg/models"
)

const veegoMakesJSON = `[{"id":77,"name":"BMW"}]`

const veegoModelsJSON = `[
{"id":700,"name":"3 series","lvl":1,"models":[{"id":701,"name":"320"}]},
{"id":800,"name":"X5","lvl":1,"models":[]},
{"id":900,"name":"trim-level noise","lvl":2,"models":[]}
]`

func newVeegoMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/attr/vehicles/makes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, veegoMakesJSON)
	})
	mux.HandleFunc("/api/attr/77/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, veegoModelsJSON)
	})
	mux.HandleFunc("/api/v2/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var payload struct {
			ModelIDs []string `json:"model_ids"`
			Page     int      `json:"page"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.ModelIDs, 1)

		if payload.Page > 1 {
			fmt.Fprint(w, `{"results":[]}`)
			return
		}
		switch payload.ModelIDs[0] {
		case "701":
			fmt.Fprint(w, `{"results":[{"id":9001},{"id":9002}]}`)
		case "800":
			fmt.Fprint(w, `{"results":[{"id":9002},{"id":9003}]}`)
		default:
			fmt.Fprint(w, `{"results":[]}`)
		}
	})
	return mux
}

func newVeegoForServer(t *testing.T, server *httptest.Server) *Veego {
	t.Helper()
	deps := Deps{
		Transport:   fetch.NewPlainTransport(server.Client(), "test-agent", nil, testEntry()),
		RateLimiter: fetch.NewRateLimiter(0, testLogger()),
		BaseURL:     server.URL,
		Log:         testEntry(),
	}
	return NewVeego(deps)
}

func TestVeegoEnumerateLocators(t *testing.T) {
	server := httptest.NewServer(newVeegoMux(t))
	defer server.Close()

	v := newVeegoForServer(t, server)
	defer v.Close()

	locators, err := v.EnumerateLocators(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, locators, 3) // 9002 shared between combos, kept once

	byURL := make(map[string]*models.SourceTaxonomy)
	for _, loc := range locators {
		byURL[loc.URL] = loc.Hint
	}

	hint := byURL[server.URL+"/soidukid/9001"]
	require.NotNil(t, hint)
	assert.Equal(t, "77", hint.MakeKey)
	assert.Equal(t, "700", hint.SeriesKey)
	assert.Equal(t, "701", hint.ModelKey)

	// First combo to see a URL wins its hint
	hint = byURL[server.URL+"/soidukid/9002"]
	require.NotNil(t, hint)
	assert.Equal(t, "701", hint.ModelKey)

	hint = byURL[server.URL+"/soidukid/9003"]
	require.NotNil(t, hint)
	assert.Equal(t, "", hint.SeriesKey)
	assert.Equal(t, "800", hint.ModelKey)
}

const veegoDetailPage = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product",
"name":"BMW 320 2.0d xDrive",
"brand":{"@type":"Brand","name":"BMW"},
"model":"320",
"vehicleModelDate":"2019",
"offers":{"@type":"Offer","price":"15900","priceCurrency":"EUR"},
"description":"Hooldusraamat olemas, läbisõit 120 000 km, talverehvid kaasa.",
"fuelType":"Diesel",
"vehicleTransmission":"Automatic",
"bodyType":"Sedan",
"color":"Must",
"image":["https://cdn.veego.ee/1.jpg","https://cdn.veego.ee/2.jpg"]}</script>
</head><body></body></html>`

func TestVeegoFetchAndParse(t *testing.T) {
	mux := newVeegoMux(t)
	mux.HandleFunc("/soidukid/9001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, veegoDetailPage)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	v := newVeegoForServer(t, server)
	defer v.Close()

	hint := &models.SourceTaxonomy{MakeKey: "77", SeriesKey: "700", ModelKey: "701"}
	draft, err := v.FetchAndParse(context.Background(), Locator{URL: server.URL + "/soidukid/9001", Hint: hint})
	require.NoError(t, err)

	assert.Equal(t, SiteVeego, draft.SourceSite)
	assert.Equal(t, "BMW 320 2.0d xDrive", draft.Title)
	assert.Equal(t, "BMW", draft.MakeText)
	assert.Equal(t, "320", draft.ModelText)
	require.NotNil(t, draft.Year)
	assert.Equal(t, 2019, *draft.Year)
	require.NotNil(t, draft.Price)
	assert.Equal(t, 15900.0, *draft.Price)
	require.NotNil(t, draft.Mileage)
	assert.Equal(t, int64(120000), *draft.Mileage)
	assert.Equal(t, "Diisel", draft.FuelType)
	assert.Equal(t, "Automatic", draft.Transmission)
	assert.Equal(t, "Sedan", draft.BodyType)
	assert.Equal(t, "Must", draft.Color)
	assert.Equal(t, "https://cdn.veego.ee/1.jpg", draft.ImageURL)
	assert.Equal(t, hint, draft.Taxonomy)
}

func TestVeegoFetchAndParseWithoutJSONLD(t *testing.T) {
	mux := newVeegoMux(t)
	mux.HandleFunc("/soidukid/9009", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>BMW 320</h1></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	v := newVeegoForServer(t, server)
	defer v.Close()

	_, err := v.FetchAndParse(context.Background(), Locator{URL: server.URL + "/soidukid/9009"})
	assert.Error(t, err)
}

const veegoChunkJS = `const dict={series:{t:0,b:{t:2,i:[{t:3}],s:"seeria"}},"e series":{t:0,b:{t:2,i:[{t:3}],s:"e seeria"}},other:{t:1}}`

func TestVeegoTranslator(t *testing.T) {
	translator, err := NewVeegoTranslatorFromJS(veegoChunkJS)
	require.NoError(t, err)

	tests := []struct {
		input string
		want  string
	}{
		{"series", "seeria"},
		{"e series", "e seeria"},
		{"3 series", "3 seeria"},
		{"Series 5", "seeria 5"},
		{"C series coupe", "C seeria coupe"},
		{"X5", "X5"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, translator.Translate(tc.input), "input %q", tc.input)
	}
}

func TestVeegoTranslatorRejectsUnrecognisedChunk(t *testing.T) {
	_, err := NewVeegoTranslatorFromJS(`window.__NUXT__={}`)
	assert.Error(t, err)
}

func TestVeegoTaxonomyExtractor(t *testing.T) {
	mux := newVeegoMux(t)
	mux.HandleFunc("/chunk.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, veegoChunkJS)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := fetch.NewPlainTransport(server.Client(), "test-agent", nil, testEntry())
	extractor := NewVeegoTaxonomyExtractor(transport, server.URL, server.URL+"/chunk.js", testEntry())

	tree, err := extractor.ExtractTaxonomy(context.Background())
	require.NoError(t, err)
	require.Len(t, tree, 1)

	bmw := tree[0]
	assert.Equal(t, "77", bmw.Key)
	assert.Equal(t, "BMW", bmw.Label)
	require.Len(t, bmw.Series, 1)
	assert.Equal(t, "700", bmw.Series[0].Key)
	assert.Equal(t, "3 seeria", bmw.Series[0].Label) // translated
	require.Len(t, bmw.Series[0].Models, 1)
	assert.Equal(t, "701", bmw.Series[0].Models[0].Key)
	require.Len(t, bmw.ModelsNoSeries, 1)
	assert.Equal(t, "X5", bmw.ModelsNoSeries[0].Label)
}

func TestVeegoTaxonomyExtractorSurvivesMissingChunk(t *testing.T) {
	server := httptest.NewServer(newVeegoMux(t))
	defer server.Close()

	transport := fetch.NewPlainTransport(server.Client(), "test-agent", nil, testEntry())
	extractor := NewVeegoTaxonomyExtractor(transport, server.URL, server.URL+"/missing.js", testEntry())

	tree, err := extractor.ExtractTaxonomy(context.Background())
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "3 series", tree[0].Series[0].Label) // untranslated fallback
}

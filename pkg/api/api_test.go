package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carindex/pkg/models"
	"carindex/pkg/storage"
)

func testServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), log.WithField("test", true))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewServer(store, ":0", log.WithField("test", true)), store
}

func seedListings(t *testing.T, store *storage.Store) {
	t.Helper()
	ctx := context.Background()

	price1, price2 := 12500.0, 31900.0
	year1, year2 := 2018, 2022
	drafts := []*models.ListingDraft{
		{
			SourceSite: "auto24", SourceURL: "https://a/1", Title: "BMW 320",
			MakeText: "BMW", SeriesText: "3. seeria", ModelText: "320",
			Price: &price1, Year: &year1, FuelType: "Diisel", BodyType: "sedaan",
		},
		{
			SourceSite: "veego", SourceURL: "https://v/2", Title: "Audi Q5",
			MakeText: "Audi", ModelText: "Q5",
			Price: &price2, Year: &year2, FuelType: "Bensiin", BodyType: "maastur",
		},
	}
	_, err := store.UpsertMany(ctx, drafts, "run-1")
	require.NoError(t, err)

	makeID, err := store.UpsertMake(ctx, "BMW", "bmw")
	require.NoError(t, err)
	seriesID, err := store.UpsertSeries(ctx, makeID, "3. seeria", "3. seeria")
	require.NoError(t, err)
	modelID, err := store.UpsertModel(ctx, makeID, seriesID, "320", "320")
	require.NoError(t, err)

	bmw, err := store.GetListingBySourceURL(ctx, "https://a/1")
	require.NoError(t, err)
	require.NotNil(t, bmw)
	require.NoError(t, store.SetCanonicalIDs(ctx, bmw.ID, &makeID, &seriesID, &modelID))
}

func doGET(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testServer(t)
	rec, body := doGET(t, server.Router(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestListListings(t *testing.T) {
	server, store := testServer(t)
	seedListings(t, store)
	router := server.Router()

	rec, body := doGET(t, router, "/api/listings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(50), body["limit"])
	assert.Len(t, body["listings"], 2)
}

func TestListListingsFilters(t *testing.T) {
	server, store := testServer(t)
	seedListings(t, store)
	router := server.Router()

	rec, body := doGET(t, router, "/api/listings?source_site=auto24")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = doGET(t, router, "/api/listings?min_price=20000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
	listings := body["listings"].([]interface{})
	first := listings[0].(map[string]interface{})
	assert.Equal(t, "Audi Q5", first["title"])

	rec, body = doGET(t, router, "/api/listings?q=bmw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = doGET(t, router, "/api/listings?max_year=2019&fuel_type=Diisel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
}

func TestListListingsRejectsBadParams(t *testing.T) {
	server, _ := testServer(t)
	router := server.Router()

	for _, path := range []string{
		"/api/listings?limit=0",
		"/api/listings?limit=101",
		"/api/listings?limit=abc",
		"/api/listings?offset=-1",
		"/api/listings?make_id=xyz",
		"/api/listings?min_price=cheap",
		"/api/listings?min_year=new",
	} {
		rec, _ := doGET(t, router, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
	}
}

func TestGetListingByID(t *testing.T) {
	server, store := testServer(t)
	seedListings(t, store)
	router := server.Router()

	bmw, err := store.GetListingBySourceURL(context.Background(), "https://a/1")
	require.NoError(t, err)

	rec, body := doGET(t, router, fmt.Sprintf("/api/listings/%d", bmw.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BMW 320", body["title"])
	assert.Equal(t, "auto24", body["source_site"])
	assert.NotNil(t, body["make_id"])

	rec, _ = doGET(t, router, "/api/listings/999999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doGET(t, router, "/api/listings/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsOverview(t *testing.T) {
	server, store := testServer(t)
	seedListings(t, store)

	rec, body := doGET(t, server.Router(), "/api/stats/overview")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total_listings"])
	assert.Equal(t, float64(1), body["resolved_listings"])
	bySite := body["by_site"].(map[string]interface{})
	assert.Equal(t, float64(1), bySite["auto24"])
	assert.Equal(t, float64(1), bySite["veego"])
}

func TestFilterOptionEndpoints(t *testing.T) {
	server, store := testServer(t)
	seedListings(t, store)
	router := server.Router()

	rec, body := doGET(t, router, "/api/filter-options/makes")
	require.Equal(t, http.StatusOK, rec.Code)
	opts := body["options"].([]interface{})
	require.Len(t, opts, 1)
	bmw := opts[0].(map[string]interface{})
	assert.Equal(t, "BMW", bmw["label"])
	makeID := int64(bmw["id"].(float64))

	rec, body = doGET(t, router, fmt.Sprintf("/api/filter-options/series/%d", makeID))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["options"], 1)

	rec, body = doGET(t, router, fmt.Sprintf("/api/filter-options/models/%d", makeID))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["options"], 1)

	rec, _ = doGET(t, router, "/api/filter-options/series/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doGET(t, router, "/api/filter-options/fuel-types")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["values"], 2)

	rec, body = doGET(t, router, "/api/filter-options/body-types")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["values"], 2)
}

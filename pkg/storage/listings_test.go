package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carindex/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), log.WithField("test", true))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func draft(site, url string) *models.ListingDraft {
	price := 12500.0
	year := 2018
	return &models.ListingDraft{
		SourceSite: site,
		SourceURL:  url,
		Title:      "BMW 320d",
		MakeText:   "BMW",
		SeriesText: "3. seeria",
		ModelText:  "320",
		Price:      &price,
		Year:       &year,
		FuelType:   "Diisel",
	}
}

func TestUpsertManyInsertThenUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	report, err := s.UpsertMany(ctx, []*models.ListingDraft{draft("auto24", "https://www.auto24.ee/soidukid/1")}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 0, report.Updated)

	stored, err := s.GetListingBySourceURL(ctx, "https://www.auto24.ee/soidukid/1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	createdAt := stored.CreatedAt
	assert.Equal(t, "run-1", stored.LastSeenRunID)
	require.NotNil(t, stored.Price)
	assert.Equal(t, 12500.0, *stored.Price)

	// Same URL again: must update in place, keeping created_at
	time.Sleep(10 * time.Millisecond)
	d := draft("auto24", "https://www.auto24.ee/soidukid/1")
	newPrice := 11900.0
	d.Price = &newPrice
	report, err = s.UpsertMany(ctx, []*models.ListingDraft{d}, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Inserted)
	assert.Equal(t, 1, report.Updated)

	stored, err = s.GetListingBySourceURL(ctx, "https://www.auto24.ee/soidukid/1")
	require.NoError(t, err)
	assert.Equal(t, createdAt, stored.CreatedAt)
	assert.True(t, stored.UpdatedAt.After(createdAt))
	assert.Equal(t, "run-2", stored.LastSeenRunID)
	assert.Equal(t, 11900.0, *stored.Price)

	total, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestUpsertManyValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	drafts := []*models.ListingDraft{
		draft("auto24", "https://www.auto24.ee/soidukid/1"),
		{SourceSite: "auto24"},            // missing source_url
		{SourceURL: "https://x.ee/1"},     // missing source_site
		draft("auto24", "https://www.auto24.ee/soidukid/2"),
	}
	report, err := s.UpsertMany(ctx, drafts, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 2, report.ValidationErrors)

	total, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestUpsertManyEmptyRunIDLeavesFreshnessAlone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertMany(ctx, []*models.ListingDraft{draft("auto24", "https://www.auto24.ee/soidukid/1")}, "run-1")
	require.NoError(t, err)

	_, err = s.UpsertMany(ctx, []*models.ListingDraft{draft("auto24", "https://www.auto24.ee/soidukid/1")}, "")
	require.NoError(t, err)

	stored, err := s.GetListingBySourceURL(ctx, "https://www.auto24.ee/soidukid/1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", stored.LastSeenRunID)
}

func TestDeleteStaleForSite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// 10 listings from run-1
	var firstRun []*models.ListingDraft
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = "https://www.auto24.ee/soidukid/" + string(rune('a'+i))
		firstRun = append(firstRun, draft("auto24", urls[i]))
	}
	_, err := s.UpsertMany(ctx, firstRun, "run-1")
	require.NoError(t, err)

	// run-2 sees only the first 7
	var secondRun []*models.ListingDraft
	for _, u := range urls[:7] {
		secondRun = append(secondRun, draft("auto24", u))
	}
	_, err = s.UpsertMany(ctx, secondRun, "run-2")
	require.NoError(t, err)

	deleted, err := s.DeleteStaleForSite(ctx, "auto24", "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, err := s.CountBySite(ctx, "auto24")
	require.NoError(t, err)
	assert.Equal(t, int64(7), remaining)
}

func TestDeleteStaleForSiteScopedToSite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertMany(ctx, []*models.ListingDraft{draft("auto24", "https://www.auto24.ee/soidukid/1")}, "run-1")
	require.NoError(t, err)
	_, err = s.UpsertMany(ctx, []*models.ListingDraft{draft("veego", "https://veego.ee/soidukid/9")}, "run-1")
	require.NoError(t, err)

	// A later auto24 run must not touch veego rows
	_, err = s.UpsertMany(ctx, []*models.ListingDraft{draft("auto24", "https://www.auto24.ee/soidukid/2")}, "run-2")
	require.NoError(t, err)
	deleted, err := s.DeleteStaleForSite(ctx, "auto24", "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	veegoCount, err := s.CountBySite(ctx, "veego")
	require.NoError(t, err)
	assert.Equal(t, int64(1), veegoCount)
}

func TestListUnresolvedAndSetCanonicalIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertMany(ctx, []*models.ListingDraft{
		draft("auto24", "https://www.auto24.ee/soidukid/1"),
		draft("auto24", "https://www.auto24.ee/soidukid/2"),
	}, "run-1")
	require.NoError(t, err)

	unresolved, err := s.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unresolved, 2)

	makeID, seriesID, modelID := int64(1), int64(2), int64(3)
	require.NoError(t, s.SetCanonicalIDs(ctx, unresolved[0].ID, &makeID, &seriesID, &modelID))

	unresolved, err = s.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	resolved, err := s.GetListingBySourceURL(ctx, "https://www.auto24.ee/soidukid/1")
	require.NoError(t, err)
	require.NotNil(t, resolved.MakeID)
	assert.Equal(t, int64(1), *resolved.MakeID)
	require.NotNil(t, resolved.SeriesID)
	assert.Equal(t, int64(2), *resolved.SeriesID)
	require.NotNil(t, resolved.ModelID)
	assert.Equal(t, int64(3), *resolved.ModelID)
}

func TestSearchListingsFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cheap := draft("auto24", "https://www.auto24.ee/soidukid/1")
	cheapPrice := 5000.0
	cheap.Price = &cheapPrice
	expensive := draft("veego", "https://veego.ee/soidukid/2")
	expensivePrice := 30000.0
	expensive.Price = &expensivePrice

	_, err := s.UpsertMany(ctx, []*models.ListingDraft{cheap, expensive}, "run-1")
	require.NoError(t, err)

	minPrice := 10000.0
	results, total, err := s.SearchListings(ctx, ListingFilter{MinPrice: &minPrice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, results, 1)
	assert.Equal(t, "https://veego.ee/soidukid/2", results[0].SourceURL)

	results, total, err = s.SearchListings(ctx, ListingFilter{SourceSite: "auto24"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "auto24", results[0].SourceSite)

	_, total, err = s.SearchListings(ctx, ListingFilter{Query: "320d"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

package taxonomy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carindex/pkg/models"
)

// staticExtractor serves a fixed tree for seeding tests.
type staticExtractor struct {
	site string
	tree []models.SourceMake
}

func (e *staticExtractor) Site() string { return e.site }
func (e *staticExtractor) ExtractTaxonomy(ctx context.Context) ([]models.SourceMake, error) {
	return e.tree, nil
}

func bmwTree() []models.SourceMake {
	return []models.SourceMake{
		{
			Key:   "101",
			Label: "BMW",
			Series: []models.SourceSeries{
				{
					Key:   "3100",
					Label: "3. seeria (kõik)",
					Models: []models.SourceModel{
						{Key: "3101", Label: "318"},
						{Key: "3102", Label: "320"},
					},
				},
			},
			ModelsNoSeries: []models.SourceModel{
				{Key: "5500", Label: "X5"},
			},
		},
		{
			Key:            "202",
			Label:          "Lada",
			ModelsNoSeries: []models.SourceModel{{Label: "Niva"}}, // No native key
		},
	}
}

func TestSeedFromSource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seeder := NewSeeder(s, testEntry())

	report, err := seeder.SeedFromSource(ctx, &staticExtractor{site: "auto24", tree: bmwTree()})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Makes)
	assert.Equal(t, 1, report.Series)
	assert.Equal(t, 4, report.Models)
	assert.Equal(t, 7, report.Mappings) // 2 makes + 1 series + 4 models

	// Labels are cleaned before storage
	bmw, err := s.FindMakeByNorm(ctx, "bmw")
	require.NoError(t, err)
	require.NotNil(t, bmw)
	series, err := s.FindSeriesByNorm(ctx, bmw.ID, "3 seeria")
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.Equal(t, "3 seeria", series.Label)

	// Model under the series and the standalone model land in their scopes
	m320, err := s.FindModelByNorm(ctx, bmw.ID, series.ID, "320")
	require.NoError(t, err)
	require.NotNil(t, m320)
	x5, err := s.FindModelByNorm(ctx, bmw.ID, 0, "x5")
	require.NoError(t, err)
	require.NotNil(t, x5)

	// Native keys are recorded on the mappings
	mapping, err := s.FindMappingByKey(ctx, "auto24", models.EntityModel, bmw.ID, "5500")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, x5.ID, mapping.CanonicalID)
}

func TestSeedFromSourceIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seeder := NewSeeder(s, testEntry())
	extractor := &staticExtractor{site: "auto24", tree: bmwTree()}

	first, err := seeder.SeedFromSource(ctx, extractor)
	require.NoError(t, err)
	second, err := seeder.SeedFromSource(ctx, extractor)
	require.NoError(t, err)

	// Same entities touched, no new mappings created
	assert.Equal(t, first.Makes, second.Makes)
	assert.Equal(t, first.Models, second.Models)
	assert.Equal(t, 0, second.Mappings)

	makes, err := s.MakesWithListings(ctx)
	require.NoError(t, err)
	assert.Empty(t, makes) // Still no listings, just catalog rows
}

func TestSeedFromTwoSitesSharesCanonicalEntities(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seeder := NewSeeder(s, testEntry())

	_, err := seeder.SeedFromSource(ctx, &staticExtractor{site: "auto24", tree: bmwTree()})
	require.NoError(t, err)
	// veego spells the same catalog with its own keys
	veegoTree := bmwTree()
	veegoTree[0].Key = "v-77"
	_, err = seeder.SeedFromSource(ctx, &staticExtractor{site: "veego", tree: veegoTree})
	require.NoError(t, err)

	bmw, err := s.FindMakeByNorm(ctx, "bmw")
	require.NoError(t, err)
	require.NotNil(t, bmw)

	// Both sites' make mappings point at the one canonical BMW
	a24, err := s.FindMappingByNorm(ctx, "auto24", models.EntityMake, 0, 0, "bmw")
	require.NoError(t, err)
	veego, err := s.FindMappingByNorm(ctx, "veego", models.EntityMake, 0, 0, "bmw")
	require.NoError(t, err)
	require.NotNil(t, a24)
	require.NotNil(t, veego)
	assert.Equal(t, bmw.ID, a24.CanonicalID)
	assert.Equal(t, bmw.ID, veego.CanonicalID)
	assert.Equal(t, "v-77", veego.SourceKey)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carindex/pkg/models"
	"carindex/pkg/storage"
	"carindex/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// listingJSON is the wire shape of one listing.
type listingJSON struct {
	ID           int64    `json:"id"`
	SourceSite   string   `json:"source_site"`
	SourceURL    string   `json:"source_url"`
	Title        string   `json:"title"`
	MakeText     string   `json:"make_text"`
	SeriesText   string   `json:"series_text,omitempty"`
	ModelText    string   `json:"model_text"`
	Price        *float64 `json:"price"`
	Year         *int     `json:"year"`
	Mileage      *int64   `json:"mileage"`
	FuelType     string   `json:"fuel_type,omitempty"`
	BodyType     string   `json:"body_type,omitempty"`
	Transmission string   `json:"transmission,omitempty"`
	Color        string   `json:"color,omitempty"`
	Description  string   `json:"description,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	MakeID       *int64   `json:"make_id"`
	SeriesID     *int64   `json:"series_id"`
	ModelID      *int64   `json:"model_id"`
	UpdatedAt    string   `json:"updated_at"`
}

func toListingJSON(l *models.Listing) listingJSON {
	return listingJSON{
		ID:           l.ID,
		SourceSite:   l.SourceSite,
		SourceURL:    l.SourceURL,
		Title:        l.Title,
		MakeText:     l.MakeText,
		SeriesText:   l.SeriesText,
		ModelText:    l.ModelText,
		Price:        l.Price,
		Year:         l.Year,
		Mileage:      l.Mileage,
		FuelType:     l.FuelType,
		BodyType:     l.BodyType,
		Transmission: l.Transmission,
		Color:        l.Color,
		Description:  l.Description,
		ImageURL:     l.ImageURL,
		MakeID:       l.MakeID,
		SeriesID:     l.SeriesID,
		ModelID:      l.ModelID,
		UpdatedAt:    l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.store.CountAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": utils.CategorizeError(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListings serves one filtered page of listings.
func (s *Server) handleListings(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	listings, total, err := s.store.SearchListings(c.Request.Context(), filter)
	if err != nil {
		s.serverError(c, err)
		return
	}

	page := make([]listingJSON, len(listings))
	for i, l := range listings {
		page[i] = toListingJSON(l)
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": page,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Server) handleListingByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return
	}
	listing, err := s.store.GetListingByID(c.Request.Context(), id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	c.JSON(http.StatusOK, toListingJSON(listing))
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleMakes(c *gin.Context) {
	opts, err := s.store.MakesWithListings(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": opts})
}

func (s *Server) handleSeries(c *gin.Context) {
	makeID, err := strconv.ParseInt(c.Param("make_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "make_id must be an integer"})
		return
	}
	opts, err := s.store.SeriesWithListings(c.Request.Context(), makeID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": opts})
}

// handleModels serves a make's models, optionally narrowed to one series via
// ?series_id=.
func (s *Server) handleModels(c *gin.Context) {
	makeID, err := strconv.ParseInt(c.Param("make_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "make_id must be an integer"})
		return
	}
	var seriesID *int64
	if raw := c.Query("series_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "series_id must be an integer"})
			return
		}
		seriesID = &id
	}
	opts, err := s.store.ModelsWithListings(c.Request.Context(), makeID, seriesID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": opts})
}

func (s *Server) handleFuelTypes(c *gin.Context) {
	values, err := s.store.FuelTypes(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

func (s *Server) handleBodyTypes(c *gin.Context) {
	values, err := s.store.BodyTypes(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

// parseFilter reads the listing query parameters. On a malformed value it
// writes a 400 and returns ok=false.
func parseFilter(c *gin.Context) (storage.ListingFilter, bool) {
	var f storage.ListingFilter
	f.Query = c.Query("q")
	f.BodyType = c.Query("body_type")
	f.FuelType = c.Query("fuel_type")
	f.SourceSite = c.Query("source_site")

	ints := map[string]**int64{
		"make_id":   &f.MakeID,
		"series_id": &f.SeriesID,
		"model_id":  &f.ModelID,
	}
	for name, dst := range ints {
		if raw := c.Query(name); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
				return f, false
			}
			*dst = &v
		}
	}

	floats := map[string]**float64{
		"min_price": &f.MinPrice,
		"max_price": &f.MaxPrice,
	}
	for name, dst := range floats {
		if raw := c.Query(name); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a number"})
				return f, false
			}
			*dst = &v
		}
	}

	years := map[string]**int{
		"min_year": &f.MinYear,
		"max_year": &f.MaxYear,
	}
	for name, dst := range years {
		if raw := c.Query(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
				return f, false
			}
			*dst = &v
		}
	}

	f.Limit = defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return f, false
		}
		f.Limit = v
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return f, false
		}
		f.Offset = v
	}
	return f, true
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.log.WithField("category", utils.CategorizeError(err)).Errorf("Request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

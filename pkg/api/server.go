package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"carindex/pkg/storage"
)

// Server is the read-only HTTP API over the aggregated catalog.
type Server struct {
	store *storage.Store
	addr  string
	log   *logrus.Entry
}

// NewServer creates the API server. It never writes to the store.
func NewServer(store *storage.Store, addr string, log *logrus.Entry) *Server {
	return &Server{store: store, addr: addr, log: log.WithField("component", "api")}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/listings", s.handleListings)
		api.GET("/listings/:id", s.handleListingByID)
		api.GET("/stats/overview", s.handleStats)

		opts := api.Group("/filter-options")
		{
			opts.GET("/makes", s.handleMakes)
			opts.GET("/series/:make_id", s.handleSeries)
			opts.GET("/models/:make_id", s.handleModels)
			opts.GET("/fuel-types", s.handleFuelTypes)
			opts.GET("/body-types", s.handleBodyTypes)
		}
	}
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("API server shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Microsecond),
		}).Debug("Request served")
	}
}

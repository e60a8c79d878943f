package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"carindex/pkg/adapter"
	"carindex/pkg/crawler"
	"carindex/pkg/models"
	"carindex/pkg/storage"
	"carindex/pkg/taxonomy"
	"carindex/pkg/utils"
)

// SiteJob is one site's unit of work: the adapter plus its effective crawl
// settings.
type SiteJob struct {
	Adapter      adapter.SiteAdapter
	MaxPages     int
	BatchSize    int
	RequestDelay time.Duration
}

// RunOrchestrator drives one full aggregation run: every site crawls in its
// own goroutine under a shared run id, each successful site persists and
// prunes its own listings, and one resolution pass closes the run.
type RunOrchestrator struct {
	store *storage.Store
	log   *logrus.Entry
}

// NewRunOrchestrator creates the orchestrator.
func NewRunOrchestrator(store *storage.Store, log *logrus.Entry) *RunOrchestrator {
	return &RunOrchestrator{store: store, log: log}
}

// RunReport sums up one aggregation run.
type RunReport struct {
	RunID   string
	Sites   []models.SiteResult
	Resolve models.ResolveReport
	Elapsed time.Duration
}

// Run executes every site job concurrently, then resolves whatever the run
// left unresolved. A failed site is reported, never fatal; its previously
// stored listings survive untouched because stale pruning only runs after a
// crawl that produced listings.
func (o *RunOrchestrator) Run(ctx context.Context, jobs []SiteJob) (*RunReport, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := o.log.WithField("run_id", runID)
	log.WithField("sites", len(jobs)).Info("Aggregation run starting")

	results := make([]models.SiteResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(idx int, job SiteJob) {
			defer wg.Done()
			results[idx] = o.runSite(ctx, job, runID, log)
		}(i, job)
	}
	wg.Wait()

	resolveReport, err := taxonomy.NewResolver(o.store, log).ResolveAllUnresolved(ctx, 0)
	if err != nil {
		log.WithField("category", utils.CategorizeError(err)).Errorf("Resolution pass failed: %v", err)
	}

	report := &RunReport{
		RunID:   runID,
		Sites:   results,
		Resolve: resolveReport,
		Elapsed: time.Since(start),
	}
	o.logSummary(log, report)
	return report, nil
}

// runSite crawls one site end to end. Panics inside the site goroutine are
// converted into a failed result so sibling sites keep running.
func (o *RunOrchestrator) runSite(ctx context.Context, job SiteJob, runID string, log *logrus.Entry) (result models.SiteResult) {
	site := job.Adapter.Site()
	siteLog := log.WithField("site", site)
	start := time.Now()
	result.Site = site

	defer func() {
		result.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			siteLog.Errorf("Panic during site run: %v", r)
			result.Failed = true
			result.Err = fmt.Errorf("%w: panic: %v", utils.ErrParsing, r)
		}
	}()

	locators, err := job.Adapter.EnumerateLocators(ctx, job.MaxPages)
	if err != nil {
		siteLog.WithField("category", utils.CategorizeError(err)).Errorf("Enumeration failed: %v", err)
		result.Failed = true
		result.Err = err
		return result
	}

	c := crawler.NewConcurrentCrawler(job.Adapter, job.BatchSize, job.RequestDelay, log)
	crawlResult, err := c.Crawl(ctx, locators)
	if err != nil {
		result.Failed = true
		result.Err = err
		return result
	}
	result.Scraped = len(crawlResult.Drafts)
	result.Errors = crawlResult.Errors

	if result.Scraped == 0 {
		// An empty crawl is indistinguishable from a broken one; leave
		// the stored listings alone rather than wipe the site.
		siteLog.Warn("Crawl produced no listings, skipping persistence and stale pruning")
		result.Failed = true
		result.Err = fmt.Errorf("%w: crawl produced no listings", utils.ErrValidation)
		return result
	}

	saveReport, err := o.store.UpsertMany(ctx, crawlResult.Drafts, runID)
	if err != nil {
		siteLog.WithField("category", utils.CategorizeError(err)).Errorf("Persisting listings failed: %v", err)
		result.Failed = true
		result.Err = err
		return result
	}
	result.Inserted = saveReport.Inserted
	result.Updated = saveReport.Updated
	result.Errors += saveReport.ValidationErrors

	deleted, err := o.store.DeleteStaleForSite(ctx, site, runID)
	if err != nil {
		siteLog.WithField("category", utils.CategorizeError(err)).Errorf("Stale pruning failed: %v", err)
		result.Failed = true
		result.Err = err
		return result
	}
	result.Deleted = deleted

	siteLog.WithFields(logrus.Fields{
		"scraped":  result.Scraped,
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"deleted":  result.Deleted,
		"errors":   result.Errors,
		"elapsed":  result.Elapsed.Round(time.Millisecond),
	}).Info("Site run finished")
	return result
}

func (o *RunOrchestrator) logSummary(log *logrus.Entry, report *RunReport) {
	log.Info("==================================================")
	log.Info("Aggregation run summary")
	for _, sr := range report.Sites {
		entry := log.WithFields(logrus.Fields{
			"site":     sr.Site,
			"scraped":  sr.Scraped,
			"inserted": sr.Inserted,
			"updated":  sr.Updated,
			"deleted":  sr.Deleted,
			"errors":   sr.Errors,
		})
		if sr.Failed {
			entry.Warnf("Site failed: %v", sr.Err)
		} else {
			entry.Info("Site OK")
		}
	}
	log.WithFields(logrus.Fields{
		"resolved_updated": report.Resolve.Updated,
		"resolved_skipped": report.Resolve.Skipped,
		"elapsed":          report.Elapsed.Round(time.Millisecond),
	}).Info("Run finished")
	log.Info("==================================================")
}

package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"carindex/pkg/adapter"
	"carindex/pkg/models"
	"carindex/pkg/utils"
)

// ConcurrentCrawler fetches listing detail pages through a site adapter in
// bounded concurrent batches. One misbehaving page never takes down its
// siblings: failures and panics are logged per URL and the draft dropped.
type ConcurrentCrawler struct {
	adapter      adapter.SiteAdapter
	batchSize    int
	requestDelay time.Duration
	log          *logrus.Entry
}

// NewConcurrentCrawler creates a crawler over one site adapter. batchSize
// bounds in-flight fetches; requestDelay is slept between batches.
func NewConcurrentCrawler(siteAdapter adapter.SiteAdapter, batchSize int, requestDelay time.Duration, log *logrus.Entry) *ConcurrentCrawler {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ConcurrentCrawler{
		adapter:      siteAdapter,
		batchSize:    batchSize,
		requestDelay: requestDelay,
		log:          log.WithField("site", siteAdapter.Site()),
	}
}

// CrawlResult is the outcome of crawling one set of locators.
type CrawlResult struct {
	Drafts []*models.ListingDraft
	Errors int
}

// Crawl fetches and parses every locator. Drafts come back in locator order
// with failed slots removed. Context cancellation stops scheduling new work
// but lets in-flight fetches finish.
func (c *ConcurrentCrawler) Crawl(ctx context.Context, locators []adapter.Locator) (*CrawlResult, error) {
	result := &CrawlResult{}
	if len(locators) == 0 {
		return result, nil
	}
	c.log.WithFields(logrus.Fields{
		"locators":   len(locators),
		"batch_size": c.batchSize,
	}).Info("Crawl starting")

	sem := semaphore.NewWeighted(int64(c.batchSize))
	drafts := make([]*models.ListingDraft, len(locators))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errCount int
	)

	for batchStart := 0; batchStart < len(locators); batchStart += c.batchSize {
		if ctx.Err() != nil {
			c.log.Warnf("Crawl stopping early: %v", ctx.Err())
			break
		}
		batchEnd := batchStart + c.batchSize
		if batchEnd > len(locators) {
			batchEnd = len(locators)
		}

		for i := batchStart; i < batchEnd; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(idx int, loc adapter.Locator) {
				defer wg.Done()
				defer sem.Release(1)
				draft, err := c.fetchOne(ctx, loc)
				if err != nil {
					c.log.WithFields(logrus.Fields{
						"url":      loc.URL,
						"category": utils.CategorizeError(err),
					}).Warnf("Listing fetch failed: %v", err)
					mu.Lock()
					errCount++
					mu.Unlock()
					return
				}
				drafts[idx] = draft
			}(i, locators[i])
		}
		wg.Wait()

		if c.requestDelay > 0 && batchEnd < len(locators) && ctx.Err() == nil {
			time.Sleep(c.requestDelay)
		}
	}

	for _, d := range drafts {
		if d != nil {
			result.Drafts = append(result.Drafts, d)
		}
	}
	result.Errors = errCount
	c.log.WithFields(logrus.Fields{
		"scraped": len(result.Drafts),
		"errors":  result.Errors,
	}).Info("Crawl finished")
	return result, nil
}

// fetchOne wraps one FetchAndParse call with panic recovery so a parser bug
// on one page costs one draft, not the run.
func (c *ConcurrentCrawler) fetchOne(ctx context.Context, loc adapter.Locator) (draft *models.ListingDraft, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("url", loc.URL).Errorf("Panic while parsing listing: %v", r)
			draft = nil
			err = utils.ErrParsing
		}
	}()
	return c.adapter.FetchAndParse(ctx, loc)
}

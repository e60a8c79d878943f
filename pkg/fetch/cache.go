package fetch

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// CachedTransport decorates another Transport with a badger-backed GET cache.
// Taxonomy seeding hits hundreds of small tree endpoints; caching their
// bodies with a TTL makes repeated seed runs nearly free and keeps the site
// untouched. POST requests always pass through.
type CachedTransport struct {
	inner Transport
	db    *badger.DB
	ttl   time.Duration
	log   *logrus.Entry
}

// NewCachedTransport wraps inner with the given badger cache.
func NewCachedTransport(inner Transport, db *badger.DB, ttl time.Duration, log *logrus.Entry) *CachedTransport {
	return &CachedTransport{inner: inner, db: db, ttl: ttl, log: log}
}

// Get returns the cached body for rawURL, fetching and caching on miss.
func (t *CachedTransport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var cached []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rawURL))
		if err != nil {
			return err
		}
		cached, err = item.ValueCopy(nil)
		return err
	})
	if err == nil {
		t.log.WithField("url", rawURL).Debug("Page cache hit")
		return cached, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		t.log.WithField("url", rawURL).Warnf("Page cache read failed: %v", err)
	}

	body, fetchErr := t.inner.Get(ctx, rawURL)
	if fetchErr != nil {
		return nil, fetchErr
	}

	if err := t.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(rawURL), body)
		if t.ttl > 0 {
			entry = entry.WithTTL(t.ttl)
		}
		return txn.SetEntry(entry)
	}); err != nil {
		// Cache write failures are not fetch failures
		t.log.WithField("url", rawURL).Warnf("Page cache write failed: %v", err)
	}
	return body, nil
}

// Post passes through uncached.
func (t *CachedTransport) Post(ctx context.Context, rawURL, contentType string, body []byte) ([]byte, error) {
	return t.inner.Post(ctx, rawURL, contentType, body)
}

// Close closes the inner transport. The badger DB is owned by the caller.
func (t *CachedTransport) Close() error {
	return t.inner.Close()
}

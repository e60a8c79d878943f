package storage

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"carindex/pkg/log"
	"carindex/pkg/utils"
)

// OpenPageCache opens the badger database used as a TTL'd page cache by the
// taxonomy seeders. Pass dir "" for an in-memory cache (tests).
func OpenPageCache(dir string, entry *logrus.Entry) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(log.NewBadgerLogrusAdapter(entry))
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening page cache at %q: %v", utils.ErrDatabase, dir, err)
	}
	return db, nil
}

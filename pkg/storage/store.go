package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"carindex/pkg/utils"
)

// Store is the sqlite-backed persistence layer: listings, the canonical
// taxonomy catalog and site mappings all live in one database file.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens (creating if needed) the sqlite database at dsn and ensures the
// schema exists. dsn may be a plain file path or a sqlite URI.
func Open(dsn string, log *logrus.Entry) (*Store, error) {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_foreign_keys=on&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite at %q: %v", utils.ErrDatabase, dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging sqlite at %q: %v", utils.ErrDatabase, dsn, err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent site goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warnf("Failed to enable WAL mode: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: applying schema: %v", utils.ErrDatabase, err)
	}

	log.WithField("dsn", dsn).Info("Storage opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

package storage

// Anchor columns (series_id on models, make/series_canonical_id on mappings)
// are NOT NULL with 0 meaning "no anchor": sqlite treats NULLs as distinct in
// unique indexes, which would let duplicate standalone models slip through.
// Rowids start at 1, so 0 never collides with a real id.
const schema = `
CREATE TABLE IF NOT EXISTS makes (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	norm  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS series (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	make_id INTEGER NOT NULL REFERENCES makes(id),
	label   TEXT NOT NULL,
	norm    TEXT NOT NULL,
	UNIQUE (make_id, norm)
);

CREATE TABLE IF NOT EXISTS models (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	make_id   INTEGER NOT NULL REFERENCES makes(id),
	series_id INTEGER NOT NULL DEFAULT 0,
	label     TEXT NOT NULL,
	norm      TEXT NOT NULL,
	UNIQUE (make_id, series_id, norm)
);

CREATE TABLE IF NOT EXISTS mappings (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	source_site         TEXT NOT NULL,
	entity_type         TEXT NOT NULL,
	make_canonical_id   INTEGER NOT NULL DEFAULT 0,
	series_canonical_id INTEGER NOT NULL DEFAULT 0,
	source_key          TEXT NOT NULL DEFAULT '',
	source_norm         TEXT NOT NULL,
	canonical_id        INTEGER NOT NULL,
	UNIQUE (source_site, entity_type, make_canonical_id, series_canonical_id, source_norm)
);
CREATE INDEX IF NOT EXISTS idx_mappings_source_key
	ON mappings (source_site, entity_type, make_canonical_id, source_key);

CREATE TABLE IF NOT EXISTS listings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	source_site      TEXT NOT NULL,
	source_url       TEXT NOT NULL UNIQUE,
	title            TEXT NOT NULL DEFAULT '',
	make_text        TEXT NOT NULL DEFAULT '',
	series_text      TEXT NOT NULL DEFAULT '',
	model_text       TEXT NOT NULL DEFAULT '',
	price            REAL,
	year             INTEGER,
	mileage          INTEGER,
	fuel_type        TEXT NOT NULL DEFAULT '',
	body_type        TEXT NOT NULL DEFAULT '',
	transmission     TEXT NOT NULL DEFAULT '',
	color            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	source_make_key  TEXT NOT NULL DEFAULT '',
	source_series_key TEXT NOT NULL DEFAULT '',
	source_model_key TEXT NOT NULL DEFAULT '',
	make_id          INTEGER,
	series_id        INTEGER,
	model_id         INTEGER,
	last_seen_run_id TEXT NOT NULL DEFAULT '',
	last_seen_at     TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_site      ON listings (source_site);
CREATE INDEX IF NOT EXISTS idx_listings_taxonomy  ON listings (make_id, series_id, model_id);
CREATE INDEX IF NOT EXISTS idx_listings_price     ON listings (price);
CREATE INDEX IF NOT EXISTS idx_listings_year      ON listings (year);
CREATE INDEX IF NOT EXISTS idx_listings_freshness ON listings (source_site, last_seen_run_id);
`

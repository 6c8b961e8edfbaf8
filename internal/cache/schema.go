package cache

// SQL schemas for cache tables
// All cache tables use "cache_key" as the primary key column for consistency

// ISBNdbCacheSchema defines the schema for ISBNdb book metadata cache
const ISBNdbCacheSchema = `
CREATE TABLE IF NOT EXISTS isbndb_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_isbndb_cached_at ON isbndb_cache(cached_at);
`

// OpenLibraryCacheSchema defines the schema for OpenLibrary book cache
const OpenLibraryCacheSchema = `
CREATE TABLE IF NOT EXISTS openlibrary_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_openlibrary_cached_at ON openlibrary_cache(cached_at);
`

// GutenbergCacheSchema defines the schema for public-domain archive
// catalog lookups (format lists per book id)
const GutenbergCacheSchema = `
CREATE TABLE IF NOT EXISTS gutenberg_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_gutenberg_cached_at ON gutenberg_cache(cached_at);
`

// AllCacheSchemas contains all cache table schemas for easy initialization
var AllCacheSchemas = []string{
	ISBNdbCacheSchema,
	OpenLibraryCacheSchema,
	GutenbergCacheSchema,
}

// ValidCacheTableNames is the whitelist of allowed cache table names
// Used to prevent SQL injection when interpolating table names
var ValidCacheTableNames = map[string]bool{
	"isbndb_cache":      true,
	"openlibrary_cache": true,
	"gutenberg_cache":   true,
}

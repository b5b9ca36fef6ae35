package cache

// CoverCacheTable holds the snapshot of the resolution cache.
const CoverCacheTable = "cover_cache"

// CoverCacheSchema defines the schema for the resolution cache snapshot.
// Times are Unix milliseconds; tags are a JSON array.
const CoverCacheSchema = `
CREATE TABLE IF NOT EXISTS cover_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	priority TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	access_count INTEGER NOT NULL DEFAULT 1,
	ttl_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_access INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cover_created_at ON cover_cache(created_at);
`

// AllCacheSchemas contains all cache table schemas for easy initialization
var AllCacheSchemas = []string{
	CoverCacheSchema,
}

// ValidCacheTableNames is the whitelist of allowed cache table names
// Used to prevent SQL injection when interpolating table names
var ValidCacheTableNames = map[string]bool{
	CoverCacheTable: true,
}

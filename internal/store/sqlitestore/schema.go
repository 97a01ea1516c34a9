package sqlitestore

// schema creates the cache table and its index if they do not already
// exist — spec.md §4.6. The column names and types intentionally match
// the source library's so a database file produced by it opens here
// unmodified (spec.md §6.1).
const schema = `
CREATE TABLE IF NOT EXISTS CacheElement (
	Key        TEXT PRIMARY KEY,
	TypeName   TEXT NULL,
	Value      BLOB NOT NULL,
	Expiration INTEGER NOT NULL,
	CreatedAt  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cacheelement_typename ON CacheElement(TypeName);
`

// metaSchema creates a name/value bookkeeping table at bootstrap. Nothing
// in this module reads or writes it: cryptostore keeps its salt as an
// ordinary CacheElement row (spec.md §4.8).
const metaSchema = `
CREATE TABLE IF NOT EXISTS CacheMeta (
	Name  TEXT PRIMARY KEY,
	Value BLOB NOT NULL
);
`

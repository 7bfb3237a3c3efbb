package gtfsload

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// CacheStore is a small SQLite-backed cache of raw feed bytes, keyed by
// source URL/path and validated by checksum: Get returns the stored bytes
// only when the caller's checksum matches the stored one. Payloads are
// stored zstd-compressed, since raw
// GTFS zips are themselves mostly-incompressible but the feed's internal
// CSVs are highly redundant once decompressed and re-serialized by a
// round trip through gtfs.ParseStatic on the next load.
type CacheStore struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

const schema = `
CREATE TABLE IF NOT EXISTS feed_cache (
	source TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL,
	payload BLOB NOT NULL
)`

// OpenCacheStore opens (creating if necessary) a SQLite feed cache at path.
func OpenCacheStore(path string) (*CacheStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("gtfsload: open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("gtfsload: create cache schema: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &CacheStore{db: db, enc: enc, dec: dec}, nil
}

// Close releases the cache's database handle and codec resources.
func (c *CacheStore) Close() error {
	c.dec.Close()
	return c.db.Close()
}

// Checksum returns the hex-encoded SHA-256 digest of b, the value used to
// decide whether a cached payload is still valid for a source.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached raw bytes for source if its stored checksum
// matches checksum. hit is false on a cold cache or a checksum mismatch,
// never an error.
func (c *CacheStore) Get(ctx context.Context, source, checksum string) (raw []byte, hit bool, err error) {
	var storedChecksum string
	var payload []byte
	err = c.db.QueryRowContext(ctx,
		`SELECT checksum, payload FROM feed_cache WHERE source = ?`, source,
	).Scan(&storedChecksum, &payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("gtfsload: query feed cache: %w", err)
	}
	if storedChecksum != checksum {
		return nil, false, nil
	}
	raw, err = c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, false, fmt.Errorf("gtfsload: decompress cached payload: %w", err)
	}
	return raw, true, nil
}

// Put stores raw under source, replacing any previous entry.
func (c *CacheStore) Put(ctx context.Context, source, checksum string, raw []byte) error {
	compressed := c.enc.EncodeAll(raw, nil)
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO feed_cache (source, checksum, fetched_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET checksum = excluded.checksum, fetched_at = excluded.fetched_at, payload = excluded.payload`,
		source, checksum, time.Now().UTC(), compressed,
	)
	if err != nil {
		return fmt.Errorf("gtfsload: write feed cache: %w", err)
	}
	return nil
}

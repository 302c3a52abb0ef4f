package product

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const cacheBucketName = "products"

type cacheEntry struct {
	Product  *Product  `json:"product"`
	CachedAt time.Time `json:"cached_at"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// BoltCache wraps a Resolver and keeps found products in BoltDB. Unknown
// barcodes and failed lookups are not cached; a product may be added to the
// database at any time.
type BoltCache struct {
	db         *bbolt.DB
	next       Resolver
	ttl        time.Duration
	timeSource TimeSource
}

// NewBoltCache opens (or creates) the cache file
func NewBoltCache(path string, next Resolver, ttl time.Duration) (*BoltCache, error) {
	return NewBoltCacheWithDeps(path, next, ttl, &defaultTimeSource{})
}

// NewBoltCacheWithDeps opens the cache with a custom time source for testing
func NewBoltCacheWithDeps(path string, next Resolver, ttl time.Duration, timeSrc TimeSource) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltCache{
		db:         db,
		next:       next,
		ttl:        ttl,
		timeSource: timeSrc,
	}, nil
}

// Resolve serves fresh cache hits and falls through to the wrapped resolver
func (c *BoltCache) Resolve(ctx context.Context, barcode string) (*Product, error) {
	if p := c.lookup(barcode); p != nil {
		return p, nil
	}

	p, err := c.next.Resolve(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if p.Found {
		if err := c.store(p); err != nil {
			slog.Warn("Failed to cache product", "barcode", barcode, "error", err)
		}
	}
	return p, nil
}

func (c *BoltCache) lookup(barcode string) *Product {
	var entry cacheEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cacheBucketName)).Get([]byte(barcode))
		if data == nil {
			return fmt.Errorf("product not cached: %s", barcode)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil || entry.Product == nil {
		return nil
	}
	if c.ttl > 0 && c.timeSource.Now().Sub(entry.CachedAt) > c.ttl {
		return nil
	}
	return entry.Product
}

func (c *BoltCache) store(p *Product) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cacheEntry{Product: p, CachedAt: c.timeSource.Now()})
		if err != nil {
			return fmt.Errorf("marshaling product: %w", err)
		}
		return tx.Bucket([]byte(cacheBucketName)).Put([]byte(p.Barcode), data)
	})
}

// Close closes the cache file
func (c *BoltCache) Close() error {
	return c.db.Close()
}

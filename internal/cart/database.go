package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	recordsBucketName  = "records"
	productsBucketName = "products"
)

// ErrRecordNotFound is returned when a history record does not exist
var ErrRecordNotFound = errors.New("record not found")

// DB defines the interface for database operations
type DB interface {
	// SaveRecord saves a record to the database
	SaveRecord(record *Record) error

	// GetRecord retrieves a record by ID
	GetRecord(id string) (*Record, error)

	// ListRecords returns all records, oldest first
	ListRecords() ([]*Record, error)

	// DeleteRecord removes a record from the database
	DeleteRecord(id string) error

	// TrackProduct adds a product to the tracked list and reports whether it was new
	TrackProduct(product *TrackedProduct) (bool, error)

	// ListTrackedProducts returns every tracked product
	ListTrackedProducts() ([]*TrackedProduct, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(productsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveRecord saves a record to the database
func (b *BoltDB) SaveRecord(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetRecord retrieves a record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns all records, oldest first
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteRecord removes a record from the database
func (b *BoltDB) DeleteRecord(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucketName))
		return bucket.Delete([]byte(id))
	})
}

// TrackProduct stores a product keyed by barcode unless it is already tracked
func (b *BoltDB) TrackProduct(product *TrackedProduct) (bool, error) {
	added := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(productsBucketName))
		if bucket.Get([]byte(product.Barcode)) != nil {
			return nil
		}
		data, err := json.Marshal(product)
		if err != nil {
			return fmt.Errorf("marshaling product: %w", err)
		}
		added = true
		return bucket.Put([]byte(product.Barcode), data)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// ListTrackedProducts returns every tracked product, ordered by barcode
func (b *BoltDB) ListTrackedProducts() ([]*TrackedProduct, error) {
	products := make([]*TrackedProduct, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(productsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var product TrackedProduct
			if err := json.Unmarshal(v, &product); err != nil {
				return fmt.Errorf("unmarshaling product: %w", err)
			}
			products = append(products, &product)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

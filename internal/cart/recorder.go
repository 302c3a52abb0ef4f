package cart

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// recordFilename names the JSON file written for an added item. The record
// ID keeps re-adds within the same second from sharing a file.
func recordFilename(item Item, id string) string {
	base := unsafeFilenameChars.ReplaceAllString(item.Barcode, "")
	if base == "" {
		base = "item"
	}
	if len(base) > 50 {
		base = base[:50]
	}
	return fmt.Sprintf("%s_%s_%s.json", base, item.Timestamp.Format("20060102_150405"), unsafeFilenameChars.ReplaceAllString(id, ""))
}

// Recorder persists every item added to the cart: a JSON file in storage,
// a history record in the database, and an entry in the tracked products list.
type Recorder struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewRecorder creates a Recorder with UUID record IDs
func NewRecorder(db DB, storage Storage) *Recorder {
	return NewRecorderWithDeps(db, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewRecorderWithDeps creates a Recorder with custom dependencies for testing
func NewRecorderWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Recorder {
	return &Recorder{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Record writes the item's file and history entry
func (r *Recorder) Record(item Item) (*Record, error) {
	record := &Record{
		ID:              r.idGenerator.Generate(),
		Barcode:         item.Barcode,
		Name:            item.Name,
		Brand:           item.Brand,
		Allergens:       item.Allergens,
		IngredientsText: item.IngredientsText,
		FoundInCatalog:  item.FoundInCatalog,
		Timestamp:       item.Timestamp,
		CreatedAt:       r.timeSource.Now(),
	}
	if record.Allergens == nil {
		record.Allergens = []string{}
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling item: %w", err)
	}

	savedName, err := r.storage.Save(recordFilename(item, record.ID), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	record.Filename = savedName

	if err := r.db.SaveRecord(record); err != nil {
		r.storage.Delete(savedName)
		return nil, fmt.Errorf("saving record to database: %w", err)
	}

	added, err := r.db.TrackProduct(&TrackedProduct{
		Barcode:   item.Barcode,
		Name:      item.Name,
		Brand:     item.Brand,
		FirstSeen: record.CreatedAt,
	})
	if err != nil {
		slog.Warn("Failed to track product", "barcode", item.Barcode, "error", err)
	} else if added {
		slog.Info("Tracking new product", "barcode", item.Barcode, "name", item.Name)
	}

	slog.Info("Recorded cart item", "id", record.ID, "barcode", record.Barcode, "file", record.Filename)
	return record, nil
}

// GetRecord retrieves a record by ID
func (r *Recorder) GetRecord(id string) (*Record, error) {
	record, err := r.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns all records
func (r *Recorder) ListRecords() ([]*Record, error) {
	records, err := r.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// DeleteRecord removes a record and its file
func (r *Recorder) DeleteRecord(id string) error {
	record, err := r.db.GetRecord(id)
	if err != nil {
		return fmt.Errorf("getting record for deletion: %w", err)
	}

	if err := r.storage.Delete(record.Filename); err != nil {
		slog.Warn("Failed to delete file", "filename", record.Filename, "error", err)
	}

	if err := r.db.DeleteRecord(id); err != nil {
		return fmt.Errorf("deleting record from database: %w", err)
	}
	return nil
}

// GetRecordFile returns the JSON file written for a record
func (r *Recorder) GetRecordFile(id string) ([]byte, *Record, error) {
	record, err := r.db.GetRecord(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting record: %w", err)
	}

	data, err := r.storage.Get(record.Filename)
	if err != nil {
		return nil, nil, fmt.Errorf("getting record file: %w", err)
	}
	return data, record, nil
}

// ListTrackedProducts returns every product ever added to a cart
func (r *Recorder) ListTrackedProducts() ([]*TrackedProduct, error) {
	products, err := r.db.ListTrackedProducts()
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

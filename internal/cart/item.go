package cart

import (
	"time"

	"github.com/zombor/smartkart/internal/product"
)

// Item is a scanned product, either pending confirmation or in the cart
type Item struct {
	Barcode         string    `json:"barcode"`
	Name            string    `json:"name"`
	Brand           string    `json:"brand"`
	Allergens       []string  `json:"allergens"`
	IngredientsText string    `json:"ingredients_text"`
	FoundInCatalog  bool      `json:"found_in_catalog"`
	LookupFailed    bool      `json:"lookup_failed,omitempty"` // the product database could not be reached
	Timestamp       time.Time `json:"timestamp"`
}

// newItem builds an Item from a lookup outcome
func newItem(barcode string, p *product.Product, lookupErr error, now time.Time) Item {
	item := Item{
		Barcode:   barcode,
		Timestamp: now,
	}
	switch {
	case lookupErr != nil:
		item.Name = "Unknown product"
		item.LookupFailed = true
	case p == nil || !p.Found:
		item.Name = "Unknown product"
	default:
		item.Name = p.Name
		item.Brand = p.Brand
		item.Allergens = append([]string(nil), p.Allergens...)
		item.IngredientsText = p.IngredientsText
		item.FoundInCatalog = true
	}
	return item
}

// clone returns a deep copy so pending and cart copies never share slices
func (i Item) clone() Item {
	i.Allergens = append([]string(nil), i.Allergens...)
	return i
}

// Record is the persisted form of an item added to the cart
type Record struct {
	ID              string    `json:"id"`
	Barcode         string    `json:"barcode"`
	Name            string    `json:"name"`
	Brand           string    `json:"brand"`
	Allergens       []string  `json:"allergens"`
	IngredientsText string    `json:"ingredients_text"`
	FoundInCatalog  bool      `json:"found_in_catalog"`
	Timestamp       time.Time `json:"timestamp"`
	Filename        string    `json:"filename"`
	CreatedAt       time.Time `json:"created_at"`
}

// TrackedProduct is an entry in the list of every product ever added
type TrackedProduct struct {
	Barcode   string    `json:"barcode"`
	Name      string    `json:"name"`
	Brand     string    `json:"brand"`
	FirstSeen time.Time `json:"first_seen"`
}

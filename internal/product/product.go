package product

import (
	"context"
	"strings"
)

// Product is what a product database knows about a barcode
type Product struct {
	Barcode         string   `json:"barcode"`
	Found           bool     `json:"found"`
	Name            string   `json:"name"`
	Brand           string   `json:"brand"`
	Allergens       []string `json:"allergens"`
	IngredientsText string   `json:"ingredients_text"`
	ImageURL        string   `json:"image_url,omitempty"`
	NutritionGrade  string   `json:"nutrition_grade,omitempty"`
}

// Resolver defines the interface for product lookups.
// A barcode the database does not know is a Product with Found=false, never
// an error; errors mean the lookup itself failed.
type Resolver interface {
	Resolve(ctx context.Context, barcode string) (*Product, error)
}

// DefaultAllergenKeywords are searched for in the ingredients when the
// database lists no allergens
var DefaultAllergenKeywords = []string{
	"peanuts", "peanut", "nuts", "milk", "dairy", "eggs", "egg",
	"soy", "wheat", "gluten", "fish", "shellfish", "sesame",
}

// DetectAllergens returns the keywords that occur in the ingredients text,
// in keyword order
func DetectAllergens(ingredients string, keywords []string) []string {
	text := strings.ToLower(ingredients)
	if text == "" {
		return nil
	}
	var found []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			found = append(found, k)
		}
	}
	return found
}

package product

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultOpenFoodFactsURL = "https://world.openfoodfacts.org"
	userAgent               = "SmartKart/1.0 (shopping assistant)"
)

// OpenFoodFacts implements the Resolver interface using the Open Food Facts API
type OpenFoodFacts struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	keywords []string
}

// NewOpenFoodFacts creates a client allowing perMinute lookups per minute.
// Open Food Facts asks for at most 100 product reads a minute.
func NewOpenFoodFacts(baseURL string, perMinute int) *OpenFoodFacts {
	if baseURL == "" {
		baseURL = DefaultOpenFoodFactsURL
	}
	if perMinute <= 0 {
		perMinute = 100
	}
	return &OpenFoodFacts{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
		keywords: DefaultAllergenKeywords,
	}
}

// offResponse is the subset of the v0 product API we read
type offResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName     string   `json:"product_name"`
		Brands          string   `json:"brands"`
		IngredientsText string   `json:"ingredients_text"`
		AllergensTags   []string `json:"allergens_tags"`
		ImageURL        string   `json:"image_url"`
		NutritionGrades string   `json:"nutrition_grades"`
	} `json:"product"`
}

// Resolve looks the barcode up
func (o *OpenFoodFacts) Resolve(ctx context.Context, barcode string) (*Product, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v0/product/%s.json", o.baseURL, url.PathEscape(barcode))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling open food facts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Product{Barcode: barcode}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("open food facts error (status %d): %s", resp.StatusCode, string(body))
	}

	var data offResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if data.Status != 1 {
		return &Product{Barcode: barcode}, nil
	}

	p := &Product{
		Barcode:         barcode,
		Found:           true,
		Name:            strings.TrimSpace(data.Product.ProductName),
		Brand:           strings.TrimSpace(data.Product.Brands),
		IngredientsText: strings.TrimSpace(data.Product.IngredientsText),
		ImageURL:        data.Product.ImageURL,
		NutritionGrade:  data.Product.NutritionGrades,
	}
	if p.Name == "" {
		p.Name = "Unknown product"
	}
	for _, tag := range data.Product.AllergensTags {
		// Tags are language-prefixed, e.g. "en:milk"
		if i := strings.Index(tag, ":"); i >= 0 {
			tag = tag[i+1:]
		}
		if tag != "" {
			p.Allergens = append(p.Allergens, tag)
		}
	}
	if len(p.Allergens) == 0 {
		p.Allergens = DetectAllergens(p.IngredientsText, o.keywords)
	}
	return p, nil
}

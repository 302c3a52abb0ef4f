package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

type barcodeResponse struct {
	Barcodes []DetectedCode `json:"barcodes"`
}

// parseBarcodesJSON parses the JSON response from a vision model
func parseBarcodesJSON(text string) ([]DetectedCode, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var resp barcodeResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	codes := make([]DetectedCode, 0, len(resp.Barcodes))
	seen := make(map[string]bool, len(resp.Barcodes))
	for _, c := range resp.Barcodes {
		c.Text = strings.Join(strings.Fields(c.Text), "")
		if c.Text == "" || seen[c.Text] {
			continue
		}
		seen[c.Text] = true

		c.Symbology = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(c.Symbology), "-", ""))
		if c.Symbology == "" {
			c.Symbology = "UNKNOWN"
		}
		codes = append(codes, c)
	}
	return codes, nil
}

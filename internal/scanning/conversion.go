package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// barcodeScanPrompt is the shared prompt used by all vision model decoders
const barcodeScanPrompt = `You are reading retail product barcodes from a single camera frame. Look for every linear barcode (EAN-13, EAN-8, UPC-A, UPC-E, Code 128) and QR code that is fully visible and in focus.

For each barcode, read the digits or characters printed under or encoded in it.

Return ONLY valid JSON in this exact format:
{
  "barcodes": [
    {"text": "0012000161155", "symbology": "EAN13"}
  ]
}

Important:
- Only include barcodes you can read completely; never guess missing digits
- Use an empty list when no barcode is readable
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 followed by a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// normalizeContentType lowercases the MIME type and defaults to JPEG, the
// format most capture tools write
func normalizeContentType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// DecodeImage decodes the frame into an image regardless of container format
func DecodeImage(frame Frame) (image.Image, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	mimeType := normalizeContentType(frame.ContentType)

	switch {
	case mimeType == "application/pdf":
		return pdfToImage(frame.Data)
	case isHEICFormat(frame.Data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// framePNG returns the frame as PNG bytes, converting only when needed
func framePNG(frame Frame) ([]byte, error) {
	if normalizeContentType(frame.ContentType) == "image/png" && !isHEICFormat(frame.Data) {
		return frame.Data, nil
	}
	img, err := DecodeImage(frame)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

package scanning

import (
	"context"
	"fmt"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// ZXing implements the Decoder interface with the pure Go ZXing port. It
// reads the retail symbologies locally and fast enough for every frame.
type ZXing struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXing creates a ZXing decoder for EAN-13, EAN-8, UPC-E and Code 128.
// UPC-A codes come back from the EAN-13 reader with a leading zero, which is
// the form product databases index.
func NewZXing() *ZXing {
	return &ZXing{
		readers: []gozxing.Reader{
			oned.NewEAN13Reader(),
			oned.NewEAN8Reader(),
			oned.NewUPCEReader(),
			oned.NewCode128Reader(),
		},
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode runs every reader over the frame and returns the distinct codes found
func (z *ZXing) Decode(ctx context.Context, frame Frame) ([]DetectedCode, error) {
	img, err := DecodeImage(frame)
	if err != nil {
		return nil, err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarizing frame: %w", err)
	}

	var codes []DetectedCode
	seen := make(map[string]bool)
	for _, reader := range z.readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Readers report "nothing here" as an error; that is the common case.
		result, err := reader.Decode(bmp, z.hints)
		if err != nil || result == nil {
			continue
		}
		text := result.GetText()
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		codes = append(codes, DetectedCode{
			Text:      text,
			Symbology: result.GetBarcodeFormat().String(),
		})
	}
	return codes, nil
}

// Close is a no-op; the readers hold no external resources
func (z *ZXing) Close() error {
	return nil
}

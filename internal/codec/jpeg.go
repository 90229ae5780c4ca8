package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// DecodeJPEG decodes a JPEG byte stream into an RGBA raster with every
// pixel fully opaque. Capture uploads arrive as JPEG; everything after
// this point works on the raster.
func DecodeJPEG(ctx context.Context, data []byte) (*Raster, error) {
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrEncodedTooLarge, len(data))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: decode jpeg: %w", err)
	}
	b := img.Bounds()
	if err := checkDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	// image.RGBA is already tightly packed row-major RGBA; JPEG has no
	// alpha channel so draw.Src leaves every alpha at 255.
	return &Raster{W: b.Dx(), H: b.Dy(), Pix: rgba.Pix}, nil
}

// Package codec decodes camera images into RGBA rasters and encodes
// rasters back to PNG in a canonical, reproducible form.
//
// The canonical encoder is deliberately narrow: 8-bit RGBA, no
// interlacing, filter type None on every scanline, a single IDAT chunk
// compressed with zlib default settings, and no ancillary chunks. Given
// the same pixel buffer, any conformant encoder produces identical
// bytes, which is what allows the signing and verification sides to
// agree on the hashed byte sequence.
package codec

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrBadMagic             = errors.New("codec: not a PNG file (bad signature)")
	ErrUnsupportedColorType = errors.New("codec: unsupported PNG color type")
	ErrTruncatedChunk       = errors.New("codec: truncated chunk")
	ErrCrcMismatch          = errors.New("codec: chunk CRC mismatch")
	ErrDimensionsTooLarge   = errors.New("codec: image dimensions too large")
	ErrDimensionsTooSmall   = errors.New("codec: image dimensions too small")
	ErrEncodedTooLarge      = errors.New("codec: encoded image exceeds size limit")
)

// Limits on accepted images. MaxPixelBytes bounds the decoded RGBA
// buffer (W*H*4), MaxEncodedSize bounds the input byte stream, and
// MaxPixels bounds the raw pixel count.
const (
	MaxPixelBytes  = 256 << 20 // 256 MiB of RGBA
	MaxEncodedSize = 50 << 20  // 50 MiB on the wire
	MaxPixels      = 64 << 20  // 64 Mpx
)

// Raster is a width x height image with four 8-bit channels per pixel
// in row-major RGBA order. Pix has length exactly W*H*4.
type Raster struct {
	W, H int
	Pix  []byte
}

// NewRaster allocates a fully opaque white raster.
func NewRaster(w, h int) (*Raster, error) {
	if err := checkDimensions(w, h); err != nil {
		return nil, err
	}
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = 0xFF
	}
	return &Raster{W: w, H: h, Pix: pix}, nil
}

// Clone returns a deep copy of the raster.
func (r *Raster) Clone() *Raster {
	pix := make([]byte, len(r.Pix))
	copy(pix, r.Pix)
	return &Raster{W: r.W, H: r.H, Pix: pix}
}

// AlphaAt returns the alpha byte of pixel (x, y).
func (r *Raster) AlphaAt(x, y int) byte {
	return r.Pix[(y*r.W+x)*4+3]
}

// SetAlpha sets the alpha byte of pixel (x, y).
func (r *Raster) SetAlpha(x, y int, a byte) {
	r.Pix[(y*r.W+x)*4+3] = a
}

func checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrDimensionsTooSmall, w, h)
	}
	// Header dimensions are attacker-controlled; w*h can overflow int,
	// so each factor is bounded before the product is compared.
	if w > MaxPixels || h > MaxPixels || w > MaxPixels/h {
		return fmt.Errorf("%w: %dx%d", ErrDimensionsTooLarge, w, h)
	}
	return nil
}

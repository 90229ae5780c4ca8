package codec

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// pngSignature is the 8-byte magic at the start of every PNG stream.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// PNG color types we accept on decode.
const (
	colorTruecolor      = 2 // RGB
	colorTruecolorAlpha = 6 // RGBA
)

// Decode parses a PNG byte stream into an RGBA raster.
//
// Accepted inputs are 8-bit truecolor images (color type 2 or 6),
// non-interlaced, without a palette. When the source has no alpha
// channel every pixel's alpha is promoted to 255. The CRC of every
// chunk is verified. The context is checked between chunks so a
// cancelled request aborts at a chunk boundary.
func Decode(ctx context.Context, data []byte) (*Raster, error) {
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrEncodedTooLarge, len(data))
	}
	if len(data) < len(pngSignature) || !bytes.Equal(data[:8], pngSignature) {
		return nil, ErrBadMagic
	}

	var (
		w, h       int
		colorType  byte
		haveHeader bool
		idat       bytes.Buffer
	)

	off := 8
	for off < len(data) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if off+8 > len(data) {
			return nil, ErrTruncatedChunk
		}
		length := int(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		if off+12+length > len(data) {
			return nil, fmt.Errorf("%w: %s", ErrTruncatedChunk, typ)
		}
		body := data[off+8 : off+8+length]
		wantCRC := binary.BigEndian.Uint32(data[off+8+length:])
		if crc32.ChecksumIEEE(data[off+4:off+8+length]) != wantCRC {
			return nil, fmt.Errorf("%w: %s", ErrCrcMismatch, typ)
		}
		off += 12 + length

		switch typ {
		case "IHDR":
			if length != 13 {
				return nil, fmt.Errorf("%w: IHDR length %d", ErrTruncatedChunk, length)
			}
			w = int(binary.BigEndian.Uint32(body[0:]))
			h = int(binary.BigEndian.Uint32(body[4:]))
			bitDepth := body[8]
			colorType = body[9]
			interlace := body[12]
			if bitDepth != 8 {
				return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupportedColorType, bitDepth)
			}
			if colorType != colorTruecolor && colorType != colorTruecolorAlpha {
				return nil, fmt.Errorf("%w: color type %d", ErrUnsupportedColorType, colorType)
			}
			if interlace != 0 {
				return nil, fmt.Errorf("%w: interlaced", ErrUnsupportedColorType)
			}
			if err := checkDimensions(w, h); err != nil {
				return nil, err
			}
			haveHeader = true
		case "IDAT":
			if !haveHeader {
				return nil, fmt.Errorf("%w: IDAT before IHDR", ErrTruncatedChunk)
			}
			idat.Write(body)
		case "IEND":
			return inflateScanlines(w, h, colorType, idat.Bytes())
		default:
			// Ancillary chunks carry no pixel data; skip them.
		}
	}
	return nil, fmt.Errorf("%w: missing IEND", ErrTruncatedChunk)
}

// inflateScanlines decompresses the IDAT stream and reverses per-line
// filtering into a flat RGBA buffer.
func inflateScanlines(w, h int, colorType byte, compressed []byte) (*Raster, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("codec: inflate IDAT: %w", err)
	}
	defer zr.Close()

	bpp := 3
	if colorType == colorTruecolorAlpha {
		bpp = 4
	}
	stride := w * bpp
	raw := make([]byte, (stride+1)*h)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedChunk, err)
	}

	out := make([]byte, w*h*4)
	prev := make([]byte, stride)
	cur := make([]byte, stride)
	for y := 0; y < h; y++ {
		line := raw[y*(stride+1) : (y+1)*(stride+1)]
		filter := line[0]
		copy(cur, line[1:])
		if err := unfilter(filter, cur, prev, bpp); err != nil {
			return nil, err
		}
		for x := 0; x < w; x++ {
			di := (y*w + x) * 4
			si := x * bpp
			out[di+0] = cur[si+0]
			out[di+1] = cur[si+1]
			out[di+2] = cur[si+2]
			if bpp == 4 {
				out[di+3] = cur[si+3]
			} else {
				out[di+3] = 0xFF
			}
		}
		prev, cur = cur, prev
	}
	return &Raster{W: w, H: h, Pix: out}, nil
}

// unfilter reverses a PNG scanline filter in place.
func unfilter(filter byte, cur, prev []byte, bpp int) error {
	switch filter {
	case 0: // None
	case 1: // Sub
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case 2: // Up
		for i := range cur {
			cur[i] += prev[i]
		}
	case 3: // Average
		for i := 0; i < len(cur); i++ {
			var left int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] += byte((left + int(prev[i])) / 2)
		}
	case 4: // Paeth
		for i := 0; i < len(cur); i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			cur[i] += paeth(left, prev[i], upLeft)
		}
	default:
		return fmt.Errorf("%w: filter %d", ErrUnsupportedColorType, filter)
	}
	return nil
}

// paeth is the predictor from the PNG specification, section 9.4.
func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Encode serializes the raster as a canonical PNG: 8-bit RGBA IHDR,
// one IDAT chunk (zlib default compression, filter None on every
// scanline), IEND, and nothing else. Encoding the same pixel buffer
// always yields identical bytes. The context is checked between rows.
func Encode(ctx context.Context, r *Raster) ([]byte, error) {
	if err := checkDimensions(r.W, r.H); err != nil {
		return nil, err
	}
	if len(r.Pix) != r.W*r.H*4 {
		return nil, fmt.Errorf("codec: pixel buffer is %d bytes, want %d", len(r.Pix), r.W*r.H*4)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	stride := r.W * 4
	for y := 0; y < r.H; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := zw.Write([]byte{0}); err != nil {
			return nil, fmt.Errorf("codec: deflate: %w", err)
		}
		if _, err := zw.Write(r.Pix[y*stride : (y+1)*stride]); err != nil {
			return nil, fmt.Errorf("codec: deflate: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("codec: deflate: %w", err)
	}

	var out bytes.Buffer
	out.Write(pngSignature)

	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:], uint32(r.W))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(r.H))
	ihdr[8] = 8                   // bit depth
	ihdr[9] = colorTruecolorAlpha // color type
	// compression, filter, interlace all zero
	writeChunk(&out, "IHDR", ihdr[:])
	writeChunk(&out, "IDAT", compressed.Bytes())
	writeChunk(&out, "IEND", nil)
	return out.Bytes(), nil
}

// writeChunk appends one PNG chunk: length, type, body, CRC.
func writeChunk(out *bytes.Buffer, typ string, body []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(len(body)))
	copy(hdr[4:], typ)
	out.Write(hdr[:])
	out.Write(body)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(body)
	var tail [4]byte
	binary.BigEndian.PutUint32(tail[:], crc.Sum32())
	out.Write(tail[:])
}

// Package stego hides byte payloads in the alpha channel of an RGBA
// raster.
//
// The alpha plane is split into two regions:
//
//   - Body region: rows 0..H-2 carry the capture's basic-info string,
//     terminated by the "###END###" delimiter.
//   - Last row: row H-1 carries a framed signature structure,
//     "GCM1" magic, a big-endian uint32 length, then the frame body.
//
// Alpha bytes are indexed strictly row-major, left to right. Fully
// opaque pixels render identically whatever their payload, and the
// payload survives any lossless PNG round trip.
package stego

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"geocamd/internal/codec"
)

// Delimiter terminates the basic-info payload in the body region.
const Delimiter = "###END###"

// Magic identifies a signature frame in the last row.
const Magic = "GCM1"

// frameHeaderSize is magic plus the uint32 length prefix.
const frameHeaderSize = 8

// Errors
var (
	ErrPayloadTooLarge   = errors.New("stego: payload does not fit in body region")
	ErrDelimiterNotFound = errors.New("stego: delimiter not found in body region")
	ErrFrameTooLarge     = errors.New("stego: frame does not fit in last row")
	ErrNoMagic           = errors.New("stego: last row carries no frame magic")
	ErrLengthOutOfRange  = errors.New("stego: frame length out of range")
	ErrRasterTooSmall    = errors.New("stego: raster too small for embedding")
)

// checkShape rejects rasters that cannot hold both regions.
func checkShape(r *codec.Raster) error {
	if r.H < 2 || r.W < frameHeaderSize+1 {
		return fmt.Errorf("%w: %dx%d", ErrRasterTooSmall, r.W, r.H)
	}
	return nil
}

// BodyCapacity returns the number of alpha bytes available to the body
// region of a WxH raster.
func BodyCapacity(w, h int) int {
	return w * (h - 1)
}

// EmbedBody writes basicInfo followed by the delimiter into the body
// region, starting at pixel (0,0). Alpha bytes past the delimiter are
// left untouched (255 after decode).
func EmbedBody(r *codec.Raster, basicInfo string) error {
	if err := checkShape(r); err != nil {
		return err
	}
	payload := append([]byte(basicInfo), Delimiter...)
	if len(payload) > BodyCapacity(r.W, r.H) {
		return fmt.Errorf("%w: %d bytes into %d", ErrPayloadTooLarge, len(payload), BodyCapacity(r.W, r.H))
	}
	for i, b := range payload {
		r.SetAlpha(i%r.W, i/r.W, b)
	}
	return nil
}

// ReadBody scans the body region row-major until the delimiter and
// returns the bytes before it.
func ReadBody(r *codec.Raster) (string, error) {
	if err := checkShape(r); err != nil {
		return "", err
	}
	delim := []byte(Delimiter)
	buf := make([]byte, 0, r.W)
	for i := 0; i < BodyCapacity(r.W, r.H); i++ {
		buf = append(buf, r.AlphaAt(i%r.W, i/r.W))
		if len(buf) >= len(delim) && bytes.Equal(buf[len(buf)-len(delim):], delim) {
			return string(buf[:len(buf)-len(delim)]), nil
		}
	}
	return "", ErrDelimiterNotFound
}

// EmbedLastRow frames frameBytes into the alpha of row H-1 and pads
// the remainder of the row with 0xFF.
func EmbedLastRow(r *codec.Raster, frameBytes []byte) error {
	if err := checkShape(r); err != nil {
		return err
	}
	if frameHeaderSize+len(frameBytes) > r.W {
		return fmt.Errorf("%w: %d bytes into width %d", ErrFrameTooLarge, len(frameBytes), r.W)
	}
	row := make([]byte, r.W)
	copy(row, Magic)
	binary.BigEndian.PutUint32(row[4:], uint32(len(frameBytes)))
	copy(row[frameHeaderSize:], frameBytes)
	for i := frameHeaderSize + len(frameBytes); i < r.W; i++ {
		row[i] = 0xFF
	}
	y := r.H - 1
	for x, b := range row {
		r.SetAlpha(x, y, b)
	}
	return nil
}

// ReadLastRow validates the frame magic and length in row H-1 and
// returns the frame bytes.
func ReadLastRow(r *codec.Raster) ([]byte, error) {
	if err := checkShape(r); err != nil {
		return nil, err
	}
	y := r.H - 1
	row := make([]byte, r.W)
	for x := range row {
		row[x] = r.AlphaAt(x, y)
	}
	if string(row[:4]) != Magic {
		return nil, ErrNoMagic
	}
	n := binary.BigEndian.Uint32(row[4:8])
	if n == 0 || int(n) > r.W-frameHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrLengthOutOfRange, n)
	}
	frame := make([]byte, n)
	copy(frame, row[frameHeaderSize:frameHeaderSize+int(n)])
	return frame, nil
}

// ClearLastRow resets every alpha byte of row H-1 to 0xFF. The
// canonical hash is computed over a raster in this state, which is why
// embedding the signature frame afterwards does not change the hash.
func ClearLastRow(r *codec.Raster) {
	y := r.H - 1
	for x := 0; x < r.W; x++ {
		r.SetAlpha(x, y, 0xFF)
	}
}

// MaxFrameSize returns the largest frame a raster of width w can hold.
func MaxFrameSize(w int) int {
	return w - frameHeaderSize
}

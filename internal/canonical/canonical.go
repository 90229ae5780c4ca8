// Package canonical computes the hash that devices sign and verifiers
// recompute.
//
// The hash is SHA-512 over the canonical PNG encoding of the raster
// with the last-row alpha cleared to 0xFF. Clearing the last row first
// is what lets the verifier recompute the identical hash after the
// signature frame has been embedded there.
package canonical

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"geocamd/internal/codec"
	"geocamd/internal/stego"
)

// DigestSize is the SHA-512 output length in bytes.
const DigestSize = sha512.Size

// Hash returns the canonical digest of r and its lower-case hex form.
// The input raster is not mutated.
func Hash(ctx context.Context, r *codec.Raster) ([DigestSize]byte, string, error) {
	var digest [DigestSize]byte

	cleared := r.Clone()
	stego.ClearLastRow(cleared)
	encoded, err := codec.Encode(ctx, cleared)
	if err != nil {
		return digest, "", fmt.Errorf("canonical: encode: %w", err)
	}
	digest = sha512.Sum512(encoded)
	return digest, hex.EncodeToString(digest[:]), nil
}

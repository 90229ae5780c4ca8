package canonical

import (
	"context"
	"testing"

	"geocamd/internal/codec"
	"geocamd/internal/stego"
)

func raster(t *testing.T, w, h int) *codec.Raster {
	t.Helper()
	r, err := codec.NewRaster(w, h)
	if err != nil {
		t.Fatalf("NewRaster failed: %v", err)
	}
	for i := 0; i < len(r.Pix); i += 4 {
		r.Pix[i] = byte(i)
	}
	return r
}

func TestHashHexLength(t *testing.T) {
	_, hexHash, err := Hash(context.Background(), raster(t, 64, 4))
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if len(hexHash) != 128 {
		t.Errorf("hex digest length %d, want 128", len(hexHash))
	}
}

func TestHashUnchangedByLastRowFrame(t *testing.T) {
	ctx := context.Background()
	r := raster(t, 128, 4)
	if err := stego.EmbedBody(r, "capture metadata"); err != nil {
		t.Fatalf("EmbedBody failed: %v", err)
	}

	_, before, err := Hash(ctx, r)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := stego.EmbedLastRow(r, []byte(`{"sig":"s","pk":"p","v":1}`)); err != nil {
		t.Fatalf("EmbedLastRow failed: %v", err)
	}
	_, after, err := Hash(ctx, r)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if before != after {
		t.Error("canonical hash changed after last-row embedding")
	}
}

func TestHashSensitiveToBody(t *testing.T) {
	ctx := context.Background()
	r := raster(t, 128, 4)

	_, before, err := Hash(ctx, r)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := stego.EmbedBody(r, "different metadata"); err != nil {
		t.Fatalf("EmbedBody failed: %v", err)
	}
	_, after, err := Hash(ctx, r)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if before == after {
		t.Error("canonical hash ignored body embedding")
	}
}

func TestHashSensitiveToPixels(t *testing.T) {
	ctx := context.Background()
	r := raster(t, 128, 4)
	_, before, err := Hash(ctx, r)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	r.Pix[0] ^= 1 // flip one bit of pixel (0,0) red channel
	_, after, err := Hash(ctx, r)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if before == after {
		t.Error("canonical hash ignored a pixel flip")
	}
}

func TestHashDoesNotMutateInput(t *testing.T) {
	r := raster(t, 64, 4)
	if err := stego.EmbedLastRow(r, []byte("frame")); err != nil {
		t.Fatalf("EmbedLastRow failed: %v", err)
	}
	before := append([]byte(nil), r.Pix...)
	if _, _, err := Hash(context.Background(), r); err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	for i := range before {
		if r.Pix[i] != before[i] {
			t.Fatalf("Hash mutated the input raster at byte %d", i)
		}
	}
}

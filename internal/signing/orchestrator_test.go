package signing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"image"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocamd/internal/codec"
	"geocamd/internal/session"
	"geocamd/internal/stego"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type harness struct {
	orch     *Orchestrator
	sessions *session.Store
	priv     *secp256k1.PrivateKey
	pubB64   string
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Now()}
	h.sessions = session.New(session.Config{
		TTL:           session.DefaultTTL,
		SweepInterval: time.Hour,
		Now:           func() time.Time { return h.now },
	})
	t.Cleanup(h.sessions.Close)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	h.priv = priv
	h.pubB64 = base64.StdEncoding.EncodeToString(priv.PubKey().SerializeCompressed())
	h.orch = New(h.sessions, Config{Precheck: true, Now: func() time.Time { return h.now }})
	return h
}

func (h *harness) sign(t *testing.T, hashHex string) string {
	t.Helper()
	digest, err := hex.DecodeString(hashHex)
	require.NoError(t, err)
	compact := ecdsa.SignCompact(h.priv, digest[:32], true)
	return base64.StdEncoding.EncodeToString(compact[1:])
}

func TestProcessComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	proc, err := h.orch.Process(ctx, testJPEG(t, 640, 480), `{"lat":1}`, h.pubB64)
	require.NoError(t, err)
	assert.Len(t, proc.HashHex, 128)
	assert.Equal(t, 640, proc.Width)
	assert.Equal(t, 480, proc.Height)
	assert.Equal(t, 640*480*4, proc.RGBASize)

	comp, err := h.orch.Complete(ctx, proc.SessionID, h.sign(t, proc.HashHex))
	require.NoError(t, err)
	assert.Equal(t, 640, comp.Width)
	assert.Equal(t, 480, comp.Height)
	assert.Equal(t, len(comp.PNG), comp.PNGSize)
	assert.Greater(t, comp.CompressionRatio, 0.0)

	// The finalized PNG must carry the frame and the basic info.
	raster, err := codec.Decode(ctx, comp.PNG)
	require.NoError(t, err)
	frameBytes, err := stego.ReadLastRow(raster)
	require.NoError(t, err)
	frame, err := stego.ParseFrame(frameBytes)
	require.NoError(t, err)
	assert.Equal(t, h.pubB64, frame.PK)
	assert.Equal(t, stego.FrameVersion, frame.V)

	info, err := stego.ReadBody(raster)
	require.NoError(t, err)
	assert.Equal(t, `{"lat":1}`, info)
}

func TestCompleteUnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Complete(context.Background(), "nope", "c2ln")
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestCompleteExpiredSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	proc, err := h.orch.Process(ctx, testJPEG(t, 64, 64), "x", h.pubB64)
	require.NoError(t, err)

	h.now = h.now.Add(session.DefaultTTL + time.Second)
	_, err = h.orch.Complete(ctx, proc.SessionID, h.sign(t, proc.HashHex))
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestCompleteConsumesSessionOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	proc, err := h.orch.Process(ctx, testJPEG(t, 64, 64), "x", h.pubB64)
	require.NoError(t, err)

	// Signature over the wrong digest fails the pre-check.
	wrong := strings.Repeat("00", 64)
	_, err = h.orch.Complete(ctx, proc.SessionID, h.sign(t, wrong))
	assert.ErrorIs(t, err, ErrSignatureRejected)

	// The session must be gone; clients restart from Process.
	_, err = h.orch.Complete(ctx, proc.SessionID, h.sign(t, proc.HashHex))
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestCompleteBadSignatureEncoding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	proc, err := h.orch.Process(ctx, testJPEG(t, 64, 64), "x", h.pubB64)
	require.NoError(t, err)
	_, err = h.orch.Complete(ctx, proc.SessionID, "!!not-base64!!")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	proc, err = h.orch.Process(ctx, testJPEG(t, 64, 64), "x", h.pubB64)
	require.NoError(t, err)
	short := base64.StdEncoding.EncodeToString(make([]byte, 63))
	_, err = h.orch.Complete(ctx, proc.SessionID, short)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestProcessRejectsBadPublicKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Process(ctx, testJPEG(t, 64, 64), "x", "@@@")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, err = h.orch.Process(ctx, testJPEG(t, 64, 64), "x", short)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	assert.Equal(t, 0, h.sessions.Len(), "failed Process must not create sessions")
}

func TestProcessRejectsOversizedBasicInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Larger than the hard cap.
	_, err := h.orch.Process(ctx, testJPEG(t, 64, 64), strings.Repeat("a", MaxBasicInfoLen+1), h.pubB64)
	assert.ErrorIs(t, err, ErrBasicInfoTooLarge)

	// Within the cap but larger than the body region of a small image.
	_, err = h.orch.Process(ctx, testJPEG(t, 16, 3), strings.Repeat("a", 16*2), h.pubB64)
	assert.ErrorIs(t, err, stego.ErrPayloadTooLarge)
}

func TestProcessRejectsTinyImages(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Process(context.Background(), testJPEG(t, 64, 1), "x", h.pubB64)
	require.Error(t, err)
	assert.ErrorIs(t, err, stego.ErrRasterTooSmall)
}

func TestAbandon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	proc, err := h.orch.Process(ctx, testJPEG(t, 64, 64), "x", h.pubB64)
	require.NoError(t, err)
	assert.True(t, h.orch.Abandon(proc.SessionID))
	_, err = h.orch.Complete(ctx, proc.SessionID, h.sign(t, proc.HashHex))
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

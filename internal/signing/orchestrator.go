// Package signing implements the two-phase signing flow.
//
// Phase one (Process) embeds the capture metadata, computes the
// canonical hash and parks the embedded raster in a session. Phase two
// (Complete) receives the device's compact signature, frames it with
// the public key into the last row and encodes the final PNG. The
// device only ever sees the hash, never the signed-bytes construction.
package signing

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"geocamd/internal/canonical"
	"geocamd/internal/codec"
	"geocamd/internal/session"
	"geocamd/internal/sigcrypto"
	"geocamd/internal/stego"
)

// MaxBasicInfoLen caps the embedded metadata string.
const MaxBasicInfoLen = 64 << 10

// Errors
var (
	ErrBasicInfoTooLarge = errors.New("signing: basic info too large to embed")
	ErrInvalidPublicKey  = errors.New("signing: invalid public key")
	ErrInvalidSignature  = errors.New("signing: invalid signature encoding")
	ErrSignatureRejected = errors.New("signing: signature does not verify against session hash")
)

// Config tunes the orchestrator.
type Config struct {
	// Precheck verifies the device signature against the session hash
	// before finalizing. Defense in depth: a finalized PNG would fail
	// verification anyway, but rejecting here gives the client a
	// useful error instead of a broken image.
	Precheck bool

	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Orchestrator drives Process and Complete over a session store.
type Orchestrator struct {
	sessions *session.Store
	cfg      Config
}

// New creates an orchestrator on top of the given session store.
func New(sessions *session.Store, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{sessions: sessions, cfg: cfg}
}

// ProcessResult is returned to the device after phase one.
type ProcessResult struct {
	SessionID string
	HashHex   string
	Width     int
	Height    int
	RGBASize  int
}

// CompleteResult carries the finalized PNG and its stats.
type CompleteResult struct {
	PNG              []byte
	OriginalSize     int
	PNGSize          int
	Width            int
	Height           int
	CompressionRatio float64
}

// Process decodes the upload, embeds the basic info, computes the
// canonical hash and opens a session. Failures are pure: no session is
// created unless the result is returned.
func (o *Orchestrator) Process(ctx context.Context, jpegBytes []byte, basicInfo, publicKeyB64 string) (*ProcessResult, error) {
	if len(basicInfo) > MaxBasicInfoLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrBasicInfoTooLarge, len(basicInfo))
	}
	keyBytes, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if _, _, err := sigcrypto.ParsePublicKey(keyBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	raster, err := codec.DecodeJPEG(ctx, jpegBytes)
	if err != nil {
		return nil, err
	}
	if err := stego.EmbedBody(raster, basicInfo); err != nil {
		return nil, err
	}
	_, hashHex, err := canonical.Hash(ctx, raster)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// A cancelled Process must not leave a session behind.
		return nil, err
	}

	sess := &session.Session{
		ID:           session.NewID(),
		Raster:       raster,
		PublicKeyB64: publicKeyB64,
		HashHex:      hashHex,
		OriginalSize: len(jpegBytes),
		CreatedAt:    o.cfg.Now(),
	}
	o.sessions.Put(sess)
	o.cfg.Logger.Info("signing session opened",
		"session_id", sess.ID, "width", raster.W, "height", raster.H)

	return &ProcessResult{
		SessionID: sess.ID,
		HashHex:   hashHex,
		Width:     raster.W,
		Height:    raster.H,
		RGBASize:  len(raster.Pix),
	}, nil
}

// Complete consumes the session, optionally pre-checks the signature,
// embeds the signature frame and encodes the final PNG. The session is
// gone whatever the outcome; a failed Complete forces a fresh Process.
func (o *Orchestrator) Complete(ctx context.Context, sessionID, signatureB64 string) (*CompleteResult, error) {
	sess, err := o.sessions.Take(sessionID)
	if err != nil {
		return nil, err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sigBytes) != sigcrypto.SignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sigBytes))
	}

	if o.cfg.Precheck {
		digest, err := hex.DecodeString(sess.HashHex)
		if err != nil {
			return nil, fmt.Errorf("signing: corrupt session hash: %w", err)
		}
		keyBytes, err := base64.StdEncoding.DecodeString(sess.PublicKeyB64)
		if err != nil {
			return nil, fmt.Errorf("signing: corrupt session key: %w", err)
		}
		verdict, _ := sigcrypto.VerifyCompact(sigBytes, keyBytes, digest)
		if verdict != sigcrypto.Valid {
			o.cfg.Logger.Warn("signature pre-check failed",
				"session_id", sessionID, "verdict", verdict.String())
			return nil, ErrSignatureRejected
		}
	}

	frame := stego.NewFrame(signatureB64, sess.PublicKeyB64, o.cfg.Now())
	frameBytes, err := frame.Marshal()
	if err != nil {
		return nil, err
	}
	if err := stego.EmbedLastRow(sess.Raster, frameBytes); err != nil {
		return nil, err
	}
	png, err := codec.Encode(ctx, sess.Raster)
	if err != nil {
		return nil, err
	}

	ratio := 0.0
	if sess.OriginalSize > 0 {
		ratio = float64(len(png)) / float64(sess.OriginalSize)
	}
	o.cfg.Logger.Info("signing session completed",
		"session_id", sessionID, "png_size", len(png))

	return &CompleteResult{
		PNG:              png,
		OriginalSize:     sess.OriginalSize,
		PNGSize:          len(png),
		Width:            sess.Raster.W,
		Height:           sess.Raster.H,
		CompressionRatio: ratio,
	}, nil
}

// Abandon drops a pending session without finalizing it.
func (o *Orchestrator) Abandon(sessionID string) bool {
	return o.sessions.Abandon(sessionID)
}

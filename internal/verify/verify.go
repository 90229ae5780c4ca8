// Package verify answers the single question "is this PNG authentic?".
//
// Verification never raises an error to the operator: every outcome is
// a structured Result with a stable reason string. The cryptographic
// verdict (signature_valid) is independent of the registry verdict
// (device_known, device_revoked); authenticity requires all of them.
package verify

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"geocamd/internal/canonical"
	"geocamd/internal/codec"
	"geocamd/internal/registry"
	"geocamd/internal/sigcrypto"
	"geocamd/internal/stego"
)

// Stable reason strings.
const (
	ReasonOK             = "ok"
	ReasonNotAValidPNG   = "not_a_valid_png"
	ReasonNoFrame        = "no_signature_frame"
	ReasonMalformedFrame = "malformed_frame"
	ReasonInvalidSig     = "invalid_signature"
	ReasonUnknownDevice  = "unknown_device"
	ReasonRevokedDevice  = "revoked_device"
	ReasonNoBasicInfo    = "no_basic_info"
)

// Result is the structured verification verdict.
type Result struct {
	Authentic      bool             `json:"authentic"`
	SignatureValid bool             `json:"signature_valid"`
	DeviceKnown    bool             `json:"device_known"`
	DeviceRevoked  bool             `json:"device_revoked"`
	Device         *registry.Device `json:"device_info,omitempty"`
	BasicInfo      string           `json:"basic_info,omitempty"`
	Frame          *stego.Frame     `json:"frame,omitempty"`
	Reason         string           `json:"reason"`
}

// DeviceLookup is the registry surface verification needs.
type DeviceLookup interface {
	LookupByPublicKey(ctx context.Context, publicKeyB64 string) (*registry.Device, error)
	RecordVerification(ctx context.Context, v registry.Verification) error
}

// Engine runs verifications against a device registry.
type Engine struct {
	devices DeviceLookup
	logger  *slog.Logger
}

// New creates a verification engine.
func New(devices DeviceLookup, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{devices: devices, logger: logger}
}

// Verify extracts the payloads from pngBytes, recomputes the canonical
// hash, checks the signature and consults the registry. peerIP is
// recorded in the audit trail and may be empty.
func (e *Engine) Verify(ctx context.Context, pngBytes []byte, peerIP string) *Result {
	res := e.verify(ctx, pngBytes)
	e.audit(ctx, res, peerIP)
	return res
}

func (e *Engine) verify(ctx context.Context, pngBytes []byte) *Result {
	raster, err := codec.Decode(ctx, pngBytes)
	if err != nil {
		return &Result{Reason: ReasonNotAValidPNG}
	}

	frameBytes, err := stego.ReadLastRow(raster)
	if err != nil {
		return &Result{Reason: ReasonNoFrame}
	}
	frame, err := stego.ParseFrame(frameBytes)
	if err != nil {
		return &Result{Reason: ReasonMalformedFrame}
	}
	res := &Result{Frame: &frame}

	basicInfo, err := stego.ReadBody(raster)
	noBasicInfo := err != nil
	if !noBasicInfo {
		res.BasicInfo = basicInfo
	}

	sigBytes, err := base64.StdEncoding.DecodeString(frame.Sig)
	if err != nil {
		res.Reason = ReasonMalformedFrame
		return res
	}
	keyBytes, err := base64.StdEncoding.DecodeString(frame.PK)
	if err != nil {
		res.Reason = ReasonMalformedFrame
		return res
	}

	digest, _, err := canonical.Hash(ctx, raster)
	if err != nil {
		res.Reason = ReasonNotAValidPNG
		return res
	}

	verdict, _ := sigcrypto.VerifyCompact(sigBytes, keyBytes, digest[:])
	switch verdict {
	case sigcrypto.Valid:
		res.SignatureValid = true
	case sigcrypto.InvalidSignature:
		res.Reason = ReasonInvalidSig
		return res
	default:
		// Unusable key or signature bytes inside a parseable frame.
		res.Reason = ReasonMalformedFrame
		return res
	}

	device, err := e.devices.LookupByPublicKey(ctx, frame.PK)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		res.Reason = ReasonUnknownDevice
		return res
	case err != nil:
		e.logger.Error("registry lookup failed", "error", err)
		res.Reason = ReasonUnknownDevice
		return res
	}
	res.DeviceKnown = true
	res.Device = device
	if device.Revoked {
		res.DeviceRevoked = true
		res.Reason = ReasonRevokedDevice
		return res
	}

	res.Authentic = true
	if noBasicInfo {
		res.Reason = ReasonNoBasicInfo
	} else {
		res.Reason = ReasonOK
	}
	return res
}

func (e *Engine) audit(ctx context.Context, res *Result, peerIP string) {
	rec := registry.Verification{
		When:   time.Now(),
		Valid:  res.SignatureValid,
		Reason: res.Reason,
		PeerIP: peerIP,
	}
	if res.Device != nil {
		rec.PublicKeyID = res.Device.PublicKeyID
	}
	if err := e.devices.RecordVerification(ctx, rec); err != nil {
		e.logger.Error("failed to write verification audit record", "error", err)
	}
}

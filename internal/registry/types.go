// Package registry stores registered capture devices and their public
// keys, and keeps the append-only verification audit trail.
package registry

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AlgorithmSecp256k1 is the only key algorithm the registry accepts.
const AlgorithmSecp256k1 = "secp256k1"

// Errors
var (
	ErrNotFound              = errors.New("registry: device not found")
	ErrInstallationConflict  = errors.New("registry: installation already bound to a different key")
	ErrUnsupportedAlgorithm  = errors.New("registry: unsupported key algorithm")
	ErrInvalidPublicKey      = errors.New("registry: invalid public key")
	ErrMissingInstallationID = errors.New("registry: installation id required")
	ErrFingerprintMismatch   = errors.New("registry: key fingerprint does not match")
)

// Device is one registered capture device. Devices are soft state:
// created at first registration, mutated only to set Revoked.
type Device struct {
	DeviceID        string    `json:"device_id"`
	InstallationID  string    `json:"installation_id"`
	PublicKeyBase64 string    `json:"public_key_base64"`
	PublicKeyID     string    `json:"public_key_id"`
	Fingerprint     string    `json:"public_key_fingerprint"`
	Algorithm       string    `json:"algorithm"`
	DeviceModel     string    `json:"device_model"`
	OSName          string    `json:"os_name"`
	OSVersion       string    `json:"os_version"`
	RegisteredAt    time.Time `json:"registered_at"`
	Sequence        int64     `json:"geocam_sequence"`
	Revoked         bool      `json:"revoked"`
}

// Name returns the human-readable label, "GeoCam" plus the sequence.
func (d *Device) Name() string {
	return fmt.Sprintf("GeoCam%d", d.Sequence)
}

// Registration is the input to Register.
type Registration struct {
	InstallationID  string
	DeviceModel     string
	OSName          string
	OSVersion       string
	PublicKeyBase64 string
	Algorithm       string
	RegisteredAt    time.Time
}

// Verification is one audit record. Append-only, bounded retention.
type Verification struct {
	When        time.Time
	PublicKeyID string
	Valid       bool
	Reason      string
	PeerIP      string
}

// PublicKeyID derives the stable key identifier: "gc_" plus the first
// 24 base32 characters of SHA-256 over the Base64 key string.
func PublicKeyID(publicKeyB64 string) string {
	sum := sha256.Sum256([]byte(publicKeyB64))
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return "gc_" + strings.ToLower(enc[:24])
}

// Fingerprint derives the short display fingerprint: the first 16 hex
// characters of SHA-256 over the Base64 key string. Not a security
// boundary.
func Fingerprint(publicKeyB64 string) string {
	sum := sha256.Sum256([]byte(publicKeyB64))
	return hex.EncodeToString(sum[:])[:16]
}

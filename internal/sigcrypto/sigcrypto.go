// Package sigcrypto verifies compact ECDSA signatures over secp256k1.
//
// Inputs are the wire forms the capture devices produce: a 64-byte
// r || s signature, a 33-byte compressed public key, and the 64-byte
// SHA-512 canonical digest. The caller pre-hashes; nothing here hashes
// again. Per standard ECDSA the digest contributes its leftmost 256
// bits to the verification equation, which matches the device signers.
package sigcrypto

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Wire sizes.
const (
	SignatureSize = 64 // r || s, each 32-byte big-endian
	PublicKeySize = 33 // 0x02/0x03 prefix + x coordinate
)

// Verdict is the outcome of a verification attempt.
type Verdict int

const (
	// Valid means the signature verifies over the digest.
	Valid Verdict = iota
	// InvalidSignature means a well-formed signature that does not verify.
	InvalidSignature
	// MalformedSignature means the signature bytes are not a usable r || s pair.
	MalformedSignature
	// MalformedPublicKey means the public key bytes do not parse.
	MalformedPublicKey
	// PointNotOnCurve means the x coordinate has no point on secp256k1.
	PointNotOnCurve
)

// String returns the stable name of the verdict.
func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case InvalidSignature:
		return "invalid_signature"
	case MalformedSignature:
		return "malformed_signature"
	case MalformedPublicKey:
		return "malformed_public_key"
	case PointNotOnCurve:
		return "point_not_on_curve"
	default:
		return "unknown"
	}
}

// Errors
var (
	ErrSignatureLength = errors.New("sigcrypto: signature must be 64 bytes")
	ErrPublicKeyLength = errors.New("sigcrypto: public key must be 33 bytes")
	ErrDigestLength    = errors.New("sigcrypto: digest must be 64 bytes")
)

// ParsePublicKey parses a 33-byte compressed secp256k1 public key.
func ParsePublicKey(pub []byte) (*secp256k1.PublicKey, Verdict, error) {
	if len(pub) != PublicKeySize {
		return nil, MalformedPublicKey, fmt.Errorf("%w: got %d", ErrPublicKeyLength, len(pub))
	}
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return nil, MalformedPublicKey, fmt.Errorf("sigcrypto: invalid compression prefix 0x%02x", pub[0])
	}
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		if errors.Is(err, secp256k1.ErrPubKeyNotOnCurve) {
			return nil, PointNotOnCurve, fmt.Errorf("sigcrypto: %w", err)
		}
		return nil, MalformedPublicKey, fmt.Errorf("sigcrypto: %w", err)
	}
	return key, Valid, nil
}

// parseCompact splits a 64-byte r || s signature into scalars.
// Zero or overflowing r/s values are rejected; a high s is accepted
// because the device signers do not canonicalize to low s.
func parseCompact(sig []byte) (*ecdsa.Signature, error) {
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("%w: got %d", ErrSignatureLength, len(sig))
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return nil, errors.New("sigcrypto: r overflows the group order")
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return nil, errors.New("sigcrypto: s overflows the group order")
	}
	if r.IsZero() {
		return nil, errors.New("sigcrypto: r is zero")
	}
	if s.IsZero() {
		return nil, errors.New("sigcrypto: s is zero")
	}
	return ecdsa.NewSignature(&r, &s), nil
}

// VerifyCompact checks sig over digest under pub and reports a verdict.
// digest is the 64-byte SHA-512 canonical hash.
func VerifyCompact(sig, pub, digest []byte) (Verdict, error) {
	if len(digest) != canonicalDigestSize {
		return MalformedSignature, fmt.Errorf("%w: got %d", ErrDigestLength, len(digest))
	}
	parsedSig, err := parseCompact(sig)
	if err != nil {
		return MalformedSignature, err
	}
	key, verdict, err := ParsePublicKey(pub)
	if err != nil {
		return verdict, err
	}
	// ECDSA uses the leftmost curve-order bits of the digest.
	if !parsedSig.Verify(digest[:32], key) {
		return InvalidSignature, nil
	}
	return Valid, nil
}

const canonicalDigestSize = 64

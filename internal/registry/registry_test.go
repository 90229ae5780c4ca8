package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func testKeyB64(t *testing.T) string {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(priv.PubKey().SerializeCompressed())
}

func testRegistration(t *testing.T, installationID string) Registration {
	return Registration{
		InstallationID:  installationID,
		DeviceModel:     "Pixel 8",
		OSName:          "Android",
		OSVersion:       "15",
		PublicKeyBase64: testKeyB64(t),
		Algorithm:       AlgorithmSecp256k1,
		RegisteredAt:    time.Now(),
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	reg := testRegistration(t, "install-1")
	dev, err := r.Register(ctx, reg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if dev.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", dev.Sequence)
	}
	if dev.Name() != "GeoCam1" {
		t.Errorf("Name = %q, want GeoCam1", dev.Name())
	}
	if !strings.HasPrefix(dev.PublicKeyID, "gc_") || len(dev.PublicKeyID) != 27 {
		t.Errorf("unexpected public key id %q", dev.PublicKeyID)
	}
	if len(dev.Fingerprint) != 16 {
		t.Errorf("fingerprint %q, want 16 hex chars", dev.Fingerprint)
	}

	byKey, err := r.LookupByPublicKey(ctx, reg.PublicKeyBase64)
	if err != nil {
		t.Fatalf("LookupByPublicKey failed: %v", err)
	}
	if byKey.DeviceID != dev.DeviceID {
		t.Error("lookup by key returned a different device")
	}

	byID, err := r.LookupByPublicKeyID(ctx, dev.PublicKeyID)
	if err != nil {
		t.Fatalf("LookupByPublicKeyID failed: %v", err)
	}
	if byID.DeviceID != dev.DeviceID {
		t.Error("lookup by key id returned a different device")
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	reg := testRegistration(t, "install-1")
	first, err := r.Register(ctx, reg)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second, err := r.Register(ctx, reg)
	if err != nil {
		t.Fatalf("repeat Register failed: %v", err)
	}
	if first.DeviceID != second.DeviceID || first.Sequence != second.Sequence ||
		first.PublicKeyID != second.PublicKeyID {
		t.Error("re-registration did not return the identical record")
	}
	if n, _ := r.CountDevices(ctx); n != 1 {
		t.Errorf("device count = %d, want 1", n)
	}
}

func TestRegisterInstallationConflict(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, testRegistration(t, "install-1")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// Same install, different key.
	_, err := r.Register(ctx, testRegistration(t, "install-1"))
	if !errors.Is(err, ErrInstallationConflict) {
		t.Fatalf("got %v, want ErrInstallationConflict", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	reg := testRegistration(t, "install-1")
	reg.Algorithm = "ed25519"
	if _, err := r.Register(ctx, reg); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("algorithm: got %v, want ErrUnsupportedAlgorithm", err)
	}

	reg = testRegistration(t, "install-1")
	reg.PublicKeyBase64 = "not-base64!!"
	if _, err := r.Register(ctx, reg); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("bad base64: got %v, want ErrInvalidPublicKey", err)
	}

	reg = testRegistration(t, "install-1")
	reg.PublicKeyBase64 = base64.StdEncoding.EncodeToString(make([]byte, 20))
	if _, err := r.Register(ctx, reg); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("short key: got %v, want ErrInvalidPublicKey", err)
	}

	reg = testRegistration(t, "")
	if _, err := r.Register(ctx, reg); !errors.Is(err, ErrMissingInstallationID) {
		t.Errorf("empty install: got %v, want ErrMissingInstallationID", err)
	}
}

func TestSequenceMonotonic(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		dev, err := r.Register(ctx, testRegistration(t, "install-"+string(rune('a'+i))))
		if err != nil {
			t.Fatalf("Register %d failed: %v", i, err)
		}
		if dev.Sequence <= last {
			t.Fatalf("sequence %d not strictly greater than %d", dev.Sequence, last)
		}
		last = dev.Sequence
	}
}

func TestRevoke(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	dev, err := r.Register(ctx, testRegistration(t, "install-1"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Revoke(ctx, dev.DeviceID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	got, err := r.LookupByDeviceID(ctx, dev.DeviceID)
	if err != nil {
		t.Fatalf("lookup after revoke failed: %v", err)
	}
	if !got.Revoked {
		t.Error("device not marked revoked")
	}
	if err := r.Revoke(ctx, "no-such-device"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoke unknown: got %v, want ErrNotFound", err)
	}
}

func TestSequenceNotReusedAfterRevoke(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, testRegistration(t, "install-1"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Revoke(ctx, first.DeviceID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	second, err := r.Register(ctx, testRegistration(t, "install-2"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if second.Sequence <= first.Sequence {
		t.Errorf("sequence %d reused after revoke of %d", second.Sequence, first.Sequence)
	}
}

func TestDeleteByInstallation(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	dev, err := r.Register(ctx, testRegistration(t, "install-1"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.DeleteByInstallation(ctx, "install-1", "wrong-fingerprint"); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("wrong fingerprint: got %v, want ErrFingerprintMismatch", err)
	}
	if err := r.DeleteByInstallation(ctx, "install-1", dev.Fingerprint); err != nil {
		t.Fatalf("DeleteByInstallation failed: %v", err)
	}
	if _, err := r.LookupByDeviceID(ctx, dev.DeviceID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("device still present after delete: %v", err)
	}
	if err := r.DeleteByInstallation(ctx, "install-1", dev.Fingerprint); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestListDevicesPagination(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := r.Register(ctx, testRegistration(t, "install-"+string(rune('a'+i)))); err != nil {
			t.Fatalf("Register %d failed: %v", i, err)
		}
	}
	page, err := r.ListDevices(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].Sequence != 3 || page[1].Sequence != 4 {
		t.Errorf("page sequences %d,%d, want 3,4", page[0].Sequence, page[1].Sequence)
	}
}

func TestVerificationAudit(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	old := Verification{
		When:   time.Now().Add(-48 * time.Hour),
		Valid:  false,
		Reason: "invalid_signature",
		PeerIP: "10.0.0.1",
	}
	fresh := Verification{
		When:        time.Now(),
		PublicKeyID: "gc_abc",
		Valid:       true,
		Reason:      "ok",
		PeerIP:      "10.0.0.2",
	}
	if err := r.RecordVerification(ctx, old); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	if err := r.RecordVerification(ctx, fresh); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}

	removed, err := r.PruneVerifications(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneVerifications failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d records, want 1", removed)
	}
	if n, _ := r.CountVerifications(ctx); n != 1 {
		t.Errorf("retained %d records, want 1", n)
	}
}

func TestDerivations(t *testing.T) {
	key := "AtestKeyBase64=="
	id := PublicKeyID(key)
	if !strings.HasPrefix(id, "gc_") || len(id) != 27 {
		t.Errorf("PublicKeyID = %q", id)
	}
	if id != PublicKeyID(key) {
		t.Error("PublicKeyID not stable")
	}
	fp := Fingerprint(key)
	if len(fp) != 16 {
		t.Errorf("Fingerprint length = %d, want 16", len(fp))
	}
	if fp != Fingerprint(key) {
		t.Error("Fingerprint not stable")
	}
}

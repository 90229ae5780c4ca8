package registry

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"geocamd/internal/sigcrypto"
)

// Schema for the device registry and verification audit trail.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
    device_id               TEXT PRIMARY KEY,
    installation_id         TEXT NOT NULL UNIQUE,
    public_key_base64       TEXT NOT NULL UNIQUE,
    public_key_id           TEXT NOT NULL UNIQUE,
    public_key_fingerprint  TEXT NOT NULL,
    algorithm               TEXT NOT NULL,
    device_model            TEXT,
    os_name                 TEXT,
    os_version              TEXT,
    registered_at           INTEGER NOT NULL,
    sequence                INTEGER NOT NULL UNIQUE,
    revoked                 INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_devices_fingerprint ON devices(public_key_fingerprint);

CREATE TABLE IF NOT EXISTS verifications (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    verified_at     INTEGER NOT NULL,
    public_key_id   TEXT,
    valid           INTEGER NOT NULL,
    reason          TEXT NOT NULL,
    peer_ip         TEXT
);

CREATE INDEX IF NOT EXISTS idx_verifications_time ON verifications(verified_at);
`

// Registry is the SQLite-backed device store.
type Registry struct {
	db *sql.DB

	// installMu serializes writes per installation id so a racing
	// double registration cannot allocate two sequences for one
	// install.
	installMu sync.Mutex
	installs  map[string]*sync.Mutex
}

// Open opens or creates the registry database and applies the schema.
func Open(path string) (*Registry, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Registry{db: db, installs: make(map[string]*sync.Mutex)}, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Registry) lockInstallation(installationID string) func() {
	r.installMu.Lock()
	mu, ok := r.installs[installationID]
	if !ok {
		mu = &sync.Mutex{}
		r.installs[installationID] = mu
	}
	r.installMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Register stores a new device or returns the existing record when the
// same public key registers again. A known installation id presenting
// a different key is a conflict. The sequence number is allocated
// inside the insert transaction.
func (r *Registry) Register(ctx context.Context, reg Registration) (*Device, error) {
	if reg.Algorithm != AlgorithmSecp256k1 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, reg.Algorithm)
	}
	if reg.InstallationID == "" {
		return nil, ErrMissingInstallationID
	}
	keyBytes, err := base64.StdEncoding.DecodeString(reg.PublicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if _, _, err := sigcrypto.ParsePublicKey(keyBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now()
	}

	unlock := r.lockInstallation(reg.InstallationID)
	defer unlock()

	// Idempotent path: same key already registered.
	if existing, err := r.LookupByPublicKey(ctx, reg.PublicKeyBase64); err == nil {
		if existing.InstallationID != reg.InstallationID {
			return nil, ErrInstallationConflict
		}
		return existing, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	// Known installation with a different key is a conflict.
	if _, err := r.lookupOne(ctx, `installation_id = ?`, reg.InstallationID); err == nil {
		return nil, ErrInstallationConflict
	} else if err != ErrNotFound {
		return nil, err
	}

	dev := &Device{
		DeviceID:        uuid.NewString(),
		InstallationID:  reg.InstallationID,
		PublicKeyBase64: reg.PublicKeyBase64,
		PublicKeyID:     PublicKeyID(reg.PublicKeyBase64),
		Fingerprint:     Fingerprint(reg.PublicKeyBase64),
		Algorithm:       reg.Algorithm,
		DeviceModel:     reg.DeviceModel,
		OSName:          reg.OSName,
		OSVersion:       reg.OSVersion,
		RegisteredAt:    reg.RegisteredAt.UTC(),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM devices`).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}
	dev.Sequence = maxSeq.Int64 + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (device_id, installation_id, public_key_base64, public_key_id,
			public_key_fingerprint, algorithm, device_model, os_name, os_version,
			registered_at, sequence, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		dev.DeviceID, dev.InstallationID, dev.PublicKeyBase64, dev.PublicKeyID,
		dev.Fingerprint, dev.Algorithm, dev.DeviceModel, dev.OSName, dev.OSVersion,
		dev.RegisteredAt.UnixNano(), dev.Sequence,
	)
	if err != nil {
		return nil, fmt.Errorf("insert device: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return dev, nil
}

const deviceColumns = `device_id, installation_id, public_key_base64, public_key_id,
	public_key_fingerprint, algorithm, device_model, os_name, os_version,
	registered_at, sequence, revoked`

func scanDevice(row interface{ Scan(...any) error }) (*Device, error) {
	var d Device
	var registeredNs int64
	err := row.Scan(&d.DeviceID, &d.InstallationID, &d.PublicKeyBase64, &d.PublicKeyID,
		&d.Fingerprint, &d.Algorithm, &d.DeviceModel, &d.OSName, &d.OSVersion,
		&registeredNs, &d.Sequence, &d.Revoked)
	if err != nil {
		return nil, err
	}
	d.RegisteredAt = time.Unix(0, registeredNs).UTC()
	return &d, nil
}

func (r *Registry) lookupOne(ctx context.Context, where string, args ...any) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE `+where, args...)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	return d, nil
}

// LookupByPublicKey finds the device holding the given Base64 key.
func (r *Registry) LookupByPublicKey(ctx context.Context, publicKeyB64 string) (*Device, error) {
	return r.lookupOne(ctx, `public_key_base64 = ?`, publicKeyB64)
}

// LookupByPublicKeyID finds the device by its stable key id.
func (r *Registry) LookupByPublicKeyID(ctx context.Context, publicKeyID string) (*Device, error) {
	return r.lookupOne(ctx, `public_key_id = ?`, publicKeyID)
}

// LookupByDeviceID finds the device by its registry-assigned id.
func (r *Registry) LookupByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	return r.lookupOne(ctx, `device_id = ?`, deviceID)
}

// ListDevices returns devices ordered by sequence. limit <= 0 means no
// limit.
func (r *Registry) ListDevices(ctx context.Context, limit, offset int) ([]*Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices ORDER BY sequence`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDevices returns the total number of registered devices.
func (r *Registry) CountDevices(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}

// DeleteByInstallation removes a device record. Both the installation
// id and the key fingerprint must match, so a fresh-start from one
// install cannot wipe another device's record.
func (r *Registry) DeleteByInstallation(ctx context.Context, installationID, fingerprint string) error {
	unlock := r.lockInstallation(installationID)
	defer unlock()

	dev, err := r.lookupOne(ctx, `installation_id = ?`, installationID)
	if err != nil {
		return err
	}
	if dev.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE installation_id = ? AND public_key_fingerprint = ?`,
		installationID, fingerprint); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

// Revoke marks a device revoked. Revocation is monotonic; there is no
// unrevoke path.
func (r *Registry) Revoke(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET revoked = 1 WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordVerification appends one audit record.
func (r *Registry) RecordVerification(ctx context.Context, v Verification) error {
	if v.When.IsZero() {
		v.When = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verifications (verified_at, public_key_id, valid, reason, peer_ip)
		VALUES (?, ?, ?, ?, ?)`,
		v.When.UnixNano(), v.PublicKeyID, v.Valid, v.Reason, v.PeerIP)
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	return nil
}

// PruneVerifications drops audit records older than the cutoff and
// returns how many were removed.
func (r *Registry) PruneVerifications(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE verified_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune verifications: %w", err)
	}
	return res.RowsAffected()
}

// CountVerifications returns the number of retained audit records.
func (r *Registry) CountVerifications(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count verifications: %w", err)
	}
	return n, nil
}

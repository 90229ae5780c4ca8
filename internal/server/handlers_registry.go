package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"geocamd/internal/logging"
	"geocamd/internal/registry"
)

type publicKeyData struct {
	KeyBase64   string `json:"keyBase64"`
	KeyID       string `json:"keyId"`
	Algorithm   string `json:"algorithm"`
	KeySize     int    `json:"keySize"`
	GeneratedAt string `json:"generatedAt"`
	Hash        string `json:"hash"`
}

type registerRequest struct {
	InstallationID        string        `json:"installation_id"`
	DeviceModel           string        `json:"device_model"`
	OSName                string        `json:"os_name"`
	OSVersion             string        `json:"os_version"`
	PublicKeyData         publicKeyData `json:"public_key_data"`
	RegistrationTimestamp string        `json:"registration_timestamp"`
}

type registerResponse struct {
	Success        bool   `json:"success"`
	DeviceID       string `json:"device_id"`
	PublicKeyID    string `json:"public_key_id"`
	GeocamSequence int64  `json:"geocam_sequence"`
	GeocamName     string `json:"geocam_name"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, w, 256<<10, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	reg := registry.Registration{
		InstallationID:  req.InstallationID,
		DeviceModel:     req.DeviceModel,
		OSName:          req.OSName,
		OSVersion:       req.OSVersion,
		PublicKeyBase64: req.PublicKeyData.KeyBase64,
		Algorithm:       req.PublicKeyData.Algorithm,
	}
	if req.RegistrationTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, req.RegistrationTimestamp); err == nil {
			reg.RegisteredAt = ts
		}
	}

	dev, err := s.cfg.Registry.Register(r.Context(), reg)
	if err != nil {
		result := "failure"
		defer func() {
			s.auditEvent(r, logging.AuditEvent{
				EventType: logging.AuditEventRegistration,
				Action:    "register",
				Result:    result,
				Error:     err.Error(),
			})
		}()
		switch {
		case errors.Is(err, registry.ErrInstallationConflict):
			result = "denied"
			s.writeError(w, r, http.StatusConflict, codeConflict,
				"installation already bound to a different key")
		case errors.Is(err, registry.ErrUnsupportedAlgorithm),
			errors.Is(err, registry.ErrInvalidPublicKey),
			errors.Is(err, registry.ErrMissingInstallationID):
			s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		default:
			s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
		}
		return
	}
	s.auditEvent(r, logging.AuditEvent{
		EventType:   logging.AuditEventRegistration,
		Action:      "register",
		Result:      "success",
		DeviceID:    dev.DeviceID,
		PublicKeyID: dev.PublicKeyID,
	})

	s.writeJSON(w, http.StatusOK, registerResponse{
		Success:        true,
		DeviceID:       dev.DeviceID,
		PublicKeyID:    dev.PublicKeyID,
		GeocamSequence: dev.Sequence,
		GeocamName:     dev.Name(),
	})
}

// wireDevice augments the stored record with its display name.
type wireDevice struct {
	*registry.Device
	GeocamName string `json:"geocam_name"`
}

type listDevicesResponse struct {
	Success    bool         `json:"success"`
	Devices    []wireDevice `json:"devices"`
	TotalCount int          `json:"total_count"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := 0, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}

	devices, err := s.cfg.Registry.ListDevices(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("device listing failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	total, err := s.cfg.Registry.CountDevices(r.Context())
	if err != nil {
		s.logger.Error("device count failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	out := listDevicesResponse{Success: true, TotalCount: total, Devices: make([]wireDevice, 0, len(devices))}
	for _, d := range devices {
		out.Devices = append(out.Devices, wireDevice{Device: d, GeocamName: d.Name()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type deleteDeviceRequest struct {
	InstallationID string `json:"installation_id"`
	KeyFingerprint string `json:"key_fingerprint"`
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	var req deleteDeviceRequest
	if err := decodeJSON(r, w, 64<<10, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.InstallationID == "" || req.KeyFingerprint == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest,
			"installation_id and key_fingerprint are required")
		return
	}

	err := s.cfg.Registry.DeleteByInstallation(r.Context(), req.InstallationID, req.KeyFingerprint)
	if err != nil {
		// A fingerprint mismatch is reported as not-found so a caller
		// cannot probe which installations exist.
		if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrFingerprintMismatch) {
			s.writeError(w, r, http.StatusNotFound, codeNotFound, "no matching device")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	s.auditEvent(r, logging.AuditEvent{
		EventType: logging.AuditEventDeletion,
		Action:    "delete",
		Result:    "success",
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "device deleted",
	})
}

type revokeDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	var req revokeDeviceRequest
	if err := decodeJSON(r, w, 64<<10, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.DeviceID == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "device_id is required")
		return
	}

	if err := s.cfg.Registry.Revoke(r.Context(), req.DeviceID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, codeNotFound, "unknown device id")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	s.auditEvent(r, logging.AuditEvent{
		EventType: logging.AuditEventRevocation,
		Action:    "revoke",
		Result:    "success",
		DeviceID:  req.DeviceID,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type verifySecureRequest struct {
	ImageData   string `json:"image_data"`
	Signature   string `json:"signature"`
	PublicKeyID string `json:"public_key_id"`
	Timestamp   string `json:"timestamp"`
}

// handleVerifySecure verifies an image on behalf of a caller that also
// names the device it expects to have signed it. The image carries its
// own signature; the named device is cross-checked against the frame.
func (s *Server) handleVerifySecure(w http.ResponseWriter, r *http.Request) {
	var req verifySecureRequest
	if err := decodeJSON(r, w, s.bodyCap(), &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, codeImageTooLarge, err.Error())
			return
		}
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.ImageData == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "image_data is required")
		return
	}
	pngBytes, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "image_data is not valid Base64")
		return
	}

	var expected *registry.Device
	if req.PublicKeyID != "" {
		expected, err = s.cfg.Registry.LookupByPublicKeyID(r.Context(), req.PublicKeyID)
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, codeNotFound, "unknown public key id")
			return
		}
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}
	}

	if !s.acquireGate(w, r) {
		return
	}
	defer s.gate.release()

	start := time.Now()
	res := s.cfg.Verifier.Verify(r.Context(), pngBytes, peerIP(r))
	s.cfg.Metrics.CodecJobDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	s.cfg.Metrics.VerdictsTotal.WithLabelValues(res.Reason).Inc()

	wire := toWireResult(res)
	if expected != nil && (res.Device == nil || res.Device.PublicKeyID != expected.PublicKeyID) {
		wire.Authentic = false
		wire.Message = "image was not signed by the named device"
	}
	s.writeJSON(w, http.StatusOK, verifyResponse{Success: true, Result: wire})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.cfg.Health.RunChecks(r.Context())
	s.writeJSON(w, http.StatusOK, report)
}

package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"geocamd/internal/logging"
	"geocamd/internal/registry"
	"geocamd/internal/session"
	"geocamd/internal/signing"
	"geocamd/internal/stego"
	"geocamd/internal/verify"
)

// bodyCap sizes the JSON body limit around the Base64 expansion of the
// configured image cap.
func (s *Server) bodyCap() int64 {
	return s.maxImage.Load()*4/3 + (128 << 10)
}

type processRequest struct {
	JPEGBase64 string `json:"jpegBase64"`
	BasicInfo  string `json:"basicInfo"`
	PublicKey  string `json:"publicKey"`
}

type processResponse struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId"`
	HashToSign string `json:"hashToSign"`
	ImageInfo  struct {
		Width    int `json:"width"`
		Height   int `json:"height"`
		RGBASize int `json:"rgbaSize"`
	} `json:"imageInfo"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, w, s.bodyCap(), &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, codeImageTooLarge, err.Error())
			return
		}
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.JPEGBase64 == "" || req.PublicKey == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest,
			"jpegBase64 and publicKey are required")
		return
	}
	jpegBytes, err := base64.StdEncoding.DecodeString(req.JPEGBase64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "jpegBase64 is not valid Base64")
		return
	}
	if int64(len(jpegBytes)) > s.maxImage.Load() {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, codeImageTooLarge,
			"image exceeds the configured size limit")
		return
	}

	if !s.acquireGate(w, r) {
		return
	}
	defer s.gate.release()

	start := time.Now()
	res, err := s.cfg.Signer.Process(r.Context(), jpegBytes, req.BasicInfo, req.PublicKey)
	s.cfg.Metrics.CodecJobDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())
	if err != nil {
		s.cfg.Metrics.SigningsTotal.WithLabelValues("process_failed").Inc()
		switch {
		case errors.Is(err, signing.ErrBasicInfoTooLarge):
			s.writeError(w, r, http.StatusRequestEntityTooLarge, codePayloadTooLarge, err.Error())
		case errors.Is(err, signing.ErrInvalidPublicKey):
			s.writeError(w, r, http.StatusBadRequest, codeInvalidPublicKey, err.Error())
		case errors.Is(err, stego.ErrPayloadTooLarge), errors.Is(err, stego.ErrRasterTooSmall):
			s.writeError(w, r, http.StatusUnprocessableEntity, codePayloadTooLarge, err.Error())
		case r.Context().Err() != nil:
			s.writeError(w, r, http.StatusInternalServerError, codeInternal, "request timed out")
		default:
			// Codec rejections: the upload is not a decodable JPEG.
			s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		}
		return
	}
	s.cfg.Metrics.SigningsTotal.WithLabelValues("process_ok").Inc()
	s.cfg.Metrics.SessionsOpen.Set(float64(s.cfg.Sessions.Len()))

	out := processResponse{Success: true, SessionID: res.SessionID, HashToSign: res.HashHex}
	out.ImageInfo.Width = res.Width
	out.ImageInfo.Height = res.Height
	out.ImageInfo.RGBASize = res.RGBASize
	s.writeJSON(w, http.StatusOK, out)
}

type completeRequest struct {
	SessionID string `json:"sessionId"`
	Signature string `json:"signature"`
}

type completeResponse struct {
	Success   bool   `json:"success"`
	PNGBase64 string `json:"pngBase64"`
	Stats     struct {
		OriginalSize int `json:"originalSize"`
		PNGSize      int `json:"pngSize"`
		Dimensions   struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"dimensions"`
		CompressionRatio float64 `json:"compressionRatio"`
	} `json:"stats"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, w, 1<<20, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.Signature == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest,
			"sessionId and signature are required")
		return
	}

	if !s.acquireGate(w, r) {
		return
	}
	defer s.gate.release()

	start := time.Now()
	res, err := s.cfg.Signer.Complete(r.Context(), req.SessionID, req.Signature)
	s.cfg.Metrics.CodecJobDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	s.cfg.Metrics.SessionsOpen.Set(float64(s.cfg.Sessions.Len()))
	if err != nil {
		s.cfg.Metrics.SigningsTotal.WithLabelValues("complete_failed").Inc()
		switch {
		case errors.Is(err, session.ErrUnknownSession):
			s.writeError(w, r, http.StatusNotFound, codeUnknownSession, "unknown session id")
		case errors.Is(err, session.ErrSessionExpired):
			s.writeError(w, r, http.StatusGone, codeSessionExpired,
				"session expired, restart the signing flow")
		case errors.Is(err, signing.ErrInvalidSignature):
			s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		case errors.Is(err, signing.ErrSignatureRejected):
			s.writeError(w, r, http.StatusUnprocessableEntity, codeSigRejected,
				"signature does not verify against the session hash")
		case errors.Is(err, stego.ErrFrameTooLarge):
			s.writeError(w, r, http.StatusUnprocessableEntity, codePayloadTooLarge, err.Error())
		default:
			s.writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
		}
		return
	}
	s.cfg.Metrics.SigningsTotal.WithLabelValues("complete_ok").Inc()
	s.auditEvent(r, logging.AuditEvent{
		EventType: logging.AuditEventSigning,
		Action:    "complete",
		Result:    "success",
		SessionID: req.SessionID,
	})

	out := completeResponse{Success: true, PNGBase64: base64.StdEncoding.EncodeToString(res.PNG)}
	out.Stats.OriginalSize = res.OriginalSize
	out.Stats.PNGSize = res.PNGSize
	out.Stats.Dimensions.Width = res.Width
	out.Stats.Dimensions.Height = res.Height
	out.Stats.CompressionRatio = res.CompressionRatio
	s.writeJSON(w, http.StatusOK, out)
}

type abandonRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if err := decodeJSON(r, w, 64<<10, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "sessionId is required")
		return
	}
	if !s.cfg.Signer.Abandon(req.SessionID) {
		s.writeError(w, r, http.StatusNotFound, codeUnknownSession, "unknown session id")
		return
	}
	s.cfg.Metrics.SessionsOpen.Set(float64(s.cfg.Sessions.Len()))
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// verificationResult is the wire form of a verify.Result.
type verificationResult struct {
	Authentic      bool             `json:"authentic"`
	SignatureValid bool             `json:"signature_valid"`
	DeviceKnown    bool             `json:"device_known"`
	DeviceRevoked  bool             `json:"device_revoked"`
	Device         *registry.Device `json:"device_info,omitempty"`
	DecodedInfo    string           `json:"decoded_info,omitempty"`
	Frame          *stego.Frame     `json:"frame,omitempty"`
	Reason         string           `json:"reason"`
	Message        string           `json:"message"`
}

var reasonMessages = map[string]string{
	verify.ReasonOK:             "image is authentic",
	verify.ReasonNotAValidPNG:   "input is not a decodable PNG",
	verify.ReasonNoFrame:        "no signature frame present",
	verify.ReasonMalformedFrame: "signature frame is malformed",
	verify.ReasonInvalidSig:     "signature does not match the image content",
	verify.ReasonUnknownDevice:  "signing key is not registered",
	verify.ReasonRevokedDevice:  "signing device has been revoked",
	verify.ReasonNoBasicInfo:    "image is authentic but carries no metadata block",
}

func toWireResult(res *verify.Result) *verificationResult {
	msg, ok := reasonMessages[res.Reason]
	if !ok {
		msg = res.Reason
	}
	return &verificationResult{
		Authentic:      res.Authentic,
		SignatureValid: res.SignatureValid,
		DeviceKnown:    res.DeviceKnown,
		DeviceRevoked:  res.DeviceRevoked,
		Device:         res.Device,
		DecodedInfo:    res.BasicInfo,
		Frame:          res.Frame,
		Reason:         res.Reason,
		Message:        msg,
	}
}

type pureVerifyRequest struct {
	PNGBase64 string `json:"pngBase64"`
}

type verifyResponse struct {
	Success bool                `json:"success"`
	Result  *verificationResult `json:"verification_result"`
}

func (s *Server) handlePureVerify(w http.ResponseWriter, r *http.Request) {
	var req pureVerifyRequest
	if err := decodeJSON(r, w, s.bodyCap(), &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, codeImageTooLarge, err.Error())
			return
		}
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.PNGBase64 == "" {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "pngBase64 is required")
		return
	}
	pngBytes, err := base64.StdEncoding.DecodeString(req.PNGBase64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, codeBadRequest, "pngBase64 is not valid Base64")
		return
	}

	if !s.acquireGate(w, r) {
		return
	}
	defer s.gate.release()

	start := time.Now()
	res := s.cfg.Verifier.Verify(r.Context(), pngBytes, peerIP(r))
	s.cfg.Metrics.CodecJobDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	s.cfg.Metrics.VerdictsTotal.WithLabelValues(res.Reason).Inc()
	s.writeJSON(w, http.StatusOK, verifyResponse{Success: true, Result: toWireResult(res)})
}

func (s *Server) auditEvent(r *http.Request, ev logging.AuditEvent) {
	if s.cfg.Audit == nil {
		return
	}
	ev.SourceIP = peerIP(r)
	ev.RequestID = RequestID(r.Context())
	if err := s.cfg.Audit.Log(ev); err != nil {
		s.logger.Error("failed to write audit event", "error", err)
	}
}

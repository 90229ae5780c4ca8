package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Stable machine codes carried in error responses.
const (
	codeBadRequest       = "bad_request"
	codeImageTooLarge    = "image_too_large"
	codePayloadTooLarge  = "payload_too_large"
	codeInvalidPublicKey = "invalid_public_key"
	codeUnknownSession   = "unknown_session"
	codeSessionExpired   = "session_expired"
	codeSigRejected      = "signature_rejected"
	codeConflict         = "installation_conflict"
	codeNotFound         = "not_found"
	codeServerBusy       = "server_busy"
	codeTimeout          = "request_timeout"
	codeInternal         = "internal_error"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestID(r.Context()),
	})
}

// decodeJSON reads a capped request body. Unknown fields are ignored;
// a missing or malformed body is a hard 400 for the caller to report.
func decodeJSON(r *http.Request, w http.ResponseWriter, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

var errBodyTooLarge = errors.New("server: request body too large")

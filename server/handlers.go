package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/verify"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SelectorRequest names the Selfrica fields to reveal
type SelectorRequest struct {
	Fields []document.Field `json:"fields"`
}

// SelectorResponse is a packed selector with the fields it covers
type SelectorResponse struct {
	// Selector is [high, low] as decimal strings
	Selector [2]string       `json:"selector"`
	Fields   []document.Field `json:"fields"`
}

// UnpackRequest carries a packed selector
type UnpackRequest struct {
	Selector [2]string `json:"selector"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSelector(w http.ResponseWriter, r *http.Request) {
	var req SelectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	sel, err := disclose.SelectorFromFields(req.Fields)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}
	fields, err := disclose.FieldsFromSelector(sel)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SelectorResponse{Selector: sel.Strings(), Fields: fields})
}

func (s *Server) handleUnpack(w http.ResponseWriter, r *http.Request) {
	var req UnpackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	sel, err := parseSelector(req.Selector)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_selector", err.Error())
		return
	}
	fields, err := disclose.FieldsFromSelector(sel)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_selector", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SelectorResponse{Selector: sel.Strings(), Fields: fields})
}

func parseSelector(parts [2]string) (disclose.Selector, error) {
	var out [2]*big.Int
	for i, p := range parts {
		v, ok := new(big.Int).SetString(p, 10)
		if !ok || v.Sign() < 0 {
			return disclose.Selector{}, fmt.Errorf("invalid selector element %d: %q", i, p)
		}
		out[i] = v
	}
	return disclose.Selector{High: out[0], Low: out[1]}, nil
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "verification is not configured")
		return
	}

	var body verify.RequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req, err := body.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.verifier.Verify(r.Context(), req)
	switch {
	case err == nil:
	case verify.IsRevert(err):
		respondError(w, http.StatusUnprocessableEntity, revertName(err), err.Error())
		return
	default:
		s.logger.Error("verification failed",
			zap.Uint64("attestation_id", req.AttestationID),
			zap.Error(err),
		)
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.formatter.FormatVerificationResult(result))
}

// revertName returns the contract error name carried by err
func revertName(err error) string {
	var rev *chain.RevertError
	if errors.As(err, &rev) {
		return rev.Name
	}
	inner := err
	for next := errors.Unwrap(inner); next != nil; next = errors.Unwrap(inner) {
		inner = next
	}
	return inner.Error()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})
}

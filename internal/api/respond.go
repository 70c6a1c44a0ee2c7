package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/flowaudit/flowaudit/internal/apperr"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError writes err as an error envelope. Internal errors are logged
// and their message is not exposed.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	detail := ErrorDetail{Kind: apperr.KindInternal, Code: "INTERNAL", Message: "internal server error"}

	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindInternal {
		detail = ErrorDetail{
			Kind:    appErr.Kind,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	} else {
		if appErr != nil && appErr.Code != "" {
			detail.Code = appErr.Code
		}
		s.logger.Error("request failed", "error", err)
	}

	writeJSON(w, StatusFor(detail.Kind), ErrorBody{Error: detail})
}

// decodeJSON reads a JSON request body into v. Unknown fields are
// rejected. When optional is set an empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("BODY_TOO_LARGE", "request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Validation("INVALID_JSON", "invalid request body: %v", err)
	}
	if dec.More() {
		return apperr.Validation("INVALID_JSON", "invalid request body: trailing data")
	}
	return nil
}

// ifMatch returns the If-Match header without quotes.
func ifMatch(r *http.Request) string {
	return strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
}

package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/forgehost/controlplane/internal/apperr"
)

// DecodeJSON decodes the request body into dst, mapping any failure to a
// Validation error. The body is expected to already be size-capped by
// BodyLimit middleware.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid JSON body", err)
	}
	return nil
}

// ReadRawBody reads up to maxBytes of the request body without consuming it
// through a JSON decoder, for handlers (webhooks) that need the exact bytes
// a signature was computed over.
func ReadRawBody(r *http.Request, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, apperr.New(apperr.KindValidation, "request body too large")
	}
	return body, nil
}

// emailPattern is an intentionally permissive RFC-5322-ish check; strict
// validation is left to the mailbox provider at send time.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEmail checks length and shape per spec §3 (≤255, unique is a DB concern).
func ValidateEmail(email string) error {
	if email == "" || len(email) > 255 {
		return apperr.New(apperr.KindValidation, "email must be 1-255 characters")
	}
	if !emailPattern.MatchString(email) {
		return apperr.New(apperr.KindValidation, "email is not a valid address")
	}
	return nil
}

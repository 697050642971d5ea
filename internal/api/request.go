package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxBodySize is the maximum allowed request body size (1 MB).
const MaxBodySize = 1 << 20

const displayPrefix = "INC-"

// DecodeJSON reads and decodes a JSON request body into dst.
// It returns user-friendly error messages instead of leaking Go internals.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}

	r.Body = http.MaxBytesReader(nil, r.Body, MaxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	var unmarshalTypeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
	case errors.As(err, &unmarshalTypeErr):
		return fmt.Errorf("invalid value for field %q: expected %s", unmarshalTypeErr.Field, unmarshalTypeErr.Type)
	case errors.Is(err, io.EOF):
		return errors.New("request body is empty")
	case errors.As(err, &maxBytesErr):
		return fmt.Errorf("request body exceeds maximum size of %d bytes", MaxBodySize)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return fmt.Errorf("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
	default:
		return errors.New("invalid JSON in request body")
	}
}

// DecodeAndValidate decodes the body into dst and runs struct validation.
// On failure it writes the 400/422 response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := DecodeJSON(r, dst); err != nil {
		RespondErrorWithCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return false
	}
	if fieldErrors := Validate(dst); fieldErrors != nil {
		RespondValidationError(w, fieldErrors)
		return false
	}
	return true
}

// PathID reads an incident or suggestion id path value, which must be a UUID
func PathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		RespondValidationError(w, map[string]string{name: "must be a valid UUID"})
		return "", false
	}
	return id, true
}

// IsDisplayNumber reports whether ref looks like INC-000042 rather than a UUID
func IsDisplayNumber(ref string) bool {
	return strings.HasPrefix(strings.ToUpper(ref), displayPrefix)
}

// PathNumber reads a positive incident number path value, with or without the INC- prefix
func PathNumber(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	raw = strings.TrimPrefix(strings.ToUpper(raw), displayPrefix)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		RespondValidationError(w, map[string]string{name: "must be a positive incident number"})
		return 0, false
	}
	return n, true
}

// QueryBool reads a boolean query parameter, defaulting to false
func QueryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

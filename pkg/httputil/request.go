package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ParseJSONOrError decodes the body into dest. On failure it writes a 400
// and returns false.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		WriteValidationError(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// ParsePathString returns the named mux route variable
func ParsePathString(r *http.Request, key string) (string, error) {
	if v := mux.Vars(r)[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing path parameter: %s", key)
}

// ParsePathUUID returns the named route variable as a UUID
func ParsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw, err := ParsePathString(r, key)
	if err != nil {
		return uuid.Nil, err
	}
	return parseUUID(raw, key)
}

// ParsePathUUIDOrError is ParsePathUUID that writes a 400 on failure
func ParsePathUUIDOrError(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := ParsePathUUID(r, key)
	if err != nil {
		WriteValidationError(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// ParseQueryInt reads an integer query value, returning def when absent
func ParseQueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

// ParseQueryUUID reads an optional UUID query value; nil when absent
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := parseUUID(raw, key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseUUID(raw, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid id: %q", key, raw)
	}
	return id, nil
}

// Pagination is a bounded limit/offset window
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit and ?offset. A non-positive limit falls back
// to def and anything above max is clamped.
func ParsePagination(r *http.Request, def, max int) (Pagination, error) {
	var p Pagination
	var err error
	if p.Limit, err = ParseQueryInt(r, "limit", def); err != nil {
		return Pagination{}, err
	}
	if p.Offset, err = ParseQueryInt(r, "offset", 0); err != nil {
		return Pagination{}, err
	}
	if p.Offset < 0 {
		return Pagination{}, errors.New("offset must not be negative")
	}
	switch {
	case p.Limit < 1:
		p.Limit = def
	case p.Limit > max:
		p.Limit = max
	}
	return p, nil
}

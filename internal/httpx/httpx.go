// Package httpx holds the JSON and error-mapping helpers shared by the domain handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

const maxBody = 1 << 20

// ErrBadRequest marks client input that could not be decoded.
var ErrBadRequest = errors.New("bad request")

// Rule maps one sentinel error to an HTTP status code.
type Rule struct {
	Err  error
	Code int
}

// Status is an ordered rule list; the first rule whose Err matches (errors.Is) wins.
type Status []Rule

// With returns s followed by more.
func (s Status) With(more ...Rule) Status {
	out := make(Status, 0, len(s)+len(more))
	return append(append(out, s...), more...)
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON body, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

// Error writes {"error": ...} with the first matching status, or 500.
func Error(w http.ResponseWriter, err error, statuses Status) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrBadRequest) {
		status = http.StatusBadRequest
	}
	for _, rule := range statuses {
		if errors.Is(err, rule.Err) {
			status = rule.Code
			break
		}
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	JSON(w, status, map[string]string{"error": msg})
}

// Message writes an error body with an explicit status.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// IdempotencyKey reads the client key of a mutating request.
func IdempotencyKey(r *http.Request) string {
	if v := r.Header.Get("Idempotency-Key"); v != "" {
		return v
	}
	return r.Header.Get("X-Idempotency-Key")
}

// IntQuery parses an integer query parameter, returning def when absent or malformed.
func IntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// BoolQuery parses an optional boolean query parameter.
func BoolQuery(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &b
}

package httpx

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DefaultBodyLimit caps request bodies read through ReadBody when no limit is given.
const DefaultBodyLimit = 1 << 20

var (
	// ErrBodyTooLarge is returned when the request body exceeds the limit.
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrEmptyBody is returned when the request has no body.
	ErrEmptyBody = errors.New("request body is required")
	// ErrInvalidJSON is returned when the body is neither JSON nor base64-encoded JSON.
	ErrInvalidJSON = errors.New("request body must be valid JSON")
)

// ReadBody reads at most limit bytes from the request body.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}

// DecodeJSON unmarshals body into out. Bodies that are not JSON are tried as base64-encoded
// JSON, the form Commerce uses when a webhook is delivered as a raw HTTP body.
func DecodeJSON(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
		if err != nil || !json.Valid(decoded) {
			return ErrInvalidJSON
		}
		trimmed = decoded
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return errors.Join(ErrInvalidJSON, err)
	}
	return nil
}

// WriteJSON writes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

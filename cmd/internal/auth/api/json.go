package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"assist/cmd/internal/apperror"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	apperror.Write(w, err)
}

var errInvalidJSON = apperror.Validation("invalid_json", "invalid request body")

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	return decode(w, r, maxBytes, dst, true)
}

// decodeLenient accepts unknown fields; the profile allow-list drops them itself.
func decodeLenient(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	return decode(w, r, maxBytes, dst, false)
}

func decode(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any, strict bool) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

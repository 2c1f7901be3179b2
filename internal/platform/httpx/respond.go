// Package httpx carries the JSON request/response helpers shared by the
// ledger and channel webhook handlers. Errors go out as RFC 7807 problem
// details.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Webhook payloads are small; anything past this limit is not a legitimate
// channel event.
const maxBodyBytes = 1 << 20

// ProblemDetail is the RFC 7807 error body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem writes an RFC 7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON reads the request body into target, capped at maxBodyBytes.
// Marketplace connectors attach fields we do not model, so unknown fields
// are tolerated.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(target)
}

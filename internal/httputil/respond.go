package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON error envelope every endpoint returns on
// failure. Error is a stable machine-readable code; Message is for
// humans and may change.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RespondJSON writes body as JSON with the given status code.
func RespondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// RespondError writes the standard error envelope.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

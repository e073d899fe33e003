package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/chain-ledger/internal/errors"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: errorBody{Code: code, Message: message, Details: details},
	})
}

// respondCategorizedError maps an internal error onto the wire.
func respondCategorizedError(w http.ResponseWriter, err error) {
	categorized := apperrors.Categorize(err)
	respondError(w, apperrors.GetHTTPStatusCode(categorized), categorized.Code, categorized.Message, categorized.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

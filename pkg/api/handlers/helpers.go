package handlers

import (
	"encoding/json"
	"net/http"
)

// decodeJSONBody decodes a JSON request body into v. Returns true if
// successful, false if decoding fails (an error response is written
// automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

package lifecycle

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes a minimal {"error":{"message","type"}} body.
// Engine-level errors (cache_not_found, proxy_error) carry only message
// and type; the extra param/code fields belong to the mock generator's
// ERROR: convention, not to these.
func writeJSONError(w http.ResponseWriter, status int, message, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    kind,
		},
	})
}

package api

import (
	"encoding/json"
	"net/http"
)

// RespondWithError writes {"success": false, "error": msg} with status.
func RespondWithError(w http.ResponseWriter, status int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errMsg,
	})
}

// RespondWithPayload sends a consistent JSON envelope around payload.
func RespondWithPayload(w http.ResponseWriter, status int, errMsg string, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]interface{}{"success": errMsg == ""}
	if errMsg != "" {
		resp["error"] = errMsg
	}
	if payload != nil {
		resp["rows"] = payload
	}
	_ = json.NewEncoder(w).Encode(resp)
}

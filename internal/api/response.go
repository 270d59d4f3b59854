package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody is the single error shape clients ever see. Internal error
// detail never travels through it.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON serialises resp as JSON and writes it to w with the given
// HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("WriteJSON: failed to encode response: %v", err)
	}
}

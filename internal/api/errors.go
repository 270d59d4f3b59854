package api

import "net/http"

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: msg})
}

// Unauthorized writes a 401 error response.
func Unauthorized(w http.ResponseWriter) {
	WriteJSON(w, http.StatusUnauthorized, ErrorBody{Error: "authentication required"})
}

// NotFound writes a 404 error response. Ownership misses use this too,
// so a foreign image ID is indistinguishable from a missing one.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusNotFound, ErrorBody{Error: msg})
}

// Conflict writes a 409 error response, used for quota rejections.
func Conflict(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusConflict, ErrorBody{Error: msg})
}

// TooLarge writes a 413 error response.
func TooLarge(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{Error: msg})
}

// Internal writes a 500 error response with a generic message so that
// storage or database detail never leaks to clients.
func Internal(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal server error"})
}

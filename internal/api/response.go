package api

import (
	"encoding/json"
	"net/http"

	"lecca.io/mind-watchtower/internal/logger"
)

const msgInternal = "Internal server error"

type errorResponse struct {
	Error string `json:"error"`
}

func sendBadRequest(w http.ResponseWriter, route, message string) {
	sendError(w, route, message, http.StatusBadRequest)
}

func sendServerError(w http.ResponseWriter, route string) {
	sendError(w, route, msgInternal, http.StatusInternalServerError)
}

func sendError(w http.ResponseWriter, route, message string, code int) {
	writeJSON(w, route, code, errorResponse{Error: message})
}

// writeJSON marshals before writing so a client never sees a partial body.
func writeJSON(w http.ResponseWriter, route string, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("API", "error serializing json for %s: %v", route, err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"` + msgInternal + `"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Debug("API", "write %s response: %v", route, err)
	}
}

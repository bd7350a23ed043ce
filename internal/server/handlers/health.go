package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health returns a liveness handler for the named service.
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Service: service})
	}
}

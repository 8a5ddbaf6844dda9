package health

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON body written by the ready/live handlers.
type Response struct {
	Status string `json:"status"`
}

// ReadyHandler returns an http.Handler for /health/ready.
func ReadyHandler(t *Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, t.Ready())
	})
}

// LiveHandler returns an http.Handler for /health/live.
func LiveHandler(t *Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, t.Alive())
	})
}

func writeStatus(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	resp := Response{Status: "down"}
	if ok {
		resp.Status = "up"
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

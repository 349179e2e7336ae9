package handlers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *ReadingHandler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", HealthCheck).Methods("GET")
	r.HandleFunc("/reading", h.HandleReading).Methods("POST")
	r.HandleFunc("/analyze", h.HandleAnalyze).Methods("GET")
	r.HandleFunc("/session", h.HandleStopSession).Methods("DELETE")
	r.Handle("/stream", h.Hub()).Methods("GET")

	r.Path("/metrics").Handler(promhttp.Handler())

	return r
}

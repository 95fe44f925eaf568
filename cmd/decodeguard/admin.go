package main

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/decodeguard/internal/governance"
	"github.com/polisai/decodeguard/internal/host"
	"github.com/polisai/decodeguard/pkg/domain"
	"github.com/polisai/decodeguard/pkg/guard"
)

type statusResponse struct {
	Guard guard.Status `json:"guard"`
	Host  host.Stats   `json:"host"`
}

type statusSource interface {
	Status() guard.Status
}

type hostStatsSource interface {
	Stats() host.Stats
}

// newAdminHandler serves /metrics, /healthz and /status.
func newAdminHandler(metrics *governance.Metrics, subsystem statusSource, server hostStatsSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorResponse{
				Code:    "METHOD_NOT_ALLOWED",
				Message: "status only supports GET",
			})
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Guard: subsystem.Status(), Host: server.Stats()})
	})

	return otelhttp.NewHandler(mux, "decodeguard.admin")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

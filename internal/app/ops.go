package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// OpsServer serves /health and /metrics.
type OpsServer struct {
	srv *http.Server
	lc  *Lifecycle
}

// NewOpsServer builds the ops HTTP surface on addr.
func NewOpsServer(addr string, reg *prometheus.Registry, lc *Lifecycle) *OpsServer {
	o := &OpsServer{lc: lc}

	r := mux.NewRouter()
	r.HandleFunc("/health", o.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	o.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return o
}

func (o *OpsServer) health(w http.ResponseWriter, r *http.Request) {
	state := o.lc.State()
	status := http.StatusOK
	if state != StateRunning {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"state": state.String(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	})
}

// Start serves until Shutdown; a closed-server error is not a failure.
func (o *OpsServer) Start() {
	go func() {
		log.Info().Str("addr", o.srv.Addr).Msg("ops server listening")
		if err := o.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (o *OpsServer) Shutdown(ctx context.Context) error {
	return o.srv.Shutdown(ctx)
}

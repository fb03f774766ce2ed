// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// AdminHandler returns the admin HTTP API:
//
//	POST /api/refresh   queue a refresh (presence probes + roster fetch)
//	GET  /api/mappings  current Mapping Table, special rooms and groups
func (br *Bridge) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refresh", br.HandleRefresh)
	mux.HandleFunc("/api/mappings", br.HandleMappings)
	return mux
}

func (br *Bridge) serveAdminAPI(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      br.AdminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	br.Log.Info().Str("addr", addr).Msg("Starting bridge admin API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		br.Log.Error().Err(err).Msg("Bridge admin API error")
	}
	return nil
}

// HandleRefresh is an HTTP handler for POST /api/refresh.
func (br *Bridge) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	br.Log.Info().Str("remote_addr", r.RemoteAddr).Msg("Refresh requested via admin API")
	if !br.RequestRefresh("admin_api") {
		http.Error(w, "request queue full", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "queued"}); err != nil {
		br.Log.Warn().Err(err).Msg("Failed to write refresh response")
	}
}

// HandleMappings is an HTTP handler for GET /api/mappings.
func (br *Bridge) HandleMappings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snap, err := br.Snapshot(ctx)
	if err != nil {
		http.Error(w, "bridge is busy", http.StatusGatewayTimeout)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		br.Log.Warn().Err(err).Msg("Failed to write mappings response")
	}
}

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// healthHandler answers liveness probes.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler serves the current tree snapshot as JSON.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Status endpoint hit.", "remote_addr", r.RemoteAddr)

	t := a.Tree()
	if t == nil {
		http.Error(w, "tree not built yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(t.Snapshot()); err != nil {
		a.logger.Error("Failed to encode tree snapshot.", "error", err)
	}
}

// statusMux routes the status server's endpoints.
func (a *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)
	return mux
}

// startStatusServer initializes and runs the status HTTP server.
func (a *App) startStatusServer(port int) {
	a.logger.Debug("Configuring status server.")
	mux := a.statusMux()

	addr := fmt.Sprintf(":%d", port)

	go func() {
		a.logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			a.logger.Error("Status server failed", "error", err)
		}
	}()
}

// Package api serves the scanner's admin and query endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/admin"
	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// SignalQuerier reads signals for display.
type SignalQuerier interface {
	OpenForToday(ctx context.Context) ([]model.Signal, error)
	List(ctx context.Context, f model.SignalFilter) ([]model.Signal, error)
	History(ctx context.Context, limit int) ([]model.Signal, error)
}

// SettingsStore reads and writes the configuration snapshot.
type SettingsStore interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Admin       *admin.Service
	Signals     SignalQuerier
	Settings    SettingsStore    // optional
	MarketData  model.MarketData // optional, enables /indicators
	KlinesLimit int
	Location    *time.Location
	Logger      *slog.Logger
}

type handlers struct {
	Deps
	log *slog.Logger
}

// NewRouter sets up the HTTP routes:
//
//	POST /admin/signals/clear?status=OPEN|CLOSED
//	POST /admin/signals/close?symbol=S&price=P
//	POST /admin/rescan
//	GET  /admin/report
//	GET  /admin/settings
//	POST /admin/settings?key=K&value=V
//	GET  /signals?symbol=&status=&from=YYYY-MM-DD&to=YYYY-MM-DD&limit=
//	GET  /signals/open
//	GET  /signals/history?limit=
//	GET  /indicators?symbol=&interval=
func NewRouter(d Deps) *http.ServeMux {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.KlinesLimit <= 0 {
		d.KlinesLimit = 500
	}
	h := &handlers{Deps: d, log: logger.OrDefault(d.Logger).With("component", "api")}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/signals/clear", post(h.clearSignals))
	mux.HandleFunc("/admin/signals/close", post(h.closeSignal))
	mux.HandleFunc("/admin/rescan", post(h.rescan))
	mux.HandleFunc("/admin/report", get(h.report))
	mux.HandleFunc("/admin/settings", h.settings)
	mux.HandleFunc("/signals", get(h.listSignals))
	mux.HandleFunc("/signals/open", get(h.openSignals))
	mux.HandleFunc("/signals/history", get(h.history))
	mux.HandleFunc("/indicators", get(h.indicators))
	return mux
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

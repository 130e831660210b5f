package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/admin"
	"github.com/Jhon-Oliver2025/1Crypten/internal/indicator"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
	"github.com/Jhon-Oliver2025/1Crypten/internal/store/sqlite"
)

const dateLayout = "2006-01-02"

func (h *handlers) clearSignals(w http.ResponseWriter, r *http.Request) {
	n, err := h.Admin.ClearSignals(r.Context(), r.URL.Query().Get("status"))
	if errors.Is(err, sqlite.ErrInvalidStatus) {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "removed": n})
}

func (h *handlers) closeSignal(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		h.fail(w, r, http.StatusBadRequest, errors.New("symbol is required"))
		return
	}
	price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid price: %w", err))
		return
	}

	c, ok, err := h.Admin.CloseSignal(r.Context(), symbol, price)
	switch {
	case errors.Is(err, admin.ErrInvalidPrice):
		h.fail(w, r, http.StatusBadRequest, err)
	case err != nil:
		h.fail(w, r, http.StatusInternalServerError, err)
	case !ok:
		h.fail(w, r, http.StatusNotFound, fmt.Errorf("no open signal for %s", strings.ToUpper(symbol)))
	default:
		writeJSON(w, http.StatusOK, c)
	}
}

func (h *handlers) rescan(w http.ResponseWriter, r *http.Request) {
	h.Admin.ForceRescan(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rescan scheduled"})
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Admin.DailyReport(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) settings(w http.ResponseWriter, r *http.Request) {
	if h.Settings == nil {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		all, err := h.Settings.AllSettings(r.Context())
		if err != nil {
			h.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		for k, v := range all {
			all[k] = MaskSecret(k, v)
		}
		writeJSON(w, http.StatusOK, all)
	case http.MethodPost:
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			h.fail(w, r, http.StatusBadRequest, errors.New("key is required"))
			return
		}
		if err := h.Settings.SetSetting(r.Context(), key, r.URL.Query().Get("value")); err != nil {
			h.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		h.log.Info("setting updated", "key", key)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "key": key})
	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

func (h *handlers) listSignals(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	sigs, err := h.Signals.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sigs))
}

func (h *handlers) openSignals(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.Signals.OpenForToday(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sigs))
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	sigs, err := h.Signals.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sigs))
}

// indicators returns the latest value of every indicator for one symbol.
func (h *handlers) indicators(w http.ResponseWriter, r *http.Request) {
	if h.MarketData == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	symbol := strings.ToUpper(q.Get("symbol"))
	interval := q.Get("interval")
	if symbol == "" {
		h.fail(w, r, http.StatusBadRequest, errors.New("symbol is required"))
		return
	}
	if interval == "" {
		interval = "1h"
	}

	candles, err := h.MarketData.Klines(r.Context(), symbol, interval, h.KlinesLimit)
	if err != nil {
		h.fail(w, r, http.StatusBadGateway, err)
		return
	}
	set, err := indicator.Compute(candles)
	if errors.Is(err, indicator.ErrInsufficientData) {
		h.fail(w, r, http.StatusUnprocessableEntity,
			fmt.Errorf("%s %s: %d candles, need %d", symbol, interval, len(candles), indicator.MinBars))
		return
	}
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":     symbol,
		"interval":   interval,
		"bars":       len(candles),
		"close":      candles[len(candles)-1].Close,
		"indicators": set.Latest(),
	})
}

func (h *handlers) parseFilter(r *http.Request) (model.SignalFilter, error) {
	q := r.URL.Query()
	f := model.SignalFilter{
		Symbol: strings.ToUpper(q.Get("symbol")),
		Status: model.SignalStatus(strings.ToUpper(q.Get("status"))),
	}
	if f.Status != "" && f.Status != model.StatusOpen && f.Status != model.StatusClosed {
		return f, fmt.Errorf("status %q: %w", f.Status, sqlite.ErrInvalidStatus)
	}
	var err error
	if f.From, err = h.dateParam(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = h.dateParam(q.Get("to")); err != nil {
		return f, err
	}
	if !f.To.IsZero() {
		// inclusive end day
		f.To = f.To.AddDate(0, 0, 1)
	}
	if f.Limit, err = intParam(r, "limit", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (h *handlers) dateParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, h.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return t, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// MaskSecret hides all but the last four characters of credential values.
func MaskSecret(key, value string) string {
	k := strings.ToLower(key)
	if !strings.Contains(k, "token") && !strings.Contains(k, "secret") && !strings.Contains(k, "key") {
		return value
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

func nonNil(s []model.Signal) []model.Signal {
	if s == nil {
		return []model.Signal{}
	}
	return s
}

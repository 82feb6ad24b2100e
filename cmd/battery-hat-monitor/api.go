package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensensing/battery-hat-monitor/battery"
)

// api is the local HTTP surface. It serves telemetry and accepts
// settings updates; there is no auth, it is intended for the local
// network only.
type api struct {
	monitor *battery.Monitor
	logs    *ringHook
	now     func() time.Time
	started time.Time
}

func newAPI(monitor *battery.Monitor, logs *ringHook, now func() time.Time) *api {
	return &api{
		monitor: monitor,
		logs:    logs,
		now:     now,
		started: time.Now(),
	}
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/live_data", a.handleLiveData)
	mux.HandleFunc("/settings", a.handleSettings)
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/serial_log", a.handleSerialLog)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *api) handleLiveData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	data := a.monitor.Snapshot()
	resp := struct {
		battery.LiveData
		UptimeSeconds int64 `json:"uptime_seconds"`
	}{
		LiveData:      data,
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.monitor.Settings())
	case http.MethodPost:
		var update battery.SettingsUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding settings: %v", err))
			return
		}
		if err := a.monitor.ApplySettings(update, a.now()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info("Settings updated over HTTP")
		writeJSON(w, http.StatusOK, a.monitor.Settings())
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	events, err := a.monitor.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type eventJSON struct {
		Time string `json:"time"`
		Type string `json:"type"`
	}
	resp := make([]eventJSON, 0, len(events))
	for _, e := range events {
		resp = append(resp, eventJSON{
			Time: e.Time.Format(time.RFC3339),
			Type: e.Kind.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleSerialLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, strings.Join(a.logs.Lines(), "\n"))
}

package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

// shellyReport is the notification envelope a Shelly Gen2 plug posts.
type shellyReport struct {
	Switch struct {
		APower  float64 `json:"apower"`
		Voltage float64 `json:"voltage"`
		Current float64 `json:"current"`
	} `json:"switch:0"`
	Sys struct {
		MAC string `json:"mac"`
	} `json:"sys"`
}

// ShellyHandler accepts telemetry posts from Shelly plugs.
type ShellyHandler struct {
	service *Service
	nowFunc func() time.Time
}

// NewShellyHandler constructs a ShellyHandler.
func NewShellyHandler(service *Service) *ShellyHandler {
	return &ShellyHandler{service: service, nowFunc: time.Now}
}

// ServeHTTP handles POST /api/v1/ingest/shelly. The body is acknowledged as
// soon as it parses; store faults never reach the device.
func (h *ShellyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var report shellyReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "malformed report", http.StatusBadRequest)
		return
	}
	if report.Sys.MAC == "" {
		http.Error(w, "mac is required", http.StatusBadRequest)
		return
	}

	sample := timeseries.Sample{
		TS:       h.nowFunc().UnixMilli(),
		PowerW:   report.Switch.APower,
		VoltageV: report.Switch.Voltage,
		CurrentA: report.Switch.Current,
	}
	h.service.ProcessSample(r.Context(), report.Sys.MAC, sample)

	w.WriteHeader(http.StatusAccepted)
}

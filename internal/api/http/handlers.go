package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
	"ecowatt-cloud/internal/audit"
	"ecowatt-cloud/internal/auth"
	controlapp "ecowatt-cloud/internal/control/application"
	controldomain "ecowatt-cloud/internal/control/domain"
	devices "ecowatt-cloud/internal/devices/domain"
	"ecowatt-cloud/internal/energy"
	"ecowatt-cloud/internal/reports"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

// DashboardHandler serves the live consumption summary.
type DashboardHandler struct {
	reports *reports.Service
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(reports *reports.Service) *DashboardHandler {
	return &DashboardHandler{reports: reports}
}

// ServeHTTP handles GET /api/v1/dashboard.
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reports == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := h.reports.Summary(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, reports.ErrNoDevices) {
			http.Error(w, "no active devices", http.StatusNotFound)
			return
		}
		http.Error(w, "dashboard error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// DeviceDirectory resolves a device by id.
type DeviceDirectory interface {
	ByID(ctx context.Context, id int64) (devices.Device, error)
}

// HistoryHandler serves bucketed consumption history for one device.
type HistoryHandler struct {
	aggregator *energy.Aggregator
	directory  DeviceDirectory
}

// NewHistoryHandler constructs a HistoryHandler.
func NewHistoryHandler(aggregator *energy.Aggregator, directory DeviceDirectory) *HistoryHandler {
	return &HistoryHandler{aggregator: aggregator, directory: directory}
}

type historyBucket struct {
	Start time.Time `json:"start"`
	KWh   float64   `json:"kwh"`
}

type historyResponse struct {
	DeviceID int64           `json:"device_id"`
	Window   string          `json:"window"`
	Buckets  []historyBucket `json:"buckets"`
}

// ServeHTTP handles GET /api/v1/history.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.aggregator == nil || h.directory == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID, err := strconv.ParseInt(r.URL.Query().Get("device_id"), 10, 64)
	if err != nil || deviceID <= 0 {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	window := r.URL.Query().Get("window")
	lookback, bucket, err := resolveWindow(window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dev, err := h.directory.ByID(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		http.Error(w, "device lookup error", http.StatusInternalServerError)
		return
	}
	if dev.OwnerID != ownerID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	key := timeseries.SeriesKey{OwnerID: dev.OwnerID, DeviceID: dev.ID, Metric: timeseries.MetricPowerW}
	buckets, err := h.aggregator.BucketedAverage(r.Context(), key, now.Add(-lookback).UnixMilli(), now.UnixMilli(), bucket.Milliseconds())
	if err != nil {
		http.Error(w, "history error", http.StatusInternalServerError)
		return
	}

	resp := historyResponse{DeviceID: dev.ID, Window: window}
	for _, b := range buckets {
		resp.Buckets = append(resp.Buckets, historyBucket{Start: time.UnixMilli(b.StartMS).UTC(), KWh: b.KWh})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func resolveWindow(window string) (lookback, bucket time.Duration, err error) {
	switch window {
	case "24h", "":
		return 24 * time.Hour, time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, 24 * time.Hour, nil
	default:
		return 0, 0, errors.New("window must be 24h, 7d or 30d")
	}
}

// ReportHandler serves monthly reports as JSON, PDF or XLSX.
type ReportHandler struct {
	reports *reports.Service
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(reports *reports.Service) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// ServeHTTP handles GET /api/v1/report and /api/v1/report/export.{pdf,xlsx}.
func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reports == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2000 {
		http.Error(w, "year is required", http.StatusBadRequest)
		return
	}
	monthNum, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || monthNum < 1 || monthNum > 12 {
		http.Error(w, "month is required", http.StatusBadRequest)
		return
	}

	report, err := h.reports.Monthly(r.Context(), ownerID, year, time.Month(monthNum))
	if err != nil {
		if errors.Is(err, reports.ErrNoDevices) {
			http.Error(w, "no active devices", http.StatusNotFound)
			return
		}
		http.Error(w, "report error", http.StatusInternalServerError)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/export.pdf"):
		body, err := reports.BuildReportPDF(report)
		if err != nil {
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	case strings.HasSuffix(r.URL.Path, "/export.xlsx"):
		body, err := reports.BuildReportXLSX(report)
		if err != nil {
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write(body)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}

// CommandHandler dispatches switch commands to a user's plug.
type CommandHandler struct {
	control *controlapp.Service
	audit   audit.Logger
}

// NewCommandHandler constructs a CommandHandler. The audit logger may be
// nil, in which case commands are not audited.
func NewCommandHandler(control *controlapp.Service, auditLogger audit.Logger) *CommandHandler {
	return &CommandHandler{control: control, audit: auditLogger}
}

type commandRequest struct {
	Method string `json:"method"`
	On     *bool  `json:"on,omitempty"`
}

type commandResponse struct {
	DeviceID int64           `json:"device_id"`
	Method   string          `json:"method"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// ServeHTTP handles POST /api/v1/devices/{id}/command.
func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.control == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID, ok := deviceIDFromPath(r.URL.Path)
	if !ok {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	var result json.RawMessage
	var err error
	switch req.Method {
	case "toggle":
		result, err = h.control.Toggle(r.Context(), ownerID, deviceID)
	case "set":
		if req.On == nil {
			http.Error(w, "on is required for set", http.StatusBadRequest)
			return
		}
		result, err = h.control.SetSwitch(r.Context(), ownerID, deviceID, *req.On)
	case "get-status":
		result, err = h.control.Status(r.Context(), ownerID, deviceID)
	default:
		http.Error(w, "method must be toggle, set or get-status", http.StatusBadRequest)
		return
	}
	if h.audit != nil {
		outcome := "ok"
		if err != nil {
			outcome = err.Error()
		}
		meta, _ := json.Marshal(map[string]string{"method": req.Method, "outcome": outcome})
		// Auditing never blocks the command path.
		_ = h.audit.Log(r.Context(), audit.Entry{
			UserID:    ownerID,
			Actor:     auth.SubjectFromContext(r.Context()),
			Role:      string(auth.RoleFromContext(r.Context())),
			Action:    "device.command",
			DeviceID:  deviceID,
			Metadata:  meta,
			IP:        r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(commandResponse{DeviceID: deviceID, Method: req.Method, Result: result})
}

func writeCommandError(w http.ResponseWriter, err error) {
	var devErr *controldomain.DeviceError
	switch {
	case errors.Is(err, controlapp.ErrNotOwner):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, devices.ErrNotFound):
		http.Error(w, "device not found", http.StatusNotFound)
	case errors.Is(err, controldomain.ErrTimeout):
		http.Error(w, "device did not respond", http.StatusGatewayTimeout)
	case errors.As(err, &devErr):
		http.Error(w, devErr.Message, http.StatusBadGateway)
	default:
		http.Error(w, "command error", http.StatusInternalServerError)
	}
}

// AlertLister returns an owner's alerts inside a window.
type AlertLister interface {
	ListByOwner(ctx context.Context, ownerID int64, from, to time.Time) ([]alerts.Alert, error)
}

// AlertsHandler serves an owner's alert history.
type AlertsHandler struct {
	lister AlertLister
}

// NewAlertsHandler constructs an AlertsHandler.
func NewAlertsHandler(lister AlertLister) *AlertsHandler {
	return &AlertsHandler{lister: lister}
}

// ServeHTTP handles GET /api/v1/alerts.
func (h *AlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.lister == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, -1, 0)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		from = parsed.UTC()
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		to = parsed.UTC()
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	list, err := h.lister.ListByOwner(r.Context(), ownerID, from, to)
	if err != nil {
		http.Error(w, "alerts error", http.StatusInternalServerError)
		return
	}
	rows := make([]alertRow, 0, len(list))
	for _, alert := range list {
		rows = append(rows, alertRow{
			DeviceID:   alert.DeviceID,
			DeviceName: alert.DeviceName,
			Kind:       string(alert.Kind),
			MagnitudeW: alert.MagnitudeW,
			Value:      alert.Value(),
			RaisedAt:   alert.RaisedAt.UTC(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

type alertRow struct {
	DeviceID   int64     `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Kind       string    `json:"kind"`
	MagnitudeW float64   `json:"magnitude_w"`
	Value      string    `json:"value"`
	RaisedAt   time.Time `json:"raised_at"`
}

// DeviceLister enumerates an owner's active devices.
type DeviceLister interface {
	ListActiveByOwner(ctx context.Context, ownerID int64) ([]devices.Device, error)
}

// DevicesHandler serves an owner's registered devices.
type DevicesHandler struct {
	lister DeviceLister
}

// NewDevicesHandler constructs a DevicesHandler.
func NewDevicesHandler(lister DeviceLister) *DevicesHandler {
	return &DevicesHandler{lister: lister}
}

// ServeHTTP handles GET /api/v1/devices.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.lister == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	list, err := h.lister.ListActiveByOwner(r.Context(), ownerID)
	if err != nil {
		http.Error(w, "devices error", http.StatusInternalServerError)
		return
	}
	rows := make([]deviceRow, 0, len(list))
	for _, dev := range list {
		rows = append(rows, deviceRow{
			ID:         dev.ID,
			MAC:        dev.MAC,
			Name:       dev.Name,
			Active:     dev.Active,
			BillingDay: dev.BillingDay,
			RateCode:   dev.RateCode,
			CreatedAt:  dev.CreatedAt.UTC(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

type deviceRow struct {
	ID         int64     `json:"id"`
	MAC        string    `json:"mac"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	BillingDay int       `json:"billing_day"`
	RateCode   string    `json:"rate_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// deviceIDFromPath extracts {id} from /api/v1/devices/{id}/command.
func deviceIDFromPath(path string) (int64, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 5 || parts[2] != "devices" || parts[4] != "command" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
	"ecowatt-cloud/internal/audit"
	"ecowatt-cloud/internal/auth"
	controlapp "ecowatt-cloud/internal/control/application"
	controldomain "ecowatt-cloud/internal/control/domain"
	devices "ecowatt-cloud/internal/devices/domain"
	"ecowatt-cloud/internal/energy"
	timeseries "ecowatt-cloud/internal/timeseries/domain"
)

func authed(r *http.Request, userID int64) *http.Request {
	ctx := auth.WithIdentity(r.Context(), userID, auth.RoleOperator, "user")
	return r.WithContext(ctx)
}

type fakeDirectory struct {
	dev devices.Device
	err error
}

func (f *fakeDirectory) ByID(context.Context, int64) (devices.Device, error) {
	return f.dev, f.err
}

type fakeReader struct {
	points []timeseries.Point
}

func (f *fakeReader) Range(context.Context, timeseries.SeriesKey, int64, int64) ([]timeseries.Point, error) {
	return f.points, nil
}

func (f *fakeReader) RangeAvg(context.Context, timeseries.SeriesKey, int64, int64, int64) ([]timeseries.Point, error) {
	return f.points, nil
}

func TestHistoryHandlerRequiresIdentity(t *testing.T) {
	agg, err := energy.NewAggregator(&fakeReader{})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	h := NewHistoryHandler(agg, &fakeDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?device_id=4", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHistoryHandlerRejectsForeignDevice(t *testing.T) {
	agg, err := energy.NewAggregator(&fakeReader{})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	h := NewHistoryHandler(agg, &fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 9}})

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/history?device_id=4&window=24h", nil), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHistoryHandlerFullAxis(t *testing.T) {
	agg, err := energy.NewAggregator(&fakeReader{})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	h := NewHistoryHandler(agg, &fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2}})

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/history?device_id=4&window=24h", nil), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Buckets) != 24 {
		t.Fatalf("buckets = %d, want 24 even with no data", len(resp.Buckets))
	}
}

func TestHistoryHandlerRejectsUnknownWindow(t *testing.T) {
	agg, err := energy.NewAggregator(&fakeReader{})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	h := NewHistoryHandler(agg, &fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2}})

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/history?device_id=4&window=90d", nil), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type fakeSender struct {
	resp controldomain.Response
	err  error
}

func (f *fakeSender) Send(context.Context, string, string, map[string]any, time.Duration) (controldomain.Response, error) {
	return f.resp, f.err
}

func TestCommandHandlerToggle(t *testing.T) {
	svc, err := controlapp.NewService(
		&fakeSender{resp: controldomain.Response{Result: json.RawMessage(`{"was_on":false}`)}},
		&fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2, MAC: "a8032ab12c01"}},
	)
	if err != nil {
		t.Fatalf("new control service: %v", err)
	}
	h := NewCommandHandler(svc, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/devices/4/command", strings.NewReader(`{"method":"toggle"}`)), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp commandResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeviceID != 4 || string(resp.Result) != `{"was_on":false}` {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCommandHandlerTimeoutMapsTo504(t *testing.T) {
	svc, err := controlapp.NewService(
		&fakeSender{err: controldomain.ErrTimeout},
		&fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2, MAC: "a8032ab12c01"}},
	)
	if err != nil {
		t.Fatalf("new control service: %v", err)
	}
	h := NewCommandHandler(svc, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/devices/4/command", strings.NewReader(`{"method":"get-status"}`)), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestCommandHandlerSetRequiresOn(t *testing.T) {
	svc, err := controlapp.NewService(
		&fakeSender{},
		&fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2, MAC: "a8032ab12c01"}},
	)
	if err != nil {
		t.Fatalf("new control service: %v", err)
	}
	h := NewCommandHandler(svc, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/devices/4/command", strings.NewReader(`{"method":"set"}`)), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeviceIDFromPath(t *testing.T) {
	cases := []struct {
		path string
		id   int64
		ok   bool
	}{
		{"/api/v1/devices/4/command", 4, true},
		{"/api/v1/devices/0/command", 0, false},
		{"/api/v1/devices/abc/command", 0, false},
		{"/api/v1/devices/4/other", 0, false},
		{"/api/v1/devices", 0, false},
	}
	for _, tc := range cases {
		id, ok := deviceIDFromPath(tc.path)
		if id != tc.id || ok != tc.ok {
			t.Fatalf("deviceIDFromPath(%q) = (%d, %v), want (%d, %v)", tc.path, id, ok, tc.id, tc.ok)
		}
	}
}

type fakeAudit struct {
	entries []audit.Entry
}

func (f *fakeAudit) Log(_ context.Context, entry audit.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestCommandHandlerAuditsCommands(t *testing.T) {
	svc, err := controlapp.NewService(
		&fakeSender{resp: controldomain.Response{Result: json.RawMessage(`{}`)}},
		&fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2, MAC: "a8032ab12c01"}},
	)
	if err != nil {
		t.Fatalf("new control service: %v", err)
	}
	sink := &fakeAudit{}
	h := NewCommandHandler(svc, sink)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/devices/4/command", strings.NewReader(`{"method":"toggle"}`)), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.UserID != 2 || entry.DeviceID != 4 || entry.Action != "device.command" {
		t.Fatalf("entry = %+v", entry)
	}
}

type fakeAlertLister struct {
	alerts []alerts.Alert
}

func (f *fakeAlertLister) ListByOwner(context.Context, int64, time.Time, time.Time) ([]alerts.Alert, error) {
	return f.alerts, nil
}

func TestAlertsHandler(t *testing.T) {
	raisedAt := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	h := NewAlertsHandler(&fakeAlertLister{alerts: []alerts.Alert{
		{DeviceID: 4, OwnerID: 2, DeviceName: "fridge", Kind: alerts.KindIdleDrain, MagnitudeW: 25, RaisedAt: raisedAt},
	}})

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil), 2)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var rows []alertRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Kind != "idle_drain" || rows[0].Value != "25.00W" {
		t.Fatalf("row = %+v", rows[0])
	}
}

package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	controldomain "ecowatt-cloud/internal/control/domain"
	devices "ecowatt-cloud/internal/devices/domain"
)

type fakeSender struct {
	lastMAC    string
	lastMethod string
	lastParams map[string]any
	resp       controldomain.Response
	err        error
}

func (f *fakeSender) Send(_ context.Context, mac, method string, params map[string]any, _ time.Duration) (controldomain.Response, error) {
	f.lastMAC = mac
	f.lastMethod = method
	f.lastParams = params
	return f.resp, f.err
}

type fakeDirectory struct {
	dev devices.Device
	err error
}

func (f *fakeDirectory) ByID(context.Context, int64) (devices.Device, error) {
	return f.dev, f.err
}

func TestToggleMapsToSwitchToggle(t *testing.T) {
	sender := &fakeSender{resp: controldomain.Response{Result: json.RawMessage(`{"was_on":true}`)}}
	dir := &fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2, MAC: "a8032ab12c01"}}
	svc, err := NewService(sender, dir)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Toggle(context.Background(), 2, 4)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if string(result) != `{"was_on":true}` {
		t.Fatalf("result = %s", result)
	}
	if sender.lastMethod != "Switch.Toggle" {
		t.Fatalf("method = %q", sender.lastMethod)
	}
	if sender.lastMAC != "a8032ab12c01" {
		t.Fatalf("mac = %q", sender.lastMAC)
	}
}

func TestSetSwitchCarriesDesiredState(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 2, MAC: "a8032ab12c01"}}
	svc, err := NewService(sender, dir)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.SetSwitch(context.Background(), 2, 4, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if sender.lastMethod != "Switch.Set" {
		t.Fatalf("method = %q", sender.lastMethod)
	}
	if on, _ := sender.lastParams["on"].(bool); !on {
		t.Fatalf("params = %v, want on=true", sender.lastParams)
	}
}

func TestRejectsForeignDevice(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{dev: devices.Device{ID: 4, OwnerID: 9, MAC: "a8032ab12c01"}}
	svc, err := NewService(sender, dir)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.Status(context.Background(), 2, 4); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if sender.lastMethod != "" {
		t.Fatal("sender reached for foreign device")
	}
}

func TestUnknownDeviceSurfaces(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{err: devices.ErrNotFound}
	svc, err := NewService(sender, dir)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.Toggle(context.Background(), 2, 99); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

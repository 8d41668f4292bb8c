package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	controldomain "ecowatt-cloud/internal/control/domain"
	devices "ecowatt-cloud/internal/devices/domain"
)

// ErrNotOwner is returned when a caller targets a device it does not own.
var ErrNotOwner = errors.New("control: device not owned by caller")

// Sender issues one RPC request and waits for the reply.
type Sender interface {
	Send(ctx context.Context, mac, method string, params map[string]any, timeout time.Duration) (controldomain.Response, error)
}

// DeviceDirectory resolves device records for ownership checks.
type DeviceDirectory interface {
	ByID(ctx context.Context, id int64) (devices.Device, error)
}

// Service exposes the switch operations a user may run on their own plugs.
type Service struct {
	sender    Sender
	directory DeviceDirectory
	timeout   time.Duration
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithTimeout overrides the per-command reply deadline.
func WithTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewService wires the control service.
func NewService(sender Sender, directory DeviceDirectory, opts ...ServiceOption) (*Service, error) {
	if sender == nil {
		return nil, errors.New("control: sender is required")
	}
	if directory == nil {
		return nil, errors.New("control: device directory is required")
	}
	s := &Service{sender: sender, directory: directory, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Toggle flips the plug's relay and returns the device's reply body.
func (s *Service) Toggle(ctx context.Context, ownerID, deviceID int64) (json.RawMessage, error) {
	return s.send(ctx, ownerID, deviceID, "Switch.Toggle", map[string]any{"id": 0})
}

// SetSwitch drives the relay to an explicit state.
func (s *Service) SetSwitch(ctx context.Context, ownerID, deviceID int64, on bool) (json.RawMessage, error) {
	return s.send(ctx, ownerID, deviceID, "Switch.Set", map[string]any{"id": 0, "on": on})
}

// Status reads the plug's current switch state.
func (s *Service) Status(ctx context.Context, ownerID, deviceID int64) (json.RawMessage, error) {
	return s.send(ctx, ownerID, deviceID, "Switch.GetStatus", map[string]any{"id": 0})
}

func (s *Service) send(ctx context.Context, ownerID, deviceID int64, method string, params map[string]any) (json.RawMessage, error) {
	dev, err := s.directory.ByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	resp, err := s.sender.Send(ctx, dev.MAC, method, params, s.timeout)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

package control

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	control "ecowatt-cloud/internal/control/domain"
	devices "ecowatt-cloud/internal/devices/domain"
	"ecowatt-cloud/internal/observability/metrics"
)

// Transport moves raw payloads between the backend and the plugs.
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
}

// Dispatcher sends RPC requests to plugs and correlates their replies. All
// replies arrive on one process-unique topic; a waiter table keyed by
// request id routes each reply to the call that issued it.
type Dispatcher struct {
	transport   Transport
	topicPrefix string
	replyTopic  string
	logger      *log.Logger

	mu      sync.Mutex
	waiters map[int64]chan control.Response
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the default logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher wires a dispatcher over the given transport. The reply topic
// carries a random suffix so concurrent backend instances never consume each
// other's replies.
func NewDispatcher(transport Transport, topicPrefix string, opts ...DispatcherOption) (*Dispatcher, error) {
	if transport == nil {
		return nil, errors.New("control: transport is required")
	}
	if topicPrefix == "" {
		return nil, errors.New("control: topic prefix is required")
	}
	suffix, err := randomHex(4)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		transport:   transport,
		topicPrefix: topicPrefix,
		replyTopic:  fmt.Sprintf("%s-backend-%s", topicPrefix, suffix),
		logger:      log.Default(),
		waiters:     make(map[int64]chan control.Response),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ReplyTopic returns the process-unique topic replies arrive on.
func (d *Dispatcher) ReplyTopic() string {
	return d.replyTopic
}

// Start subscribes the reply topic. Call once before Send.
func (d *Dispatcher) Start() error {
	return d.transport.Subscribe(d.replyTopic, d.handleReply)
}

// Send publishes one RPC request to the plug identified by mac and waits for
// the correlated reply. The waiter is removed on every exit path so a late
// reply never leaks a channel.
func (d *Dispatcher) Send(ctx context.Context, mac, method string, params map[string]any, timeout time.Duration) (control.Response, error) {
	id, err := randomID()
	if err != nil {
		return control.Response{}, err
	}

	ch := make(chan control.Response, 1)
	d.mu.Lock()
	d.waiters[id] = ch
	d.mu.Unlock()
	defer d.removeWaiter(id)

	req := control.Request{ID: id, Src: d.replyTopic, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return control.Response{}, err
	}

	start := time.Now()
	metrics.IncCommandRequest()
	if err := d.transport.Publish(d.commandTopic(mac), payload); err != nil {
		metrics.IncCommandResult(metrics.CommandResultError)
		return control.Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		metrics.ObserveCommandLatency(time.Since(start))
		if resp.Error != nil {
			metrics.IncCommandResult(metrics.CommandResultDevice)
			return control.Response{}, &control.DeviceError{Message: resp.Error.Message}
		}
		metrics.IncCommandResult(metrics.CommandResultOK)
		return resp, nil
	case <-timer.C:
		metrics.IncCommandResult(metrics.CommandResultTimeout)
		return control.Response{}, control.ErrTimeout
	case <-ctx.Done():
		metrics.IncCommandResult(metrics.CommandResultError)
		return control.Response{}, ctx.Err()
	}
}

func (d *Dispatcher) handleReply(payload []byte) {
	var resp control.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		d.logger.Printf("control: malformed reply dropped: %v", err)
		return
	}
	d.mu.Lock()
	ch, ok := d.waiters[resp.ID]
	d.mu.Unlock()
	if !ok {
		// Late or foreign reply; the waiter is already gone.
		d.logger.Printf("control: unmatched reply %d dropped", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (d *Dispatcher) removeWaiter(id int64) {
	d.mu.Lock()
	delete(d.waiters, id)
	d.mu.Unlock()
}

func (d *Dispatcher) commandTopic(mac string) string {
	return fmt.Sprintf("%s-%s/rpc", d.topicPrefix, devices.NormalizeMAC(mac))
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	// Mask the sign bit so the id is always a positive JSON-friendly int.
	return int64(binary.BigEndian.Uint64(buf[:]) &^ (1 << 63)), nil
}

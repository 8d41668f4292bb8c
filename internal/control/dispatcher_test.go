package control

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	controldomain "ecowatt-cloud/internal/control/domain"
)

// echoTransport answers every request on the subscribed reply topic.
type echoTransport struct {
	handler   func(payload []byte)
	published []string
	reply     func(req controldomain.Request) controldomain.Response
	silent    bool
}

func (e *echoTransport) Publish(topic string, payload []byte) error {
	e.published = append(e.published, topic)
	if e.silent || e.handler == nil {
		return nil
	}
	var req controldomain.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	resp := e.reply(req)
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	go e.handler(body)
	return nil
}

func (e *echoTransport) Subscribe(_ string, handler func(payload []byte)) error {
	e.handler = handler
	return nil
}

func TestSendRoundTrip(t *testing.T) {
	transport := &echoTransport{
		reply: func(req controldomain.Request) controldomain.Response {
			return controldomain.Response{ID: req.ID, Result: json.RawMessage(`{"was_on":false}`)}
		},
	}
	d, err := NewDispatcher(transport, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := d.Send(context.Background(), "a8032ab12c01", "Switch.Toggle", map[string]any{"id": 0}, time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp.Result) != `{"was_on":false}` {
		t.Fatalf("result = %s", resp.Result)
	}
	if len(transport.published) != 1 || transport.published[0] != "ecowatt-a8032ab12c01/rpc" {
		t.Fatalf("published topics = %v", transport.published)
	}
}

func TestSendCanonicalizesCommandTopic(t *testing.T) {
	transport := &echoTransport{
		reply: func(req controldomain.Request) controldomain.Response {
			return controldomain.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
		},
	}
	d, err := NewDispatcher(transport, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := d.Send(context.Background(), "A8:03:2A:B1:2C:01", "Switch.GetStatus", nil, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(transport.published) != 1 || transport.published[0] != "ecowatt-a8032ab12c01/rpc" {
		t.Fatalf("published topics = %v, want [ecowatt-a8032ab12c01/rpc]", transport.published)
	}
}

func TestSendTimesOutAndRemovesWaiter(t *testing.T) {
	transport := &echoTransport{silent: true}
	d, err := NewDispatcher(transport, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = d.Send(context.Background(), "a8032ab12c01", "Switch.Toggle", nil, 20*time.Millisecond)
	if !errors.Is(err, controldomain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	d.mu.Lock()
	pending := len(d.waiters)
	d.mu.Unlock()
	if pending != 0 {
		t.Fatalf("waiters = %d, want 0 after timeout", pending)
	}
}

func TestSendSurfacesDeviceError(t *testing.T) {
	transport := &echoTransport{
		reply: func(req controldomain.Request) controldomain.Response {
			return controldomain.Response{ID: req.ID, Error: &controldomain.RPCError{Message: "relay jammed"}}
		},
	}
	d, err := NewDispatcher(transport, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = d.Send(context.Background(), "a8032ab12c01", "Switch.Set", map[string]any{"id": 0, "on": true}, time.Second)
	var devErr *controldomain.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("err = %v, want DeviceError", err)
	}
	if devErr.Message != "relay jammed" {
		t.Fatalf("message = %q", devErr.Message)
	}
}

func TestUnmatchedReplyIsDropped(t *testing.T) {
	transport := &echoTransport{silent: true}
	d, err := NewDispatcher(transport, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// No waiter registered for this id; must not panic or block.
	transport.handler([]byte(`{"id":12345,"result":{}}`))
}

func TestReplyTopicIsProcessUnique(t *testing.T) {
	a, err := NewDispatcher(&echoTransport{}, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	b, err := NewDispatcher(&echoTransport{}, "ecowatt")
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if a.ReplyTopic() == b.ReplyTopic() {
		t.Fatalf("reply topics collide: %s", a.ReplyTopic())
	}
	if !strings.HasPrefix(a.ReplyTopic(), "ecowatt-backend-") {
		t.Fatalf("reply topic = %s", a.ReplyTopic())
	}
}

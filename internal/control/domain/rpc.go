package control

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the RPC envelope published to a plug's command topic.
type Request struct {
	ID     int64          `json:"id"`
	Src    string         `json:"src"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the envelope a plug publishes back to the source topic.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the error body inside a device response.
type RPCError struct {
	Message string `json:"message"`
}

// ErrTimeout is returned when a device does not reply within the deadline.
var ErrTimeout = errors.New("control: device reply timed out")

// DeviceError carries an error the device itself reported.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("control: device error: %s", e.Message)
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoParams is returned when a response carries no params object
var ErrNoParams = errors.New("response has no params")

// Request is an outbound RPC call
type Request struct {
	ID      int64  `json:"id"`
	Session int64  `json:"session"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Object  *int64 `json:"object,omitempty"`
}

// RPCError is the error object a device returns for a failed call
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// SessionID is the server-assigned session number. Some firmware revisions
// quote it, so both forms are accepted.
type SessionID int64

// UnmarshalJSON accepts a bare or quoted integer
func (s *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", data, err)
	}
	*s = SessionID(v)
	return nil
}

// Response is any inbound message: a reply to a call, or a push message
// (client.notifyEventStream) delivered under the id of the subscription.
type Response struct {
	ID      *int64          `json:"id,omitempty"`
	Session SessionID       `json:"session,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ParseResponse unmarshals a decoded message body
func ParseResponse(raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &resp, nil
}

// Succeeded reports whether the result field is truthy
func (r *Response) Succeeded() bool {
	return Truthy(r.Result)
}

// ResultInt returns the result as an integer, as used by factory.instance
func (r *Response) ResultInt() (int64, bool) {
	if len(r.Result) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(r.Result, &n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecodeParams unmarshals the params object into v
func (r *Response) DecodeParams(v any) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return ErrNoParams
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

// ErrorMessage returns the error message or an empty string
func (r *Response) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Truthy applies the device's notion of success to a raw JSON value: absent,
// null, false, zero, empty strings and empty containers are all failures.
func Truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}

	switch raw[0] {
	case 'n':
		return false
	case 't':
		return true
	case 'f':
		return false
	case '"':
		return len(raw) > 2
	case '[':
		var v []json.RawMessage
		return json.Unmarshal(raw, &v) == nil && len(v) > 0
	case '{':
		var v map[string]json.RawMessage
		return json.Unmarshal(raw, &v) == nil && len(v) > 0
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}

package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// emptyParams is sent when a command is issued without parameters.
var emptyParams = json.RawMessage(`{}`)

// errUnknownMessage is returned by parseMessage for frames that carry
// neither an id nor a method.
var errUnknownMessage = errors.New("unknown CDP message format")

// errInvalidID is returned by parseMessage for responses whose id is not an
// integer, such as "id": null. No request can match them.
var errInvalidID = errors.New("invalid CDP response id")

// Request represents a CDP command request.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response represents a CDP command response.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Event represents a CDP event notification.
// Events are values; listeners receive their own copy.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Error represents a CDP protocol error reported by the peer for a single
// command. It is only ever delivered as the rejection reason of that
// command's Future.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		var s string
		if err := json.Unmarshal(e.Data, &s); err != nil {
			s = string(e.Data)
		}
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, s)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// encodeParams marshals command parameters. Nil params become {}.
func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return emptyParams, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyParams, nil
		}
		if !json.Valid(p) {
			return nil, errors.New("params is not valid JSON")
		}
		return p, nil
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return emptyParams, nil
	}
	return data, nil
}

// message is used internally to determine message type during parsing.
// Raw fields record presence, so "id": null still marks a response and a
// malformed error object does not fail the whole frame.
type message struct {
	ID     json.RawMessage `json:"id"`
	Method *string         `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Params json.RawMessage `json:"params"`
}

// parseMessage parses a raw CDP message and returns either a Response or Event.
// Returns (response, nil, nil) for command responses.
// Returns (nil, event, nil) for events.
// Returns (nil, nil, error) for parse errors, frames of unknown shape and
// responses whose id can never match a request.
func parseMessage(data []byte) (*Response, *Event, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse CDP message: %w", err)
	}

	// Messages with an ID are responses to commands
	if len(msg.ID) > 0 {
		id, err := parseID(msg.ID)
		if err != nil {
			return nil, nil, err
		}
		resp := &Response{ID: id, Result: msg.Result}
		if len(msg.Error) > 0 {
			resp.Error = parseError(msg.Error)
		}
		return resp, nil, nil
	}

	// Messages with a method but no ID are events
	if msg.Method != nil {
		return nil, &Event{
			Method: *msg.Method,
			Params: msg.Params,
		}, nil
	}

	return nil, nil, errUnknownMessage
}

// parseID decodes a response id. Integral floats such as 3.0 are accepted.
func parseID(raw json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return 0, fmt.Errorf("%w: %s", errInvalidID, raw)
}

// parseError decodes a protocol error. Values that are not error objects
// are kept as the message so the command is still rejected.
func parseError(raw json.RawMessage) *Error {
	var e Error
	if err := json.Unmarshal(raw, &e); err == nil {
		return &e
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &Error{Message: s}
	}
	return &Error{Message: string(raw)}
}

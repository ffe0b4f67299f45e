// Package fulfillment implements the assistant-facing request handler:
// enumerate, query, execute, and disconnect intents over the device
// repository and user directory. It has no HTTP dependency of its
// own — internal/api decodes the request body and writes the response,
// and is the only package that knows about net/http.
package fulfillment

import "encoding/json"

// Request is the decoded body of the fulfillment HTTP surface.
type Request struct {
	RequestID string  `json:"requestId"`
	Inputs    []Input `json:"inputs"`
}

// Input is one intent within a Request. Payload is intent-specific and
// decoded lazily by the handler for the matching intent.
type Input struct {
	Intent  string          `json:"intent"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response mirrors the request id and carries one result per input, in
// the same order the inputs arrived in.
type Response struct {
	RequestID string        `json:"requestId"`
	Payload   []InputResult `json:"payload"`
}

// InputResult is one input's outcome.
type InputResult struct {
	Intent  string `json:"intent"`
	Payload any    `json:"payload"`
}

// EnumeratePayload is the Enumerate intent's result payload.
type EnumeratePayload struct {
	AgentUserID string           `json:"agentUserId"`
	Devices     []enumerateEntry `json:"devices"`
}

type enumerateEntry struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Traits     []string       `json:"traits"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// QueryInput is the decoded payload of a Query intent.
type QueryInput struct {
	Devices []queryDeviceRef `json:"devices"`
}

type queryDeviceRef struct {
	ID string `json:"id"`
}

// QueryPayload is the Query intent's result payload: assistant device id to
// projected trait state, or the OFFLINE stand-in for an id that does not
// resolve.
type QueryPayload struct {
	Devices map[string]map[string]any `json:"devices"`
}

// ExecuteInput is the decoded payload of an Execute intent: one or more
// command groups, each naming the devices it targets and the executions to
// run against every one of them.
type ExecuteInput struct {
	Commands []executeGroup `json:"commands"`
}

type executeGroup struct {
	Devices   []queryDeviceRef `json:"devices"`
	Execution []executeCommand `json:"execution"`
}

type executeCommand struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// ExecutePayload is the Execute intent's result payload: one entry per
// distinct outcome, grouping together every device id that shared it.
type ExecutePayload struct {
	Commands []executeResult `json:"commands"`
}

type executeResult struct {
	IDs       []string `json:"ids"`
	Status    string   `json:"status"`
	ErrorCode string   `json:"errorCode,omitempty"`
}

// DisconnectPayload is the Disconnect intent's (empty) result payload.
type DisconnectPayload struct{}

package gateway

import "encoding/json"

// authMessage is the first payload a gateway sends after the handshake,
// decrypted under the session cipher.
type authMessage struct {
	UniqueID string `json:"uniqueId"`
	Token    string `json:"token"`
}

// controlMessage is a server→client frame: a subscribe request or a
// publish carrying a device command.
type controlMessage struct {
	Action  string `json:"action"`
	Topic   string `json:"topic"`
	Message any    `json:"message,omitempty"`
}

// eventMessage is a client→server frame once subscribed: always a publish
// whose topic's first segment names the event kind.
type eventMessage struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// statusPayload is the body of a status/<protocol> event: the gateway's
// service-level device inventory.
type statusPayload struct {
	Devices []statusDevice `json:"devices"`
	Names   bool           `json:"names,omitempty"`
}

// statusDevice is one entry in a status payload's device inventory.
type statusDevice struct {
	IEEEAddress  string `json:"ieeeAddress"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturerName"`
	Model        string `json:"modelName"`
	Firmware     string `json:"firmware"`
	Version      string `json:"version"`
	Cloud        bool   `json:"cloud"`
	Removed      bool   `json:"removed"`
}

// exposePayload is the body of an expose/<deviceTopic> event: a per-endpoint
// capability map keyed by endpoint id string. Non-numeric keys map to
// endpoint 0.
type exposePayload map[string]exposeEndpoint

type exposeEndpoint struct {
	Items   []string       `json:"items"`
	Options map[string]any `json:"options,omitempty"`
}

// devicePayload is the body of a device/<deviceTopic> liveness event.
type devicePayload struct {
	Status string `json:"status"`
}

// fdPayload is the body of an fd/<deviceTopic> state event: an arbitrary
// key-value bag merged into the device's state.
type fdPayload map[string]any

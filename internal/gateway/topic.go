package gateway

import (
	"strconv"
	"strings"

	"github.com/nerrad567/gateway-bridge/internal/device"
)

// topicKind is the first segment of an event topic, naming the event kind
// dispatched by the Subscribed state.
type topicKind string

const (
	kindStatus topicKind = "status"
	kindExpose topicKind = "expose"
	kindDevice topicKind = "device"
	kindFd     topicKind = "fd"
)

// deviceTopic identifies the device (and optional endpoint) an expose,
// device, or fd event concerns. A DeviceId is always "<protocol>/<address>";
// the optional third segment is the endpoint id.
type deviceTopic struct {
	Protocol   string
	Address    string
	EndpointID *int
}

func (t deviceTopic) deviceID() device.DeviceId {
	return device.DeviceId(t.Protocol + "/" + t.Address)
}

// parseTopic splits an event topic into its kind and, for kinds that name a
// device, the device topic. Unknown kinds return ok=false so the caller can
// drop the message silently.
func parseTopic(topic string) (kind topicKind, dt deviceTopic, ok bool) {
	segments := strings.Split(topic, "/")
	if len(segments) < 2 {
		return "", deviceTopic{}, false
	}

	kind = topicKind(segments[0])
	switch kind {
	case kindStatus:
		// status/<protocol> carries no address of its own.
		return kind, deviceTopic{Protocol: segments[1]}, true
	case kindExpose, kindDevice, kindFd:
		if len(segments) < 3 {
			return "", deviceTopic{}, false
		}
		dt = deviceTopic{Protocol: segments[1], Address: segments[2]}
		if len(segments) >= 4 {
			id := endpointKey(segments[3])
			dt.EndpointID = &id
		}
		return kind, dt, true
	default:
		return "", deviceTopic{}, false
	}
}

// commandTopic is the server→client topic a command for deviceID is
// published on: "command/<protocol>".
func commandTopic(deviceID device.DeviceId) string {
	protocol, _, _ := strings.Cut(string(deviceID), "/")
	return "command/" + protocol
}

// deviceAddress extracts the protocol address half of a DeviceId.
func deviceAddress(deviceID device.DeviceId) string {
	_, address, _ := strings.Cut(string(deviceID), "/")
	return address
}

// endpointKey maps an endpoint id (possibly absent) to the exposePayload
// key it is reported under: numeric ids as their decimal string, anything
// non-numeric collapses to endpoint 0.
func endpointKey(raw string) int {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return id
}

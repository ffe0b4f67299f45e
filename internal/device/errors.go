package device

import "errors"

var (
	// ErrDeviceNotFound is returned when an operation targets a DeviceId that
	// does not exist under the given (UserId, clientId).
	ErrDeviceNotFound = errors.New("device: device not found")

	// ErrEndpointOutOfRange is returned when a state update or command names
	// an endpoint id the device does not declare.
	ErrEndpointOutOfRange = errors.New("device: endpoint out of range")
)

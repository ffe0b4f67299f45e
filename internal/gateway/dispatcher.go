package gateway

import (
	"fmt"

	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/directory"
	"github.com/nerrad567/gateway-bridge/internal/translate"
)

// commandSender is the subset of Connection a Dispatcher needs: enough to
// find the one connection matching a ClientId and hand it a lowered
// command. Every directory.Conn handed to the gateway package is actually a
// *Connection, so the type assertion in Dispatch always succeeds.
type commandSender interface {
	directory.Conn
	SendCommand(deviceID device.DeviceId, payload translate.GatewayPayload) error
}

// ConnectionLister is the subset of directory.Directory a Dispatcher needs
// to find the connection routable for a user.
type ConnectionLister interface {
	ConnectionsOf(userID string) []directory.Conn
}

// Dispatcher adapts device.Repository's DispatchFunc to the gateway
// directory: it looks up the live connection for (UserId, ClientId) and
// lowers the assistant-level payload onto the wire. Grounded on this repo's
// MQTT publish-and-forget dispatch shape (look up a live client by id,
// return an error on "not connected" rather than queuing for a client that
// may never reappear).
type Dispatcher struct {
	directory ConnectionLister
}

// NewDispatcher builds a Dispatcher backed by dir.
func NewDispatcher(dir ConnectionLister) *Dispatcher {
	return &Dispatcher{directory: dir}
}

// Dispatch implements device.DispatchFunc: it finds the connection bound to
// cmd's (UserID, ClientID) and enqueues cmd.Payload — already lowered to
// gateway shape by the fulfillment handler before it reached the device
// repository — for delivery. It returns an error — which the caller reports
// as the device going OFFLINE — if no live connection routes to that client.
func (d *Dispatcher) Dispatch(cmd device.ExecuteCommand) error {
	for _, conn := range d.directory.ConnectionsOf(cmd.UserID) {
		if conn.ClientID() != cmd.ClientID {
			continue
		}
		sender, ok := conn.(commandSender)
		if !ok {
			return fmt.Errorf("gateway: connection for client %s cannot send commands", cmd.ClientID)
		}
		return sender.SendCommand(cmd.DeviceID, translate.GatewayPayload(cmd.Payload))
	}
	return fmt.Errorf("gateway: no live connection for user=%s client=%s", cmd.UserID, cmd.ClientID)
}

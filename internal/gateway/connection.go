package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/directory"
	"github.com/nerrad567/gateway-bridge/internal/gateway/crypto"
	"github.com/nerrad567/gateway-bridge/internal/gateway/frame"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/gateway-bridge/internal/translate"
)

// connState is the per-socket state machine's current step.
type connState int32

const (
	stateAwaitHandshake connState = iota
	stateAwaitAuth
	stateSubscribed
	stateClosed
)

// TokenResolver resolves a gateway bearer token to the UserId that owns it
// (internal/directory.Directory satisfies this).
type TokenResolver interface {
	ResolveToken(token string) (userID string, ok bool)
}

// Attacher registers and deregisters a connection as the live route for
// (UserId, clientId) (internal/directory.Directory satisfies this).
type Attacher interface {
	Attach(userID string, conn directory.Conn)
	Detach(userID string, conn directory.Conn)
}

// Devices is the subset of the device repository a Connection dispatches
// inbound events into (internal/device.Repository satisfies this).
type Devices interface {
	SyncClientDevices(userID, clientID string, incoming []device.Device) (added, removed []device.DeviceId)
	UpdateDevice(userID, clientID string, deviceID device.DeviceId, endpoints []device.Endpoint) error
	SetAvailable(userID, clientID string, deviceID device.DeviceId, available bool) error
	UpdateState(userID, clientID string, deviceID device.DeviceId, endpointID *int, partial map[string]any) error
	PurgeClient(userID, clientID string)
}

// AuditSink records connection lifecycle events (auth failures, subscribe,
// close) for operator forensics. Failures to record are logged and
// swallowed rather than affecting the gateway session. Satisfied by
// internal/audit.ConnectionRecorder; nil is a valid no-op sink.
type AuditSink interface {
	RecordConnection(ctx context.Context, userID, clientID, event, detail string)
}

// Deps holds the collaborators a Connection needs, shared across every
// connection a Listener accepts.
type Deps struct {
	Directory           TokenResolver
	Attacher            Attacher
	Devices             Devices
	Logger              *logging.Logger
	Audit               AuditSink
	AuthTimeout         time.Duration
	MaxBufferSize       int
	SendQueueSize       int
	CommandSendDeadline time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.AuthTimeout <= 0 {
		d.AuthTimeout = 10 * time.Second
	}
	if d.MaxBufferSize <= 0 {
		d.MaxBufferSize = frame.DefaultMaxBufferSize
	}
	if d.SendQueueSize <= 0 {
		d.SendQueueSize = 256
	}
	if d.CommandSendDeadline <= 0 {
		d.CommandSendDeadline = 2 * time.Second
	}
	return d
}

// Connection is one gateway's live TCP session: the per-socket state
// machine running the handshake, authentication, and subscribed topic
// dispatch, with a single-writer send queue.
//
// The single-writer discipline follows internal/api's WSClient
// (send-queue-backed writer, drop-on-full backpressure), adapted here to the
// gateway's handshake/auth/subscribed states instead of a bare
// connect/disconnect pair.
type Connection struct {
	id   string
	conn net.Conn
	deps Deps

	state atomic.Int32

	mu       sync.Mutex
	cipher   *crypto.Cipher
	clientID string
	userID   string

	authTimer *time.Timer
	queue     *sendQueue

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection wraps an accepted socket in a Connection, ready to Serve.
func NewConnection(conn net.Conn, deps Deps) *Connection {
	c := &Connection{
		id:     uuid.NewString(),
		conn:   conn,
		deps:   deps.withDefaults(),
		queue:  newSendQueue(deps.withDefaults().SendQueueSize),
		closed: make(chan struct{}),
	}
	c.state.Store(int32(stateAwaitHandshake))
	return c
}

// ID is the connection's internal instance id, for log correlation —
// distinct from the gateway-supplied clientId, which isn't known until
// authentication completes.
func (c *Connection) ID() string { return c.id }

// ClientID returns the gateway-reported uniqueId once authenticated, or ""
// before then. Satisfies internal/directory.Conn.
func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// UserID returns the bound UserId once authenticated, or "" before then.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) currentState() connState {
	return connState(c.state.Load())
}

// Serve runs the connection's read and write loops until the socket closes,
// the context is canceled, or a transport-fatal error occurs. It always
// returns once the connection is fully torn down.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.authTimer = time.AfterFunc(c.deps.AuthTimeout, func() {
		c.deps.Logger.Warn("gateway: authentication deadline expired", "conn", c.id)
		c.Close()
	})

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writeLoop(ctx)
	}()

	err := c.readLoop(ctx)
	cancel()
	<-writeDone
	return err
}

// readLoop accumulates bytes from the socket and feeds them to the state
// machine until the connection closes. Reads run on a dedicated
// per-connection goroutine; there is no ordering requirement across
// connections.
func (c *Connection) readLoop(ctx context.Context) error {
	buf := make([]byte, 0, 4096)
	read := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := c.conn.Read(read)
		if n > 0 {
			buf = append(buf, read[:n]...)
			var perr error
			buf, perr = c.process(ctx, buf)
			if perr != nil {
				c.deps.Logger.Warn("gateway: closing connection", "conn", c.id, "error", perr)
				return perr
			}
		}
		if err != nil {
			return nil //nolint:nilerr // socket EOF/close is normal teardown, not a protocol error
		}
	}
}

// process runs the state machine over buf until no further progress can be
// made, returning the unconsumed remainder.
func (c *Connection) process(ctx context.Context, buf []byte) ([]byte, error) {
	for {
		switch c.currentState() {
		case stateAwaitHandshake:
			consumed, rest, err := c.tryHandshake(buf)
			if err != nil {
				return nil, err
			}
			if !consumed {
				return rest, nil
			}
			buf = rest

		case stateAwaitAuth:
			payload, rest, ok, err := frame.Decode(buf, c.deps.MaxBufferSize)
			if err != nil {
				return nil, fmt.Errorf("gateway: %w", err)
			}
			if !ok {
				return rest, nil
			}
			buf = rest
			if err := c.tryAuth(ctx, payload); err != nil {
				return nil, err
			}

		case stateSubscribed:
			payload, rest, ok, err := frame.Decode(buf, c.deps.MaxBufferSize)
			if err != nil {
				return nil, fmt.Errorf("gateway: %w", err)
			}
			if !ok {
				return rest, nil
			}
			buf = rest
			c.handleEvent(payload)

		case stateClosed:
			return nil, nil
		}
	}
}

// tryHandshake consumes the 12-byte client hello once enough bytes have
// arrived, replies with the server's 4-byte public value, and derives the
// session cipher.
func (c *Connection) tryHandshake(buf []byte) (consumed bool, rest []byte, err error) {
	if len(buf) < crypto.ClientHelloSize {
		return false, buf, nil
	}

	hello, err := crypto.ParseClientHello(buf[:crypto.ClientHelloSize])
	if err != nil {
		return false, nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	sess, err := crypto.Handshake(hello)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	cipher, err := crypto.NewCipher(sess)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	if _, err := c.conn.Write(crypto.EncodeServerPublic(sess.ServerPublic)); err != nil {
		return false, nil, fmt.Errorf("gateway: writing handshake reply: %w", err)
	}

	c.mu.Lock()
	c.cipher = cipher
	c.mu.Unlock()
	c.state.Store(int32(stateAwaitAuth))

	return true, buf[crypto.ClientHelloSize:], nil
}

// tryAuth decrypts and parses the first post-handshake frame as an auth
// message, resolves its token, and — on success — binds the connection and
// transitions to Subscribed.
func (c *Connection) tryAuth(ctx context.Context, ciphertext []byte) error {
	plaintext, err := c.decrypt(ciphertext)
	if err != nil {
		c.auditf(ctx, "", "", "auth_failed", "decrypt error")
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	var msg authMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		c.auditf(ctx, "", "", "auth_failed", "malformed auth payload")
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	userID, ok := c.deps.Directory.ResolveToken(msg.Token)
	if !ok {
		c.auditf(ctx, "", msg.UniqueID, "auth_failed", "unknown token")
		return fmt.Errorf("%w: unknown token", ErrAuthFailed)
	}

	c.mu.Lock()
	c.userID = userID
	c.clientID = msg.UniqueID
	c.mu.Unlock()

	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.state.Store(int32(stateSubscribed))
	c.deps.Attacher.Attach(userID, c)
	c.auditf(ctx, userID, msg.UniqueID, "subscribed", "")

	c.queue.pushControl(outboundMsg{kind: kindControl, payload: mustMarshal(controlMessage{
		Action: "subscribe",
		Topic:  "status/#",
	})})
	return nil
}

// handleEvent dispatches one decrypted Subscribed-state frame by topic
// kind into the device repository. Parse failures here are
// transient-per-message, not transport-fatal, since a single malformed
// event should not tear down an otherwise-healthy session. A decrypt
// failure is different: it means the cipher stream itself is desynced, so
// it still closes the connection even at this state.
func (c *Connection) handleEvent(ciphertext []byte) {
	plaintext, err := c.decrypt(ciphertext)
	if err != nil {
		c.deps.Logger.Warn("gateway: dropping undecryptable frame", "conn", c.id)
		c.Close()
		return
	}

	var ev eventMessage
	if err := json.Unmarshal(plaintext, &ev); err != nil {
		c.deps.Logger.Warn("gateway: dropping malformed event frame", "conn", c.id, "error", err)
		return
	}
	if ev.Action != "publish" {
		return
	}

	kind, dt, ok := parseTopic(ev.Topic)
	if !ok {
		c.deps.Logger.Debug("gateway: dropping unknown topic", "conn", c.id, "topic", ev.Topic)
		return
	}

	userID, clientID := c.UserID(), c.ClientID()

	switch kind {
	case kindStatus:
		c.handleStatus(userID, clientID, dt.Protocol, ev.Message)
	case kindExpose:
		c.handleExpose(userID, clientID, dt, ev.Message)
	case kindDevice:
		c.handleDevice(userID, clientID, dt, ev.Message)
	case kindFd:
		c.handleFd(userID, clientID, dt, ev.Message)
	}
}

func (c *Connection) handleStatus(userID, clientID, protocol string, raw json.RawMessage) {
	var payload statusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.deps.Logger.Warn("gateway: malformed status payload", "conn", c.id, "error", err)
		return
	}

	devices := make([]device.Device, 0, len(payload.Devices))
	for _, d := range payload.Devices {
		if !d.Cloud || d.Removed || d.Name == "" {
			continue
		}
		if d.Name == payload.coordinatorName() {
			continue
		}
		devices = append(devices, device.Device{
			ID:              device.DeviceId(protocol + "/" + d.IEEEAddress),
			Name:            d.Name,
			Description:     d.Description,
			Manufacturer:    d.Manufacturer,
			Model:           d.Model,
			FirmwareVersion: d.Firmware,
		})
	}
	c.deps.Devices.SyncClientDevices(userID, clientID, devices)
}

func (c *Connection) handleExpose(userID, clientID string, dt deviceTopic, raw json.RawMessage) {
	var payload exposePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.deps.Logger.Warn("gateway: malformed expose payload", "conn", c.id, "error", err)
		return
	}

	byEndpoint := make(map[int]exposeEndpoint)
	for key, ep := range payload {
		byEndpoint[endpointKey(key)] = ep
	}

	endpoints := make([]device.Endpoint, 0, len(byEndpoint))
	for id, ep := range byEndpoint {
		endpoints = append(endpoints, device.Endpoint{ID: id, Exposes: ep.Items, Options: ep.Options})
	}

	if err := c.deps.Devices.UpdateDevice(userID, clientID, dt.deviceID(), endpoints); err != nil {
		c.deps.Logger.Debug("gateway: expose for unknown device", "conn", c.id, "device", dt.deviceID())
	}
}

func (c *Connection) handleDevice(userID, clientID string, dt deviceTopic, raw json.RawMessage) {
	var payload devicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.deps.Logger.Warn("gateway: malformed device payload", "conn", c.id, "error", err)
		return
	}

	available := payload.Status == "online"
	if err := c.deps.Devices.SetAvailable(userID, clientID, dt.deviceID(), available); err != nil {
		c.deps.Logger.Debug("gateway: liveness signal for unknown device", "conn", c.id, "device", dt.deviceID())
	}
}

func (c *Connection) handleFd(userID, clientID string, dt deviceTopic, raw json.RawMessage) {
	var payload fdPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.deps.Logger.Warn("gateway: malformed fd payload", "conn", c.id, "error", err)
		return
	}

	if err := c.deps.Devices.UpdateState(userID, clientID, dt.deviceID(), dt.EndpointID, payload); err != nil {
		c.deps.Logger.Debug("gateway: state update for unknown device", "conn", c.id, "device", dt.deviceID())
	}
}

// SendCommand lowers and enqueues a device command for delivery over this
// connection. It returns ErrNotSubscribed unless the connection is in the
// Subscribed state: before that the gateway has not authenticated, and
// after Close the session is gone. Callers reach this only via the
// dispatcher, which is only wired to connections the directory has already
// attached.
func (c *Connection) SendCommand(deviceID device.DeviceId, payload translate.GatewayPayload) error {
	if c.currentState() != stateSubscribed {
		return ErrNotSubscribed
	}

	msg := controlMessage{
		Action: "publish",
		Topic:  commandTopic(deviceID),
		Message: map[string]any{
			"action":  simpleAction(payload),
			"device":  deviceAddress(deviceID),
			"service": "cloud",
		},
	}
	return c.queue.pushCommand(outboundMsg{kind: kindCommand, payload: mustMarshal(msg)}, c.deps.CommandSendDeadline)
}

// simpleAction reduces a lowered gateway payload to the single scalar
// "action" string the command envelope carries (e.g. {status:"off"} ->
// "off"). Payloads with more than one field, or without a scalar string
// value, fall back to "set" and the fields are otherwise lost on this
// envelope shape — richer commands than on/off/lock are a judgment call
// the gateway's wire format doesn't give us room to express precisely.
func simpleAction(payload translate.GatewayPayload) string {
	if len(payload) == 1 {
		for _, v := range payload {
			if s, ok := v.(string); ok {
				return toLowerASCII(s)
			}
		}
	}
	return "set"
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// writeLoop is the connection's single writer: every outbound frame,
// whether a control message built internally or a command dispatched from
// fulfillment, passes through the send queue so writes are never
// interleaved.
func (c *Connection) writeLoop(ctx context.Context) {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	for {
		msg, ok := c.queue.popBlocking(stop)
		if !ok {
			return
		}
		ciphertext, err := c.encrypt(msg.payload)
		if err != nil {
			c.deps.Logger.Error("gateway: encrypting outbound frame", "conn", c.id, "error", err)
			continue
		}
		if _, err := c.conn.Write(frame.Encode(ciphertext)); err != nil {
			c.deps.Logger.Warn("gateway: write failed", "conn", c.id, "error", err)
			c.Close()
			return
		}
	}
}

func (c *Connection) encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	cipher := c.cipher
	c.mu.Unlock()
	if cipher == nil {
		return nil, ErrNotSubscribed
	}
	return cipher.Encrypt(plaintext), nil
}

func (c *Connection) decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	cipher := c.cipher
	c.mu.Unlock()
	if cipher == nil {
		return nil, ErrClosed
	}
	return cipher.Decrypt(ciphertext)
}

// Close tears down the connection: cancels the auth timer, closes the
// socket, purges the device repository and user directory of this
// connection's state, and unblocks any in-flight Serve/writeLoop.
// Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.queue.close()
		_ = c.conn.Close()

		userID, clientID := c.UserID(), c.ClientID()
		if userID != "" {
			c.deps.Devices.PurgeClient(userID, clientID)
			c.deps.Attacher.Detach(userID, c)
			c.auditf(context.Background(), userID, clientID, "closed", "")
		}
		close(c.closed)
	})
	return nil
}

// Done returns a channel closed once the connection has fully torn down.
func (c *Connection) Done() <-chan struct{} { return c.closed }

func (c *Connection) auditf(ctx context.Context, userID, clientID, event, detail string) {
	if c.deps.Audit == nil {
		return
	}
	c.deps.Audit.RecordConnection(ctx, userID, clientID, event, detail)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// controlMessage/outbound shapes are fixed Go structs/maps; a
		// marshal failure here means a programmer error, not a runtime one.
		panic(fmt.Sprintf("gateway: marshaling outbound message: %v", err))
	}
	return b
}

// coordinatorName reports the protocol coordinator's self-reported name so
// handleStatus can exclude it — the gateway reports its own coordinator as
// a pseudo-device in the same inventory, and only devices named differently
// from the coordinator should surface to fulfillment. Real coordinators
// report a fixed, protocol-specific name (e.g. "Coordinator"); gateways
// that omit Names entirely never emit a coordinator entry to filter.
func (p statusPayload) coordinatorName() string {
	if !p.Names {
		return ""
	}
	return "Coordinator"
}


package fulfillment

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/gateway-bridge/internal/translate"
)

const (
	statusSuccess = "SUCCESS"
	statusOffline = "OFFLINE"
	statusError   = "ERROR"

	errCodeDeviceOffline = "deviceOffline"
	errCodeNotSupported  = "notSupported"
)

// Devices is the subset of device.Repository the fulfillment handler needs.
type Devices interface {
	ListUserDevices(userID string) []device.ClientDevice
	GetState(userID, clientID string, deviceID device.DeviceId) (device.State, bool)
	ExecuteCommand(userID, clientID string, deviceID device.DeviceId, endpointID *int, payload map[string]any) error
}

// Directory is the subset of directory.Directory the Disconnect intent
// needs.
type Directory interface {
	SetLinked(userID string, linked bool)
	PurgeRouting(userID string)
}

// AuditSink records executed commands for operator forensics. Satisfied by
// internal/audit.ConnectionRecorder; nil is a valid no-op sink.
type AuditSink interface {
	RecordCommand(ctx context.Context, userID, deviceID, command, status string)
}

// Handler dispatches fulfillment requests against a user's device catalog
// and connections: pure dispatch over the assistant's fixed
// enumerate/query/execute/disconnect intent set, with no HTTP dependency.
type Handler struct {
	devices   Devices
	directory Directory
	audit     AuditSink
	logger    *logging.Logger
}

// NewHandler builds a Handler backed by devices and dir. audit may be nil.
func NewHandler(devices Devices, dir Directory, audit AuditSink, logger *logging.Logger) *Handler {
	return &Handler{devices: devices, directory: dir, audit: audit, logger: logger}
}

// Handle processes every input in req against userID's catalog, returning
// one result per input in order. It never returns an error: an unsupported
// intent becomes an ERROR result for that input, and a malformed query or
// execute payload is logged and handled as naming no devices, not as a
// failed response — one bad input in a batch shouldn't fail the rest of it.
func (h *Handler) Handle(ctx context.Context, userID string, req Request) Response {
	results := make([]InputResult, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		results = append(results, h.handleInput(ctx, userID, in))
	}
	return Response{RequestID: req.RequestID, Payload: results}
}

func (h *Handler) handleInput(ctx context.Context, userID string, in Input) InputResult {
	switch in.Intent {
	case "Enumerate":
		return InputResult{Intent: in.Intent, Payload: h.enumerate(userID)}
	case "Query":
		return InputResult{Intent: in.Intent, Payload: h.query(userID, in.Payload)}
	case "Execute":
		return InputResult{Intent: in.Intent, Payload: h.execute(ctx, userID, in.Payload)}
	case "Disconnect":
		h.disconnect(ctx, userID)
		return InputResult{Intent: in.Intent, Payload: DisconnectPayload{}}
	default:
		h.logger.Warn("fulfillment: unsupported intent", "intent", in.Intent)
		return InputResult{Intent: in.Intent, Payload: map[string]string{"status": statusError, "errorCode": errCodeNotSupported}}
	}
}

// enumerate lists every (clientId, Device) pair owned by userID and
// translates each into one or more assistant device records.
func (h *Handler) enumerate(userID string) EnumeratePayload {
	clientDevices := h.devices.ListUserDevices(userID)

	var entries []enumerateEntry
	for _, cd := range clientDevices {
		for _, rec := range translate.ToEnumerateRecords(cd.ClientID, cd.Device) {
			entries = append(entries, enumerateEntry{
				ID:         rec.ID,
				Type:       string(rec.Type),
				Traits:     traitStrings(rec.Traits),
				Name:       rec.Name,
				Attributes: rec.Attributes,
			})
		}
	}
	return EnumeratePayload{AgentUserID: userID, Devices: entries}
}

// query projects current state for every requested assistant device id.
// Ids that do not resolve report {online:false, status:"OFFLINE"} rather
// than being omitted.
func (h *Handler) query(userID string, raw json.RawMessage) QueryPayload {
	var in QueryInput
	if err := json.Unmarshal(raw, &in); err != nil {
		h.logger.Warn("fulfillment: malformed query payload", "error", err)
		return QueryPayload{Devices: map[string]map[string]any{}}
	}

	out := make(map[string]map[string]any, len(in.Devices))
	for _, ref := range in.Devices {
		out[ref.ID] = h.queryOne(userID, ref.ID)
	}
	return QueryPayload{Devices: out}
}

func (h *Handler) queryOne(userID, assistantID string) map[string]any {
	clientID, deviceID, _, ok := parseAssistantID(assistantID)
	if !ok {
		return offlineState()
	}

	cd, ok := h.findDevice(userID, clientID, deviceID)
	if !ok {
		return offlineState()
	}

	_, traits, ok := translate.DetectDeviceType(cd.Device.Endpoints)
	if !ok {
		return offlineState()
	}

	state, ok := h.devices.GetState(userID, clientID, deviceID)
	if !ok {
		return offlineState()
	}

	return translate.ToTraitState(state.Available, traits, state.Properties)
}

func (h *Handler) findDevice(userID, clientID string, deviceID device.DeviceId) (device.ClientDevice, bool) {
	for _, cd := range h.devices.ListUserDevices(userID) {
		if cd.ClientID == clientID && cd.Device.ID == deviceID {
			return cd, true
		}
	}
	return device.ClientDevice{}, false
}

func offlineState() map[string]any {
	return map[string]any{"online": false, "status": statusOffline}
}

// execute lowers and routes every command in every group, aggregating
// results by outcome so the response groups ids by shared status rather
// than repeating it per id.
func (h *Handler) execute(ctx context.Context, userID string, raw json.RawMessage) ExecutePayload {
	var in ExecuteInput
	if err := json.Unmarshal(raw, &in); err != nil {
		h.logger.Warn("fulfillment: malformed execute payload", "error", err)
		return ExecutePayload{}
	}

	type outcomeKey struct {
		status    string
		errorCode string
	}
	order := make([]outcomeKey, 0)
	byOutcome := make(map[outcomeKey][]string)

	record := func(id, status, errorCode string) {
		key := outcomeKey{status: status, errorCode: errorCode}
		if _, seen := byOutcome[key]; !seen {
			order = append(order, key)
		}
		byOutcome[key] = append(byOutcome[key], id)
	}

	for _, group := range in.Commands {
		for _, ref := range group.Devices {
			for _, exec := range group.Execution {
				record(ref.ID, h.executeOne(ctx, userID, ref.ID, exec))
			}
		}
	}

	results := make([]executeResult, 0, len(order))
	for _, key := range order {
		results = append(results, executeResult{
			IDs:       byOutcome[key],
			Status:    key.status,
			ErrorCode: key.errorCode,
		})
	}
	return ExecutePayload{Commands: results}
}

// executeOne lowers and dispatches one command against one assistant
// device id, returning the status/errorCode pair to aggregate.
func (h *Handler) executeOne(ctx context.Context, userID, assistantID string, exec executeCommand) (status, errorCode string) {
	clientID, deviceID, endpointID, ok := parseAssistantID(assistantID)
	if !ok {
		h.recordCommand(ctx, userID, assistantID, exec.Command, statusOffline)
		return statusOffline, errCodeDeviceOffline
	}

	payload, ok := translate.LowerCommand(translate.AssistantCommand{Name: exec.Command, Params: exec.Params})
	if !ok {
		h.recordCommand(ctx, userID, string(deviceID), exec.Command, statusError)
		return statusError, errCodeNotSupported
	}

	if err := h.devices.ExecuteCommand(userID, clientID, deviceID, endpointID, payload); err != nil {
		h.logger.Debug("fulfillment: execute failed", "device", deviceID, "error", err)
		h.recordCommand(ctx, userID, string(deviceID), exec.Command, statusOffline)
		return statusOffline, errCodeDeviceOffline
	}
	h.recordCommand(ctx, userID, string(deviceID), exec.Command, statusSuccess)
	return statusSuccess, ""
}

// disconnect marks userID unlinked and purges its cached connection
// routing, without closing any live gateway socket.
func (h *Handler) disconnect(_ context.Context, userID string) {
	h.directory.SetLinked(userID, false)
	h.directory.PurgeRouting(userID)
}

// parseAssistantID splits an assistant device id of the form
// "<clientId>/<protocol>/<address>" or "<clientId>/<protocol>/<address>#<endpointId>"
// into its clientId, DeviceId, and optional endpoint id.
func parseAssistantID(id string) (clientID string, deviceID device.DeviceId, endpointID *int, ok bool) {
	base := id
	var epPart string
	if idx := strings.IndexByte(id, '#'); idx >= 0 {
		base = id[:idx]
		epPart = id[idx+1:]
	}

	parts := strings.SplitN(base, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", nil, false
	}
	clientID = parts[0]
	deviceID = device.DeviceId(parts[1])

	if epPart != "" {
		n, err := strconv.Atoi(epPart)
		if err != nil {
			return "", "", nil, false
		}
		endpointID = &n
	}
	return clientID, deviceID, endpointID, true
}

func traitStrings(traits []translate.Trait) []string {
	out := make([]string, len(traits))
	for i, t := range traits {
		out[i] = string(t)
	}
	return out
}

package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jsonmerge "github.com/apapsch/go-jsonmerge/v2"

	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

// ExecuteCommand is emitted by Repository.ExecuteCommand once a device's
// existence has been validated. Exactly one dispatcher consumes it and
// routes the payload to the connection writer bound to (UserID, ClientID).
type ExecuteCommand struct {
	UserID     string
	ClientID   string
	DeviceID   DeviceId
	EndpointID *int
	Payload    map[string]any
}

// DispatchFunc routes a validated ExecuteCommand to the gateway connection
// that owns (UserID, ClientID). It returns an error if no live connection
// exists so the caller can report OFFLINE rather than silently dropping it.
type DispatchFunc func(ExecuteCommand) error

// deviceEntry is one device's catalog entry plus its liveness bookkeeping,
// held under its owning user's lock.
type deviceEntry struct {
	device       Device
	state        State
	lastLiveness time.Time
	hasLiveness  bool
}

// userState is the full per-client device catalog for one user, serialized
// by mu. A single per-user lock (rather than one per (UserId, clientId))
// keeps devicesChanged ordered with respect to that user's stateChanged
// events, while still letting different users mutate fully in parallel.
type userState struct {
	mu      sync.Mutex
	clients map[string]map[DeviceId]*deviceEntry
}

// Repository is the single owner of every user's live device catalog and
// state. It is the sole writer of devicesChanged/stateChanged events and
// runs the liveness watchdog sweep. The catalog is a map guarded by a lock
// and keyed per user; liveness is enforced by a periodic sweep.
type Repository struct {
	logger *logging.Logger

	mu    sync.RWMutex // guards users (add/remove user entries only)
	users map[string]*userState

	watchdogTimeout  time.Duration
	sweepInterval    time.Duration
	dispatch         DispatchFunc
	dispatchMu       sync.RWMutex
	devicesListeners []func(DevicesChanged)
	stateListeners   []func(StateChanged)
	listenersMu      sync.RWMutex

	watchdogTrips atomic.Uint64
}

// Stats summarises the repository's current catalog, for the operator
// metrics endpoint.
type Stats struct {
	Users         int
	Devices       int
	WatchdogTrips uint64
}

// Stats returns a snapshot of the repository's catalog size and the running
// watchdog-trip count.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	userStates := make([]*userState, 0, len(r.users))
	for _, us := range r.users {
		userStates = append(userStates, us)
	}
	userCount := len(r.users)
	r.mu.RUnlock()

	deviceCount := 0
	for _, us := range userStates {
		us.mu.Lock()
		for _, entries := range us.clients {
			deviceCount += len(entries)
		}
		us.mu.Unlock()
	}

	return Stats{
		Users:         userCount,
		Devices:       deviceCount,
		WatchdogTrips: r.watchdogTrips.Load(),
	}
}

// NewRepository constructs a Repository with the given liveness timeout.
// The sweep interval is min(timeout/3, 10s), so a device misses at least
// three sweeps before being marked unavailable.
func NewRepository(logger *logging.Logger, watchdogTimeout time.Duration) *Repository {
	interval := watchdogTimeout / 3
	if interval > 10*time.Second || interval <= 0 {
		interval = 10 * time.Second
	}
	return &Repository{
		logger:          logger,
		users:           make(map[string]*userState),
		watchdogTimeout: watchdogTimeout,
		sweepInterval:   interval,
	}
}

// SetDispatch registers the single consumer of ExecuteCommand events. It
// must be called once during wiring, before any fulfillment execute.
func (r *Repository) SetDispatch(fn DispatchFunc) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.dispatch = fn
}

// AddDevicesChangedListener registers fn to be invoked, in order, for every
// devicesChanged event. Listeners run synchronously inside the per-user
// serialized section and must not block: a slow listener stalls every
// other mutation for that user.
func (r *Repository) AddDevicesChangedListener(fn func(DevicesChanged)) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.devicesListeners = append(r.devicesListeners, fn)
}

// AddStateChangedListener registers fn to be invoked, in order, for every
// stateChanged event. Same non-blocking contract as AddDevicesChangedListener.
func (r *Repository) AddStateChangedListener(fn func(StateChanged)) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.stateListeners = append(r.stateListeners, fn)
}

func (r *Repository) emitDevicesChanged(ev DevicesChanged) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.devicesListeners {
		fn(ev)
	}
}

func (r *Repository) emitStateChanged(ev StateChanged) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.stateListeners {
		fn(ev)
	}
}

// stateFor returns this user's userState, creating it if absent.
func (r *Repository) stateFor(userID string) *userState {
	r.mu.RLock()
	us, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return us
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if us, ok = r.users[userID]; ok {
		return us
	}
	us = &userState{clients: make(map[string]map[DeviceId]*deviceEntry)}
	r.users[userID] = us
	return us
}

// SyncClientDevices reconciles one connection's reported inventory against
// the catalog by DeviceId. Matched devices keep their endpoint list and
// state; devices absent from incoming are removed. Newly added devices
// always start unavailable: Device carries no availability of its own, so
// none is read from incoming. An existing device's availability is never
// clobbered by a re-sync, since a gateway reconnect that re-announces its
// inventory shouldn't flip every device back to unavailable before the next
// liveness report arrives.
func (r *Repository) SyncClientDevices(userID, clientID string, incoming []Device) (added, removed []DeviceId) {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entries, ok := us.clients[clientID]
	if !ok {
		entries = make(map[DeviceId]*deviceEntry)
		us.clients[clientID] = entries
	}

	incomingIDs := make(map[DeviceId]struct{}, len(incoming))
	for _, d := range incoming {
		incomingIDs[d.ID] = struct{}{}
		if existing, ok := entries[d.ID]; ok {
			existing.device.Name = d.Name
			existing.device.Description = d.Description
			existing.device.Manufacturer = d.Manufacturer
			existing.device.Model = d.Model
			existing.device.FirmwareVersion = d.FirmwareVersion
			existing.device.Topic = d.Topic
			continue
		}
		entries[d.ID] = &deviceEntry{
			device: *d.DeepCopy(),
			state:  State{Available: false, Properties: map[string]any{}},
		}
		added = append(added, d.ID)
	}

	for id := range entries {
		if _, ok := incomingIDs[id]; !ok {
			delete(entries, id)
			removed = append(removed, id)
		}
	}

	if len(added) > 0 || len(removed) > 0 {
		r.emitDevicesChanged(DevicesChanged{UserID: userID, At: time.Now()})
	}
	return added, removed
}

// UpdateDevice replaces a device's endpoint list atomically and emits
// devicesChanged.
func (r *Repository) UpdateDevice(userID, clientID string, deviceID DeviceId, endpoints []Endpoint) error {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entries, ok := us.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: user=%s client=%s device=%s", ErrDeviceNotFound, userID, clientID, deviceID)
	}
	entry, ok := entries[deviceID]
	if !ok {
		return fmt.Errorf("%w: user=%s client=%s device=%s", ErrDeviceNotFound, userID, clientID, deviceID)
	}

	cpy := make([]Endpoint, len(endpoints))
	for i, ep := range endpoints {
		cpy[i] = ep.deepCopy()
	}
	entry.device.Endpoints = cpy

	r.emitDevicesChanged(DevicesChanged{UserID: userID, At: time.Now()})
	return nil
}

// SetAvailable refreshes a device's liveness timestamp and, if the
// available value actually changes, routes through updateState so the
// usual deep-equality and event-emission rules apply.
func (r *Repository) SetAvailable(userID, clientID string, deviceID DeviceId, available bool) error {
	return r.updateStateLocked(userID, clientID, deviceID, nil, map[string]any{"available": available}, true)
}

// UpdateState deep-merges partial into the device's prior properties (under
// endpoints[<id>] when endpointID is set), and emits stateChanged iff the
// resulting state is not deep-equal to the prior state.
func (r *Repository) UpdateState(userID, clientID string, deviceID DeviceId, endpointID *int, partial map[string]any) error {
	return r.updateStateLocked(userID, clientID, deviceID, endpointID, partial, false)
}

func (r *Repository) updateStateLocked(userID, clientID string, deviceID DeviceId, endpointID *int, partial map[string]any, refreshLiveness bool) error {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entries, ok := us.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: user=%s client=%s device=%s", ErrDeviceNotFound, userID, clientID, deviceID)
	}
	entry, ok := entries[deviceID]
	if !ok {
		return fmt.Errorf("%w: user=%s client=%s device=%s", ErrDeviceNotFound, userID, clientID, deviceID)
	}

	if refreshLiveness {
		entry.lastLiveness = time.Now()
		entry.hasLiveness = true
	}

	prev := entry.state.deepCopy()

	merged, err := mergeProperties(entry.state.Properties, endpointID, partial)
	if err != nil {
		return fmt.Errorf("device: merging state: %w", err)
	}

	next := State{Properties: merged}
	if available, ok := merged["available"].(bool); ok {
		next.Available = available
	} else {
		next.Available = prev.Available
	}

	if deepEqualState(prev, next) {
		return nil
	}

	entry.state = next
	r.emitStateChanged(StateChanged{
		UserID:     userID,
		ClientID:   clientID,
		DeviceID:   deviceID,
		EndpointID: endpointID,
		PrevState:  prev,
		NewState:   next.deepCopy(),
		At:         time.Now(),
	})
	return nil
}

// mergeProperties applies an RFC 7396 JSON merge patch of partial onto prior
// (or onto prior["endpoints"][id] when endpointID is set), using
// go-jsonmerge so a partial update only overwrites the keys it names.
func mergeProperties(prior map[string]any, endpointID *int, partial map[string]any) (map[string]any, error) {
	target := prior
	if endpointID != nil {
		key := fmt.Sprintf("%d", *endpointID)
		endpoints, _ := prior["endpoints"].(map[string]any)
		if endpoints == nil {
			endpoints = map[string]any{}
		}
		nested, _ := endpoints[key].(map[string]any)

		merged, err := jsonMergePatch(nested, partial)
		if err != nil {
			return nil, err
		}
		endpoints[key] = merged

		out := deepCopyMap(prior)
		out["endpoints"] = endpoints
		return out, nil
	}

	return jsonMergePatch(target, partial)
}

// jsonMergePatch performs an RFC 7396 merge of patch onto doc via
// go-jsonmerge, marshaling/unmarshaling through the library's byte-oriented
// API.
func jsonMergePatch(doc, patch map[string]any) (map[string]any, error) {
	merger := jsonmerge.Merger{}

	docJSON, err := marshalJSON(doc)
	if err != nil {
		return nil, err
	}
	patchJSON, err := marshalJSON(patch)
	if err != nil {
		return nil, err
	}

	mergedJSON, err := merger.MergeBytes(docJSON, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("jsonmerge: %w", err)
	}

	var merged map[string]any
	if err := unmarshalJSON(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// deepEqualState compares two States structurally. Availability is part of
// Properties (merged in above) so a plain field comparison plus a
// structural properties comparison is sufficient.
func deepEqualState(a, b State) bool {
	if a.Available != b.Available {
		return false
	}
	return deepEqualValue(a.Properties, b.Properties)
}

// ExecuteCommand validates that the device exists, then hands the payload
// to the registered dispatcher for delivery to the owning connection. It
// does not wait for device acknowledgement.
func (r *Repository) ExecuteCommand(userID, clientID string, deviceID DeviceId, endpointID *int, payload map[string]any) error {
	us := r.stateFor(userID)
	us.mu.Lock()
	entries, ok := us.clients[clientID]
	if ok {
		_, ok = entries[deviceID]
	}
	us.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: user=%s client=%s device=%s", ErrDeviceNotFound, userID, clientID, deviceID)
	}

	r.dispatchMu.RLock()
	dispatch := r.dispatch
	r.dispatchMu.RUnlock()
	if dispatch == nil {
		return fmt.Errorf("device: no dispatcher registered for execute command")
	}
	return dispatch(ExecuteCommand{
		UserID:     userID,
		ClientID:   clientID,
		DeviceID:   deviceID,
		EndpointID: endpointID,
		Payload:    payload,
	})
}

// ListUserDevices returns a snapshot of every (clientId, Device) pair owned
// by userID, safe for the caller to read without further locking.
func (r *Repository) ListUserDevices(userID string) []ClientDevice {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	var out []ClientDevice
	for clientID, entries := range us.clients {
		for _, entry := range entries {
			out = append(out, ClientDevice{ClientID: clientID, Device: *entry.device.DeepCopy()})
		}
	}
	return out
}

// GetState returns a snapshot of one device's current state.
func (r *Repository) GetState(userID, clientID string, deviceID DeviceId) (State, bool) {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entries, ok := us.clients[clientID]
	if !ok {
		return State{}, false
	}
	entry, ok := entries[deviceID]
	if !ok {
		return State{}, false
	}
	return entry.state.deepCopy(), true
}

// PurgeClient removes every device and state entry belonging to clientID
// under userID, as happens when its connection closes. Emits
// devicesChanged if anything was actually removed.
func (r *Repository) PurgeClient(userID, clientID string) {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	_, existed := us.clients[clientID]
	delete(us.clients, clientID)

	if existed {
		r.emitDevicesChanged(DevicesChanged{UserID: userID, At: time.Now()})
	}
}

// Run executes the liveness watchdog sweep until ctx is canceled. It is
// designed to be launched as one goroutine inside an errgroup alongside the
// rest of the bridge's long-running components.
func (r *Repository) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep forces available=false for any device whose liveness signal is
// older than the watchdog timeout, exactly once per staleness episode —
// hasLiveness is cleared on trip so a device already marked unavailable
// isn't re-emitted on every subsequent sweep.
func (r *Repository) sweep() {
	r.mu.RLock()
	users := make([]string, 0, len(r.users))
	for userID := range r.users {
		users = append(users, userID)
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, userID := range users {
		r.sweepUser(userID, now)
	}
}

func (r *Repository) sweepUser(userID string, now time.Time) {
	us := r.stateFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	type trip struct {
		clientID   string
		deviceID   DeviceId
		prev, next State
	}
	var trips []trip

	for clientID, entries := range us.clients {
		for deviceID, entry := range entries {
			if !entry.hasLiveness || !entry.state.Available {
				continue
			}
			if now.Sub(entry.lastLiveness) <= r.watchdogTimeout {
				continue
			}

			prev := entry.state.deepCopy()
			merged := deepCopyMap(entry.state.Properties)
			if merged == nil {
				merged = map[string]any{}
			}
			merged["available"] = false
			next := State{Available: false, Properties: merged}

			entry.state = next
			entry.hasLiveness = false
			trips = append(trips, trip{clientID: clientID, deviceID: deviceID, prev: prev, next: next.deepCopy()})
		}
	}

	if len(trips) > 0 {
		r.watchdogTrips.Add(uint64(len(trips)))
	}
	for _, t := range trips {
		r.emitStateChanged(StateChanged{
			UserID:    userID,
			ClientID:  t.clientID,
			DeviceID:  t.deviceID,
			PrevState: t.prev,
			NewState:  t.next,
			At:        now,
		})
	}
}

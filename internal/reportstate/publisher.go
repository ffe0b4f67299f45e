package reportstate

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gateway-bridge/internal/translate"
)

// queueSize bounds the number of pending stateChanged events the publisher
// will buffer before dropping the newest. The listener callback itself must
// never block, so publishing happens off a bounded queue instead.
const queueSize = 256

// MQTTPublisher is the subset of *mqtt.Client the publisher needs.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// TSDBWriter is the subset of *tsdb.Client the publisher needs. A nil
// TSDBWriter disables telemetry writes entirely (InfluxDB is optional).
type TSDBWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// Devices resolves a device's endpoints so the publisher can detect its
// trait set; normally satisfied by *device.Repository.
type Devices interface {
	ListUserDevices(userID string) []device.ClientDevice
}

// Publisher projects stateChanged events into the assistant's trait-state
// shape and publishes them to the bridge's MQTT report-state topics.
type Publisher struct {
	mqtt    MQTTPublisher
	tsdb    TSDBWriter
	devices Devices
	qos     byte
	logger  *logging.Logger

	queue chan device.StateChanged

	successCount atomic.Uint64
	failureCount atomic.Uint64
	droppedCount atomic.Uint64
}

// New builds a Publisher. tsdb may be nil to disable telemetry writes.
func New(mqttClient MQTTPublisher, tsdbClient TSDBWriter, devices Devices, qos byte, logger *logging.Logger) *Publisher {
	return &Publisher{
		mqtt:    mqttClient,
		tsdb:    tsdbClient,
		devices: devices,
		qos:     qos,
		logger:  logger,
		queue:   make(chan device.StateChanged, queueSize),
	}
}

// HandleStateChanged is registered with device.Repository.AddStateChangedListener.
// It never blocks: a full queue drops the event and counts it.
func (p *Publisher) HandleStateChanged(ev device.StateChanged) {
	select {
	case p.queue <- ev:
	default:
		p.droppedCount.Add(1)
		p.logger.Warn("reportstate queue full, dropping event",
			"user_id", ev.UserID, "client_id", ev.ClientID, "device_id", ev.DeviceID)
	}
}

// Run drains the queue and publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			p.publish(ev)
		}
	}
}

// Counts returns the running success/failure/dropped totals, for metrics.
func (p *Publisher) Counts() (success, failure, dropped uint64) {
	return p.successCount.Load(), p.failureCount.Load(), p.droppedCount.Load()
}

func (p *Publisher) publish(ev device.StateChanged) {
	endpoints, ok := p.lookupEndpoints(ev.UserID, ev.ClientID, ev.DeviceID)
	if !ok {
		p.failureCount.Add(1)
		p.logger.Warn("reportstate: device not found for state change",
			"user_id", ev.UserID, "client_id", ev.ClientID, "device_id", ev.DeviceID)
		return
	}

	_, traits, _ := translate.DetectDeviceType(endpoints)
	state := translate.ToTraitState(ev.NewState.Available, traits, ev.NewState.Properties)

	payload, err := json.Marshal(state)
	if err != nil {
		p.failureCount.Add(1)
		p.logger.Error("reportstate: marshal failed", "error", err)
		return
	}

	topic := mqtt.Topics{}.ReportState(ev.UserID, ev.ClientID, string(ev.DeviceID))
	if err := p.mqtt.Publish(topic, payload, p.qos, true); err != nil {
		p.failureCount.Add(1)
		p.logger.Warn("reportstate: publish failed", "topic", topic, "error", err)
		return
	}
	p.successCount.Add(1)

	if p.tsdb != nil {
		p.writeTelemetry(ev, state)
	}
}

func (p *Publisher) lookupEndpoints(userID, clientID string, deviceID device.DeviceId) ([]device.Endpoint, bool) {
	for _, cd := range p.devices.ListUserDevices(userID) {
		if cd.ClientID == clientID && cd.Device.ID == deviceID {
			return cd.Device.Endpoints, true
		}
	}
	return nil, false
}

// writeTelemetry stores the numeric/boolean trait fields as a single point;
// "online" and "status" are carried on every projection and aren't metrics.
func (p *Publisher) writeTelemetry(ev device.StateChanged, state translate.TraitState) {
	fields := make(map[string]interface{}, len(state))
	for k, v := range state {
		if k == "online" || k == "status" {
			continue
		}
		switch v.(type) {
		case float64, int, bool:
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return
	}
	p.tsdb.WritePoint("device_state", map[string]string{
		"user_id":   ev.UserID,
		"device_id": string(ev.DeviceID),
	}, fields)
}

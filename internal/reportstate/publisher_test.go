package reportstate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/config"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

type fakePublish struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

type fakeMQTT struct {
	mu        sync.Mutex
	published []fakePublish
	err       error
	connected bool
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, fakePublish{topic, payload, qos, retained})
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

func (f *fakeMQTT) calls() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakePublish, len(f.published))
	copy(out, f.published)
	return out
}

type fakeTSDB struct {
	mu     sync.Mutex
	points []map[string]interface{}
}

func (f *fakeTSDB) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, fields)
}

type fakeDevices struct {
	devices []device.ClientDevice
}

func (f *fakeDevices) ListUserDevices(userID string) []device.ClientDevice {
	return f.devices
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func lightDevice() device.ClientDevice {
	return device.ClientDevice{
		ClientID: "gateway-7",
		Device: device.Device{
			ID: "light-living",
			Endpoints: []device.Endpoint{
				{ID: 1, Exposes: []string{"light", "brightness"}},
			},
		},
	}
}

func TestPublisher_PublishesProjectedState(t *testing.T) {
	mqttClient := &fakeMQTT{connected: true}
	devices := &fakeDevices{devices: []device.ClientDevice{lightDevice()}}
	p := New(mqttClient, nil, devices, 1, testLogger(t))

	ev := device.StateChanged{
		UserID:   "user-42",
		ClientID: "gateway-7",
		DeviceID: "light-living",
		NewState: device.State{
			Available:  true,
			Properties: map[string]any{"state": "ON", "brightness": 255.0},
		},
		At: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.HandleStateChanged(ev)
	waitForCalls(t, mqttClient, 1)
	cancel()
	<-done

	calls := mqttClient.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(calls))
	}
	if calls[0].topic != "bridge/state/user-42/gateway-7/light-living" {
		t.Errorf("topic = %q", calls[0].topic)
	}
	if !calls[0].retain {
		t.Error("expected retained publish")
	}

	var state map[string]any
	if err := json.Unmarshal(calls[0].payload, &state); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if state["on"] != true {
		t.Errorf("state[on] = %v, want true", state["on"])
	}
	if state["brightness"] != float64(100) {
		t.Errorf("state[brightness] = %v, want 100", state["brightness"])
	}

	success, failure, dropped := p.Counts()
	if success != 1 || failure != 0 || dropped != 0 {
		t.Errorf("counts = (%d,%d,%d), want (1,0,0)", success, failure, dropped)
	}
}

func TestPublisher_UnknownDeviceCountsFailure(t *testing.T) {
	mqttClient := &fakeMQTT{connected: true}
	devices := &fakeDevices{}
	p := New(mqttClient, nil, devices, 1, testLogger(t))

	p.publish(device.StateChanged{
		UserID:   "user-42",
		ClientID: "gateway-7",
		DeviceID: "missing",
		NewState: device.State{Available: true},
	})

	if len(mqttClient.calls()) != 0 {
		t.Fatal("expected no publish for unknown device")
	}
	_, failure, _ := p.Counts()
	if failure != 1 {
		t.Errorf("failure = %d, want 1", failure)
	}
}

func TestPublisher_WritesTelemetryWhenTSDBPresent(t *testing.T) {
	mqttClient := &fakeMQTT{connected: true}
	tsdbClient := &fakeTSDB{}
	devices := &fakeDevices{devices: []device.ClientDevice{lightDevice()}}
	p := New(mqttClient, tsdbClient, devices, 1, testLogger(t))

	p.publish(device.StateChanged{
		UserID:   "user-42",
		ClientID: "gateway-7",
		DeviceID: "light-living",
		NewState: device.State{
			Available:  true,
			Properties: map[string]any{"brightness": 128.0},
		},
	})

	tsdbClient.mu.Lock()
	defer tsdbClient.mu.Unlock()
	if len(tsdbClient.points) != 1 {
		t.Fatalf("expected 1 tsdb point, got %d", len(tsdbClient.points))
	}
	if _, ok := tsdbClient.points[0]["brightness"]; !ok {
		t.Error("expected brightness field in telemetry point")
	}
	if _, ok := tsdbClient.points[0]["online"]; ok {
		t.Error("online should not be written as telemetry")
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	mqttClient := &fakeMQTT{connected: true}
	devices := &fakeDevices{devices: []device.ClientDevice{lightDevice()}}
	p := New(mqttClient, nil, devices, 1, testLogger(t))

	ev := device.StateChanged{UserID: "user-42", ClientID: "gateway-7", DeviceID: "light-living"}
	for i := 0; i < queueSize+10; i++ {
		p.HandleStateChanged(ev)
	}

	_, _, dropped := p.Counts()
	if dropped == 0 {
		t.Error("expected at least one dropped event when queue overflows")
	}
}

func waitForCalls(t *testing.T, m *fakeMQTT, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(m.calls()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d publish calls", n)
}

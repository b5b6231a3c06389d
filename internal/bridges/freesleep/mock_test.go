package freesleep

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/mqtt"
)

// mockCall is one recorded PodClient call.
type mockCall struct {
	Method string
	Args   []any
}

// MockPodClient implements PodClient for testing.
type MockPodClient struct {
	mu    sync.Mutex
	calls []mockCall

	status       device.Status
	statusErr    error
	base         device.Base
	baseErr      error
	vitals       map[device.Side]device.SideVitals
	vitalsErr    error
	settings     device.Settings
	settingsErr  error
	schedules    map[device.Side]map[string]json.RawMessage
	schedulesErr error
	writeErr     error
	version      map[string]any
}

func NewMockPodClient() *MockPodClient {
	return &MockPodClient{
		status: device.Status{
			Left:  device.SideStatus{IsOn: true, TargetTemperatureF: 80, CurrentTemperatureF: 79.5},
			Right: device.SideStatus{TargetTemperatureF: 75, CurrentTemperatureF: 74},
		},
		baseErr: ErrNoBase,
		vitals: map[device.Side]device.SideVitals{
			device.SideLeft:  {HeartRate: floatPtr(58)},
			device.SideRight: {HeartRate: floatPtr(62)},
		},
		settings: device.Settings{BiometricsEnabled: true},
		schedules: map[device.Side]map[string]json.RawMessage{
			device.SideLeft:  {"monday": json.RawMessage(`{"power":{"on":"22:00"}}`)},
			device.SideRight: {},
		},
		version: map[string]any{"version": "2.4.1"},
	}
}

func (m *MockPodClient) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: method, Args: args})
}

// Calls returns the recorded calls named method, or all calls if method is "".
func (m *MockPodClient) Calls(method string) []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockCall
	for _, c := range m.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockPodClient) SetStatusErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

func (m *MockPodClient) SetBase(base device.Base, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base, m.baseErr = base, err
}

func (m *MockPodClient) SetSettings(settings device.Settings, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings, m.settingsErr = settings, err
}

func (m *MockPodClient) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MockPodClient) GetStatus(context.Context) (device.Status, error) {
	m.record("GetStatus")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.statusErr
}

func (m *MockPodClient) UpdateStatus(_ context.Context, update StatusUpdate) error {
	m.record("UpdateStatus", update)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) GetSettings(context.Context) (device.Settings, error) {
	m.record("GetSettings")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.settingsErr
}

func (m *MockPodClient) UpdateSettings(_ context.Context, update SettingsUpdate) error {
	m.record("UpdateSettings", update)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) GetSchedules(context.Context) (map[string]json.RawMessage, map[string]json.RawMessage, error) {
	m.record("GetSchedules")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[device.SideLeft], m.schedules[device.SideRight], m.schedulesErr
}

func (m *MockPodClient) UpdateSchedules(_ context.Context, update ScheduleUpdate) error {
	m.record("UpdateSchedules", update)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) GetBase(context.Context) (device.Base, error) {
	m.record("GetBase")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base, m.baseErr
}

func (m *MockPodClient) SetBasePosition(_ context.Context, head, feet, feedRate int) error {
	m.record("SetBasePosition", head, feet, feedRate)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) SetBasePreset(_ context.Context, preset device.Preset) error {
	m.record("SetBasePreset", preset)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) GetVitalsSummary(_ context.Context, side device.Side) (device.SideVitals, error) {
	m.record("GetVitalsSummary", side)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vitals[side], m.vitalsErr
}

func (m *MockPodClient) SnoozeAlarm(_ context.Context, side device.Side) error {
	m.record("SnoozeAlarm", side)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) DismissPrimeNotification(context.Context) error {
	m.record("DismissPrimeNotification")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeErr
}

func (m *MockPodClient) GetVersion(context.Context) (map[string]any, error) {
	m.record("GetVersion")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, nil
}

// mockReloader implements SettingsReloader for testing.
type mockReloader struct {
	mu        sync.Mutex
	requests  int
	refreshes int
	err       error
}

func (r *mockReloader) RequestSettingsReload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
}

func (r *mockReloader) RefreshSettings(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return r.err
}

func (r *mockReloader) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// LastOn returns the most recent publish on topic.
func (m *MockMQTTClient) LastOn(topic string) (mockPublish, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			return m.published[i], true
		}
	}
	return mockPublish{}, false
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

// SimulateMessage delivers a message through the handler registered for
// pattern, as the broker would for a matching topic.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(topic, payload)
}

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }

func boolPtr(b bool) *bool { return &b }

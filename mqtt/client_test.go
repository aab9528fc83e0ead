package mqtt

import (
	"errors"
	"strings"
	"testing"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"battery-bridge/battery"
	"battery-bridge/vedirect"
)

// MockMQTTClient для тестирования
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqttLib.Token {
	args := m.Called()
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) mqttLib.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqttLib.MessageHandler) mqttLib.Token {
	args := m.Called(filters, callback)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqttLib.Token {
	args := m.Called(topics)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqttLib.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) OptionsReader() mqttLib.ClientOptionsReader {
	args := m.Called()
	return args.Get(0).(mqttLib.ClientOptionsReader)
}

// doneToken завершенный токен с заданной ошибкой
type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }

func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// mockMQTTMessage для MQTT
type mockMQTTMessage struct {
	topic   string
	payload []byte
}

func (m *mockMQTTMessage) Duplicate() bool   { return false }
func (m *mockMQTTMessage) Qos() byte         { return 0 }
func (m *mockMQTTMessage) Retained() bool    { return false }
func (m *mockMQTTMessage) Topic() string     { return m.topic }
func (m *mockMQTTMessage) MessageID() uint16 { return 1 }
func (m *mockMQTTMessage) Payload() []byte   { return m.payload }
func (m *mockMQTTMessage) Ack()              {}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.NotEmpty(t, config.Broker)
	assert.Equal(t, "battery", config.Topic)
	assert.LessOrEqual(t, config.QoS, byte(2))
	assert.True(t, strings.HasPrefix(config.ClientID, "battery-bridge-"))
}

func TestGenerateClientID(t *testing.T) {
	id1 := generateClientID()
	id2 := generateClientID()

	assert.NotEqual(t, id1, id2)
	assert.Len(t, id1, len("battery-bridge-")+8)
}

func TestPublishUsesBaseTopic(t *testing.T) {
	m := &MockMQTTClient{}
	config := DefaultConfig()
	config.Topic = "solar/battery/"
	config.QoS = 1
	config.Retain = true
	m.On("Publish", "solar/battery/voltage", byte(1), true, "12.00").Return(&doneToken{}).Once()

	status, _ := battery.NewShunt()
	c := NewClient(config, status, zap.NewNop(), WithClient(m))
	c.Publish("voltage", "12.00")

	m.AssertExpectations(t)
}

func TestPublishErrorIsLogged(t *testing.T) {
	m := &MockMQTTClient{}
	m.On("Publish", "battery/current", byte(0), false, "1.0").Return(&doneToken{err: errors.New("not connected")})

	status, _ := battery.NewShunt()
	c := NewClient(DefaultConfig(), status, zap.NewNop(), WithClient(m))

	assert.NotPanics(t, func() { c.Publish("current", "1.0") })
}

func TestPublishStatusOnlyWhenValidAndUpdated(t *testing.T) {
	m := &MockMQTTClient{}
	m.On("IsConnected").Return(true)
	m.On("Publish", mock.Anything, byte(0), false, mock.Anything).Return(&doneToken{})

	status, writer := battery.NewShunt()
	c := NewClient(DefaultConfig(), status, zap.NewNop(), WithClient(m))

	assert.False(t, c.PublishStatus(), "invalid status is not published")
	m.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	writer.UpdateFrom(vedirect.ShuntRecord{Voltage: 12.5, StateOfCharge: 70, StateOfChargePresent: true})
	require.True(t, c.PublishStatus())
	m.AssertCalled(t, "Publish", "battery/voltage", byte(0), false, "12.50")
	m.AssertCalled(t, "Publish", "battery/stateOfCharge", byte(0), false, "70.0")

	calls := len(m.Calls)
	assert.False(t, c.PublishStatus(), "nothing changed since last publish")
	assert.Len(t, m.Calls, calls+1) // только IsConnected
}

func TestPublishStatusSkippedWhenDisconnected(t *testing.T) {
	m := &MockMQTTClient{}
	m.On("IsConnected").Return(false)

	status, writer := battery.NewShunt()
	writer.UpdateFrom(vedirect.ShuntRecord{StateOfCharge: 70, StateOfChargePresent: true})
	c := NewClient(DefaultConfig(), status, zap.NewNop(), WithClient(m))

	assert.False(t, c.PublishStatus())
	m.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOnConnectSubscribesToDataPoints(t *testing.T) {
	m := &MockMQTTClient{}
	config := DefaultConfig()
	config.DataPointsTopic = "jkbms/datapoints"
	config.PublishInterval = time.Hour
	m.On("Subscribe", "jkbms/datapoints", byte(0), mock.Anything).Return(&doneToken{}).Once()
	m.On("IsConnected").Return(false)

	var received [][]byte
	status, _ := battery.NewUartBms()
	c := NewClient(config, status, zap.NewNop(), WithClient(m), WithDataPointsHandler(func(p []byte) {
		received = append(received, p)
	}))

	c.onConnectHandler(m)
	c.onDataPointsReceived(m, &mockMQTTMessage{topic: "jkbms/datapoints", payload: []byte(`{"BatterySoCPercent": 50}`)})

	require.Len(t, received, 1)
	assert.JSONEq(t, `{"BatterySoCPercent": 50}`, string(received[0]))
	m.AssertExpectations(t)

	require.NoError(t, c.Stop())
}

func TestStartConnectError(t *testing.T) {
	m := &MockMQTTClient{}
	m.On("Connect").Return(&doneToken{err: errors.New("connection refused")})

	status, _ := battery.NewShunt()
	c := NewClient(DefaultConfig(), status, zap.NewNop(), WithClient(m))

	err := c.Start()
	assert.ErrorContains(t, err, "connection refused")
}

// pendingToken токен, который не завершается
type pendingToken struct {
	waited []time.Duration
}

func (t *pendingToken) Wait() bool { select {} }

func (t *pendingToken) WaitTimeout(d time.Duration) bool {
	t.waited = append(t.waited, d)
	return false
}

func (t *pendingToken) Done() <-chan struct{} { return make(chan struct{}) }
func (t *pendingToken) Error() error          { return nil }

func TestPublishWaitIsBounded(t *testing.T) {
	m := &MockMQTTClient{}
	token := &pendingToken{}
	m.On("Publish", "battery/voltage", byte(0), false, "12.00").Return(token)

	config := DefaultConfig()
	config.ConnectTimeout = 20 * time.Millisecond
	status, _ := battery.NewShunt()
	c := NewClient(config, status, zap.NewNop(), WithClient(m))

	c.Publish("voltage", "12.00")
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, token.waited)

	config.ConnectTimeout = 0
	c = NewClient(config, status, zap.NewNop(), WithClient(m))
	c.Publish("voltage", "12.00")
	assert.Equal(t, defaultPublishTimeout, token.waited[1])
}

package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"battery-bridge/battery"
	"battery-bridge/common"
	"battery-bridge/metrics"
)

const defaultPublishTimeout = 10 * time.Second

// Config представляет конфигурацию MQTT клиента
type Config struct {
	Broker          string        `mapstructure:"broker"`           // Адрес брокера, например "tcp://localhost:1883"
	Username        string        `mapstructure:"username"`         // Имя пользователя (опционально)
	Password        string        `mapstructure:"password"`         // Пароль (опционально)
	ClientID        string        `mapstructure:"client_id"`        // ID клиента (опционально, генерируется если пустой)
	Topic           string        `mapstructure:"topic"`            // Базовый топик состояния батареи
	DataPointsTopic string        `mapstructure:"datapoints_topic"` // Топик точек данных JK BMS от внешнего декодера
	QoS             byte          `mapstructure:"qos"`              // Quality of Service (0, 1, 2)
	Retain          bool          `mapstructure:"retain"`           // Флаг retain для публикаций
	KeepAlive       int           `mapstructure:"keep_alive"`       // Интервал keep alive в секундах
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`  // Таймаут подключения
	AutoReconnect   bool          `mapstructure:"auto_reconnect"`   // Автоматическое переподключение
	PublishInterval time.Duration `mapstructure:"publish_interval"` // Период публикации состояния

	// Интервал полной публикации для источников с инкрементальной публикацией
	FullPublishInterval time.Duration `mapstructure:"full_publish_interval"`
}

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return "battery-bridge-" + hex.EncodeToString(bytes)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Broker:          "tcp://localhost:1883",
		ClientID:        generateClientID(),
		Topic:           "battery",
		QoS:             0,
		KeepAlive:       60,
		ConnectTimeout:  10 * time.Second,
		AutoReconnect:   true,
		PublishInterval: 5 * time.Second,

		FullPublishInterval: time.Minute,
	}
}

// Option настройка клиента
type Option func(*Client)

// WithDataPointsHandler задает обработчик сообщений топика DataPointsTopic
func WithDataPointsHandler(fn func(payload []byte)) Option {
	return func(c *Client) { c.onDataPoints = fn }
}

// WithClient подставляет готовый клиент paho (для тестов)
func WithClient(client mqttLib.Client) Option {
	return func(c *Client) { c.mqttClient = client }
}

// Client публикует состояние батареи в MQTT и реализует common.PublishSink
type Client struct {
	config       Config
	mqttClient   mqttLib.Client
	status       battery.Status
	onDataPoints func(payload []byte)
	logger       *zap.Logger

	stopChan    chan struct{}
	loopOnce    sync.Once
	wg          sync.WaitGroup
	publishMu   sync.Mutex
	lastPublish time.Time
}

var _ common.PublishSink = (*Client)(nil)

// NewClient создает нового MQTT клиента для публикации status
func NewClient(config Config, status battery.Status, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		config:   config,
		status:   status,
		logger:   logger.Named("mqtt"),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start подключается к брокеру
func (c *Client) Start() error {
	c.logger.Info("Starting MQTT client", zap.String("broker", c.config.Broker))

	if c.mqttClient == nil {
		opts := mqttLib.NewClientOptions()
		opts.AddBroker(c.config.Broker)
		opts.SetClientID(c.config.ClientID)
		opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
		opts.SetConnectTimeout(c.config.ConnectTimeout)
		opts.SetAutoReconnect(c.config.AutoReconnect)

		if c.config.Username != "" && c.config.Password != "" {
			opts.SetUsername(c.config.Username)
			opts.SetPassword(c.config.Password)
			c.logger.Info("MQTT authentication enabled")
		} else {
			c.logger.Info("MQTT authentication disabled (anonymous mode)")
		}

		opts.SetOnConnectHandler(c.onConnectHandler)
		opts.SetConnectionLostHandler(c.onConnectionLostHandler)
		opts.SetReconnectingHandler(c.onReconnectingHandler)

		c.mqttClient = mqttLib.NewClient(opts)
	}

	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client started")
	return nil
}

// Stop останавливает публикацию и отключается от брокера
func (c *Client) Stop() error {
	c.logger.Info("Stopping MQTT client")

	close(c.stopChan)
	c.wg.Wait()

	if c.mqttClient != nil && c.mqttClient.IsConnected() {
		c.mqttClient.Disconnect(1000)
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

// onConnectHandler вызывается при каждом подключении к брокеру
func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Info("Connected to MQTT broker")

	if c.config.DataPointsTopic != "" && c.onDataPoints != nil {
		if token := client.Subscribe(c.config.DataPointsTopic, c.config.QoS, c.onDataPointsReceived); token.Wait() && token.Error() != nil {
			c.logger.Error("Failed to subscribe", zap.String("topic", c.config.DataPointsTopic), zap.Error(token.Error()))
		} else {
			c.logger.Info("Subscribed to data points topic", zap.String("topic", c.config.DataPointsTopic))
		}
	}

	// Цикл публикации запускается один раз, переподключения его не дублируют
	c.loopOnce.Do(func() {
		c.wg.Add(1)
		go c.publishLoop()
	})
}

func (c *Client) onConnectionLostHandler(client mqttLib.Client, err error) {
	c.logger.Warn("Connection lost", zap.Error(err))
}

func (c *Client) onReconnectingHandler(client mqttLib.Client, opts *mqttLib.ClientOptions) {
	c.logger.Info("Attempting to reconnect to MQTT broker")
}

// onDataPointsReceived передает сообщение внешнего декодера в путь приема
func (c *Client) onDataPointsReceived(client mqttLib.Client, msg mqttLib.Message) {
	c.logger.Debug("Received data points", zap.String("topic", msg.Topic()), zap.Int("bytes", len(msg.Payload())))
	c.onDataPoints(msg.Payload())
}

// publishLoop периодически публикует состояние
func (c *Client) publishLoop() {
	defer c.wg.Done()
	c.logger.Debug("Starting publish loop", zap.Duration("interval", c.config.PublishInterval))

	ticker := time.NewTicker(c.config.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			c.logger.Debug("Publish loop stopped")
			return
		case <-ticker.C:
			c.PublishStatus()
		}
	}
}

// PublishStatus публикует состояние, если оно действительно и обновилось
// после предыдущей публикации. Возвращает true, если публикация была.
func (c *Client) PublishStatus() bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	if !c.IsConnected() || !c.status.IsValid() || !c.status.UpdatedSince(c.lastPublish) {
		return false
	}

	c.lastPublish = time.Now()
	c.status.Publish(c)

	switch c.status.(type) {
	case *battery.UartBmsStatus:
		// учитывается наблюдателем публикаций UART BMS
	case *battery.CanPackStatus, *battery.ShuntStatus:
		metrics.PublishesTotal.WithLabelValues("full").Inc()
	}
	return true
}

// Publish реализует common.PublishSink
func (c *Client) Publish(subtopic, payload string) {
	topic := strings.TrimSuffix(c.config.Topic, "/") + "/" + subtopic

	token := c.mqttClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !token.WaitTimeout(c.publishTimeout()) {
		c.logger.Warn("Publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
		return
	}
	metrics.MessagesPublished.Inc()
}

// publishTimeout ожидание подтверждения одной публикации
func (c *Client) publishTimeout() time.Duration {
	if c.config.ConnectTimeout > 0 {
		return c.config.ConnectTimeout
	}
	return defaultPublishTimeout
}

// IsConnected возвращает true если клиент подключен к брокеру
func (c *Client) IsConnected() bool {
	return c.mqttClient != nil && c.mqttClient.IsConnected()
}

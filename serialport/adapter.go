package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// Config конфигурация последовательного порта шунта
type Config struct {
	Device            string        `mapstructure:"device"`             // Путь к устройству, например "/dev/ttyUSB0"
	Baud              int           `mapstructure:"baud"`               // Скорость, для VE.Direct 19200
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`       // Таймаут на чтение
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"` // Интервал переподключения при ошибках
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Device:            "/dev/ttyUSB0",
		Baud:              19200,
		ReadTimeout:       time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// Opener открывает порт
type Opener func(Config) (io.ReadCloser, error)

// OpenSerial открывает порт 8N1 через tarm/serial
func OpenSerial(config Config) (io.ReadCloser, error) {
	if _, err := os.Stat(config.Device); os.IsNotExist(err) {
		return nil, fmt.Errorf("device %s does not exist", config.Device)
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        config.Device,
		Baud:        config.Baud,
		ReadTimeout: config.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Device, err)
	}
	return port, nil
}

// Option настройка адаптера
type Option func(*Adapter)

// WithOpener подменяет способ открытия порта
func WithOpener(open Opener) Option {
	return func(a *Adapter) { a.open = open }
}

// WithConnectHook вызывается из цикла чтения перед первым чтением каждого
// нового соединения
func WithConnectHook(fn func()) Option {
	return func(a *Adapter) { a.onConnect = fn }
}

// Adapter читает байты из порта и передает их в sink, переподключаясь при ошибках
type Adapter struct {
	config    Config
	open      Opener
	sink      io.Writer
	onConnect func()
	logger    *zap.Logger

	conn      io.ReadCloser
	connMutex sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewAdapter создает адаптер. sink получает сырые байты в порядке приема.
func NewAdapter(config Config, sink io.Writer, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		config:   config,
		open:     OpenSerial,
		sink:     sink,
		logger:   logger.Named("serial"),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start запускает работу адаптера
func (a *Adapter) Start() error {
	a.logger.Info("Starting serial adapter", zap.String("device", a.config.Device), zap.Int("baud", a.config.Baud))

	a.wg.Add(1)
	go a.readLoop()

	a.wg.Add(1)
	go a.reconnectLoop()

	return nil
}

// Stop останавливает работу адаптера
func (a *Adapter) Stop() error {
	a.logger.Info("Stopping serial adapter")
	close(a.stopChan)
	// Закрытие порта прерывает блокирующее чтение
	a.closeConnection()
	a.wg.Wait()
	a.logger.Info("Serial adapter stopped")
	return nil
}

// IsConnected проверяет, открыт ли порт
func (a *Adapter) IsConnected() bool {
	a.connMutex.RLock()
	defer a.connMutex.RUnlock()
	return a.conn != nil
}

func (a *Adapter) getConnection() io.ReadCloser {
	a.connMutex.RLock()
	defer a.connMutex.RUnlock()
	return a.conn
}

func (a *Adapter) closeConnection() {
	a.connMutex.Lock()
	defer a.connMutex.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
		a.logger.Info("Serial connection closed")
	}
}

func (a *Adapter) stopped() bool {
	select {
	case <-a.stopChan:
		return true
	default:
		return false
	}
}

// connect открывает порт
func (a *Adapter) connect() error {
	conn, err := a.open(a.config)
	if err != nil {
		return err
	}

	a.connMutex.Lock()
	if a.stopped() {
		a.connMutex.Unlock()
		conn.Close()
		return nil
	}
	a.conn = conn
	a.connMutex.Unlock()

	a.logger.Info("Serial connection established", zap.String("device", a.config.Device))
	return nil
}

// wait ждет d или остановки; возвращает false при остановке
func (a *Adapter) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-a.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// readLoop читает данные из порта
func (a *Adapter) readLoop() {
	defer a.wg.Done()
	a.logger.Debug("Starting serial read loop")

	buf := make([]byte, 256)
	var current io.ReadCloser
	for !a.stopped() {
		conn := a.getConnection()
		if conn == nil {
			if !a.wait(a.config.ReconnectInterval) {
				break
			}
			continue
		}
		if conn != current {
			current = conn
			if a.onConnect != nil {
				a.onConnect()
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			a.sink.Write(buf[:n])
		}
		if err == nil {
			continue
		}
		// Таймаут чтения tarm/serial возвращает io.EOF без данных
		if errors.Is(err, io.EOF) {
			continue
		}
		if a.stopped() {
			break
		}
		a.logger.Warn("Serial read error", zap.Error(err))
		a.closeConnection()
	}
	a.logger.Debug("Serial read loop stopped")
}

// reconnectLoop управляет переподключением при ошибках
func (a *Adapter) reconnectLoop() {
	defer a.wg.Done()

	if err := a.connect(); err != nil {
		a.logger.Warn("Initial connection failed", zap.Error(err))
	}

	ticker := time.NewTicker(a.config.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			a.logger.Debug("Reconnect loop stopped")
			return
		case <-ticker.C:
			if !a.IsConnected() {
				a.logger.Info("Attempting to reconnect", zap.String("device", a.config.Device))
				if err := a.connect(); err != nil {
					a.logger.Warn("Reconnection failed", zap.Error(err))
				}
			}
		}
	}
}

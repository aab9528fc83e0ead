package battery

import (
	"strconv"
	"sync"
	"time"

	"battery-bridge/common"
)

// Kind вариант источника данных батареи
type Kind uint8

const (
	KindCanPack Kind = iota + 1
	KindUartBms
	KindShunt
)

func (k Kind) String() string {
	switch k {
	case KindCanPack:
		return "can_pack"
	case KindUartBms:
		return "uart_bms"
	case KindShunt:
		return "shunt"
	default:
		return "unknown"
	}
}

// Status общий контракт состояния батареи. Реализуется только
// *CanPackStatus, *UartBmsStatus и *ShuntStatus; код, которому нужны
// особенности варианта, использует type switch по этим трем типам.
type Status interface {
	Kind() Kind
	Manufacturer() string
	StateOfCharge() float64

	// IsValid true, когда оба момента обновления выставлены хотя бы раз
	IsValid() bool
	// Age и StateOfChargeAge имеют смысл только при IsValid() == true
	Age() time.Duration
	StateOfChargeAge() time.Duration
	UpdatedSince(t time.Time) bool

	ExportFields(sink common.ExportSink)
	Publish(sink common.PublishSink)

	sealed()
}

var (
	_ Status = (*CanPackStatus)(nil)
	_ Status = (*UartBmsStatus)(nil)
	_ Status = (*ShuntStatus)(nil)
)

type options struct {
	now                 func() time.Time
	fullPublishInterval time.Duration
	retain              bool
	onPublish           func(full bool)
}

// Option настройка состояния батареи
type Option func(*options)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFullPublishInterval задает интервал полной публикации (только UART BMS)
func WithFullPublishInterval(d time.Duration) Option {
	return func(o *options) { o.fullPublishInterval = d }
}

// WithRetain сообщает, что брокер хранит сообщения; полная публикация
// тогда не повторяется (только UART BMS)
func WithRetain(retain bool) Option {
	return func(o *options) { o.retain = retain }
}

// WithPublishObserver вызывается после каждой публикации UART BMS
func WithPublishObserver(fn func(full bool)) Option {
	return func(o *options) { o.onPublish = fn }
}

func newOptions(opts []Option) options {
	o := options{
		now:                 time.Now,
		fullPublishInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// base общая часть всех вариантов: производитель, SoC и два момента обновления
type base struct {
	now func() time.Time

	mu            sync.RWMutex
	manufacturer  string
	soc           float64
	lastUpdate    time.Time
	lastUpdateSoC time.Time
}

func newBase(o options) base {
	return base{now: o.now, manufacturer: "unknown"}
}

func (b *base) sealed() {}

func (b *base) Manufacturer() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.manufacturer
}

func (b *base) StateOfCharge() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.soc
}

func (b *base) IsValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.lastUpdate.IsZero() && !b.lastUpdateSoC.IsZero()
}

func (b *base) Age() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now().Sub(b.lastUpdate)
}

func (b *base) StateOfChargeAge() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now().Sub(b.lastUpdateSoC)
}

func (b *base) UpdatedSince(t time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate.After(t)
}

// exportCommon вызывается под b.mu
func (b *base) exportCommon(sink common.ExportSink) {
	sink.Text("manufacturer", b.manufacturer)
	sink.Value("dataAge", b.now().Sub(b.lastUpdate).Seconds(), "s", 0)
	sink.Value("SoC", b.soc, "%", 1)
}

// publishCommon вызывается под b.mu
func (b *base) publishCommon(sink common.PublishSink) {
	sink.Publish("manufacturer", b.manufacturer)
	sink.Publish("dataAge", strconv.FormatInt(int64(b.now().Sub(b.lastUpdate)/time.Second), 10))
	sink.Publish("stateOfCharge", formatFloat(b.soc, 1))
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

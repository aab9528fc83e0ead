package battery

import "battery-bridge/common"

// PackFlags набор аварий или предупреждений CAN-батареи
type PackFlags struct {
	HighCurrentDischarge bool
	HighCurrentCharge    bool
	LowTemperature       bool
	HighTemperature      bool
	LowVoltage           bool
	HighVoltage          bool
	BmsInternal          bool
}

// Any true, если выставлен хотя бы один флаг
func (f PackFlags) Any() bool {
	return f.HighCurrentDischarge || f.HighCurrentCharge || f.LowTemperature ||
		f.HighTemperature || f.LowVoltage || f.HighVoltage || f.BmsInternal
}

type packFlag struct {
	alarm   string // имя поля экспорта для аварии
	warning string // имя поля экспорта для предупреждения
	topic   string
	get     func(PackFlags) bool
}

var packFlags = []packFlag{
	{"alarmOverCurrentDischarge", "warningHighCurrentDischarge", "overCurrentDischarge", func(f PackFlags) bool { return f.HighCurrentDischarge }},
	{"alarmOverCurrentCharge", "warningHighCurrentCharge", "overCurrentCharge", func(f PackFlags) bool { return f.HighCurrentCharge }},
	{"alarmUnderTemperature", "warningLowTemperature", "underTemperature", func(f PackFlags) bool { return f.LowTemperature }},
	{"alarmOverTemperature", "warningHighTemperature", "overTemperature", func(f PackFlags) bool { return f.HighTemperature }},
	{"alarmUnderVoltage", "warningLowVoltage", "underVoltage", func(f PackFlags) bool { return f.LowVoltage }},
	{"alarmOverVoltage", "warningHighVoltage", "overVoltage", func(f PackFlags) bool { return f.HighVoltage }},
	{"alarmBmsInternal", "warningBmsInternal", "bmsInternal", func(f PackFlags) bool { return f.BmsInternal }},
}

// CanPackData значения, собранные из CAN-кадров батареи. Поля без
// собственного Has* заполняются накопительно декодером кадров.
type CanPackData struct {
	Manufacturer string

	HasSoC        bool // обновление несет SoC (кадр 0x355)
	StateOfCharge float64
	StateOfHealth float64

	ChargeVoltage         float64 // В
	ChargeCurrentLimit    float64 // А
	DischargeCurrentLimit float64 // А

	Voltage     float64 // В
	Current     float64 // А
	Temperature float64 // °C

	Alarms   PackFlags
	Warnings PackFlags

	ChargeEnabled     bool
	DischargeEnabled  bool
	ChargeImmediately bool
}

// CanPackStatus состояние батареи, подключенной по CAN
type CanPackStatus struct {
	base
	data CanPackData
}

// CanPackWriter право на изменение CanPackStatus; есть только у пути приема
type CanPackWriter struct {
	s *CanPackStatus
}

// NewCanPack создает состояние CAN-батареи и его writer
func NewCanPack(opts ...Option) (*CanPackStatus, *CanPackWriter) {
	s := &CanPackStatus{base: newBase(newOptions(opts))}
	return s, &CanPackWriter{s: s}
}

// UpdateFrom применяет очередной набор значений целиком
func (w *CanPackWriter) UpdateFrom(d CanPackData) {
	s := w.s
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = d
	if d.Manufacturer != "" {
		s.manufacturer = d.Manufacturer
	}
	if d.HasSoC {
		s.soc = d.StateOfCharge
		s.lastUpdateSoC = now
	}
	s.lastUpdate = now
}

func (s *CanPackStatus) Kind() Kind { return KindCanPack }

// Data копия последних значений
func (s *CanPackStatus) Data() CanPackData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *CanPackStatus) ExportFields(sink common.ExportSink) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.exportCommon(sink)
	d := s.data
	sink.Value("chargeVoltage", d.ChargeVoltage, "V", 1)
	sink.Value("chargeCurrentLimitation", d.ChargeCurrentLimit, "A", 1)
	sink.Value("dischargeCurrentLimitation", d.DischargeCurrentLimit, "A", 1)
	sink.Value("stateOfHealth", d.StateOfHealth, "%", 0)
	sink.Value("voltage", d.Voltage, "V", 2)
	sink.Value("current", d.Current, "A", 1)
	sink.Value("temperature", d.Temperature, "°C", 1)
	sink.Text("chargeEnabled", yesNo(d.ChargeEnabled))
	sink.Text("dischargeEnabled", yesNo(d.DischargeEnabled))
	sink.Text("chargeImmediately", yesNo(d.ChargeImmediately))

	for _, f := range packFlags {
		sink.Alarm(f.alarm, f.get(d.Alarms))
	}
	for _, f := range packFlags {
		sink.Warning(f.warning, f.get(d.Warnings))
	}
}

func (s *CanPackStatus) Publish(sink common.PublishSink) {
	out := &common.Topics{}
	s.collect(out)
	out.Flush(sink)
}

func (s *CanPackStatus) collect(sink common.PublishSink) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.publishCommon(sink)
	d := s.data
	sink.Publish("settings/chargeVoltage", formatFloat(d.ChargeVoltage, 1))
	sink.Publish("settings/chargeCurrentLimitation", formatFloat(d.ChargeCurrentLimit, 1))
	sink.Publish("settings/dischargeCurrentLimitation", formatFloat(d.DischargeCurrentLimit, 1))
	sink.Publish("stateOfHealth", formatFloat(d.StateOfHealth, 0))
	sink.Publish("voltage", formatFloat(d.Voltage, 2))
	sink.Publish("current", formatFloat(d.Current, 1))
	sink.Publish("temperature", formatFloat(d.Temperature, 1))

	for _, f := range packFlags {
		sink.Publish("alarm/"+f.topic, formatBool(f.get(d.Alarms)))
	}
	for _, f := range packFlags {
		sink.Publish("warning/"+f.topic, formatBool(f.get(d.Warnings)))
	}

	sink.Publish("charging/chargeEnabled", formatBool(d.ChargeEnabled))
	sink.Publish("charging/dischargeEnabled", formatBool(d.DischargeEnabled))
	sink.Publish("charging/chargeImmediately", formatBool(d.ChargeImmediately))
}

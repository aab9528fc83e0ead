package battery

import (
	"battery-bridge/common"
	"battery-bridge/vedirect"
)

// Биты поля AR шунта
const (
	shuntAlarmLowVoltage      = 1 << 0
	shuntAlarmHighVoltage     = 1 << 1
	shuntAlarmLowSoC          = 1 << 2
	shuntAlarmLowTemperature  = 1 << 5
	shuntAlarmHighTemperature = 1 << 6
)

var shuntAlarms = []struct {
	bit   uint32
	name  string
	topic string
}{
	{shuntAlarmLowVoltage, "alarmLowVoltage", "lowVoltage"},
	{shuntAlarmHighVoltage, "alarmHighVoltage", "highVoltage"},
	{shuntAlarmLowSoC, "alarmLowSOC", "lowSOC"},
	{shuntAlarmLowTemperature, "alarmLowTemperature", "lowTemperature"},
	{shuntAlarmHighTemperature, "alarmHighTemperature", "highTemperature"},
}

type shuntSnapshot struct {
	modelName          string
	voltage            float64
	current            float64
	power              int32
	consumedAmpHours   float64
	chargeCycles       int32
	chargedEnergy      float64 // кВт·ч
	dischargedEnergy   float64 // кВт·ч
	timeToGo           int32   // минуты
	temperature        int32
	temperaturePresent bool
	midpointVoltage    float64
	midpointDeviation  float64
	alarmReason        uint32
}

// ShuntStatus состояние батареи по данным шунта
type ShuntStatus struct {
	base
	data shuntSnapshot
}

// ShuntWriter право на изменение ShuntStatus
type ShuntWriter struct {
	s *ShuntStatus
}

// NewShunt создает состояние шунта и его writer
func NewShunt(opts ...Option) (*ShuntStatus, *ShuntWriter) {
	s := &ShuntStatus{base: newBase(newOptions(opts))}
	return s, &ShuntWriter{s: s}
}

// UpdateFrom применяет подтвержденную запись шунта. SoC и его момент
// меняются только кадрами, содержащими поле SOC.
func (w *ShuntWriter) UpdateFrom(rec vedirect.ShuntRecord) {
	snap := shuntSnapshot{
		modelName:          rec.ModelName(),
		voltage:            rec.Voltage,
		current:            rec.Current,
		power:              rec.Power,
		consumedAmpHours:   rec.ConsumedAmpHours,
		chargeCycles:       rec.H4,
		chargedEnergy:      rec.H18,
		dischargedEnergy:   rec.H17,
		timeToGo:           rec.TimeToGo,
		temperature:        rec.Temperature,
		temperaturePresent: rec.TemperaturePresent,
		midpointVoltage:    rec.MidpointVoltage,
		midpointDeviation:  rec.MidpointDeviation,
		alarmReason:        rec.AlarmReason,
	}

	s := w.s
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = snap
	s.manufacturer = "Victron " + snap.modelName
	if rec.StateOfChargePresent {
		s.soc = rec.StateOfCharge
		s.lastUpdateSoC = now
	}
	s.lastUpdate = now
}

func (s *ShuntStatus) Kind() Kind { return KindShunt }

// alarm вызывается под s.mu
func (s *ShuntStatus) alarm(bit uint32) bool {
	return s.data.alarmReason&bit != 0
}

func (s *ShuntStatus) ExportFields(sink common.ExportSink) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.exportCommon(sink)
	d := s.data
	sink.Value("voltage", d.voltage, "V", 2)
	sink.Value("current", d.current, "A", 1)
	sink.Value("instantaneousPower", float64(d.power), "W", 0)
	sink.Value("consumedAmpHours", d.consumedAmpHours, "Ah", 3)
	sink.Value("chargeCycles", float64(d.chargeCycles), "", 0)
	sink.Value("chargedEnergy", d.chargedEnergy, "kWh", 1)
	sink.Value("dischargedEnergy", d.dischargedEnergy, "kWh", 1)
	sink.Value("midpointVoltage", d.midpointVoltage, "V", 2)
	sink.Value("midpointDeviation", d.midpointDeviation, "%", 1)
	sink.Value("timeToGo", float64(d.timeToGo), "min", 0)
	if d.temperaturePresent {
		sink.Value("temperature", float64(d.temperature), "°C", 0)
	}

	for _, a := range shuntAlarms {
		sink.Alarm(a.name, s.alarm(a.bit))
	}
}

// Publish снимает значения под блокировкой и отдает их в sink уже без нее
func (s *ShuntStatus) Publish(sink common.PublishSink) {
	out := &common.Topics{}
	s.collect(out)
	out.Flush(sink)
}

func (s *ShuntStatus) collect(sink common.PublishSink) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.publishCommon(sink)
	d := s.data
	sink.Publish("voltage", formatFloat(d.voltage, 2))
	sink.Publish("current", formatFloat(d.current, 1))
	sink.Publish("instantaneousPower", formatFloat(float64(d.power), 0))
	sink.Publish("consumedAmpHours", formatFloat(d.consumedAmpHours, 3))
	sink.Publish("chargeCycles", formatFloat(float64(d.chargeCycles), 0))
	sink.Publish("chargedEnergy", formatFloat(d.chargedEnergy, 1))
	sink.Publish("dischargedEnergy", formatFloat(d.dischargedEnergy, 1))
	sink.Publish("midpointVoltage", formatFloat(d.midpointVoltage, 2))
	sink.Publish("midpointDeviation", formatFloat(d.midpointDeviation, 1))
	sink.Publish("timeToGo", formatFloat(float64(d.timeToGo), 0))
	if d.temperaturePresent {
		sink.Publish("temperature", formatFloat(float64(d.temperature), 0))
	}

	for _, a := range shuntAlarms {
		sink.Publish("alarm/"+a.topic, formatBool(s.alarm(a.bit)))
	}
}

package battery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"battery-bridge/common"
	"battery-bridge/jkbms"
)

// Поля аварий JK BMS, которые выводятся как предупреждения
var uartWarningBits = map[string]bool{
	"lowCapacity":           true,
	"cellVoltageDifference": true,
}

type cellStats struct {
	present   bool
	min       uint16
	avg       uint16
	max       uint16
	timestamp time.Time
}

func (c cellStats) diff() uint16 { return c.max - c.min }

func computeCellStats(cells jkbms.CellVoltages) (cellStats, bool) {
	if len(cells) == 0 {
		return cellStats{}, false
	}
	st := cellStats{present: true, min: ^uint16(0)}
	var sum uint32
	for _, mv := range cells {
		if mv < st.min {
			st.min = mv
		}
		if mv > st.max {
			st.max = mv
		}
		sum += uint32(mv)
	}
	st.avg = uint16(sum / uint32(len(cells)))
	return st, true
}

// UartBmsStatus состояние батареи по данным JK BMS (UART)
type UartBmsStatus struct {
	base

	points jkbms.DataPointContainer
	cells  cellStats

	fullPublishInterval time.Duration
	retain              bool
	onPublish           func(full bool)

	pubMu           sync.Mutex
	lastPublish     time.Time
	lastFullPublish time.Time
}

// UartBmsWriter право на изменение UartBmsStatus
type UartBmsWriter struct {
	s *UartBmsStatus
}

// NewUartBms создает состояние JK BMS и его writer
func NewUartBms(opts ...Option) (*UartBmsStatus, *UartBmsWriter) {
	o := newOptions(opts)
	s := &UartBmsStatus{
		base:                newBase(o),
		fullPublishInterval: o.fullPublishInterval,
		retain:              o.retain,
		onPublish:           o.onPublish,
	}
	return s, &UartBmsWriter{s: s}
}

// UpdateFrom добавляет полученные точки данных к накопленным
func (w *UartBmsWriter) UpdateFrom(dp *jkbms.DataPointContainer) {
	s := w.s
	now := s.now()

	// Новый снимок строится без блокировки; писатель единственный
	s.mu.RLock()
	merged := s.points.Clone()
	cells := s.cells
	s.mu.RUnlock()

	merged.UpdateFrom(dp)

	if v, ok := jkbms.Get[jkbms.CellVoltages](dp, jkbms.CellsMilliVolt); ok {
		if st, ok := computeCellStats(v); ok {
			if !cells.present || st.min != cells.min || st.avg != cells.avg || st.max != cells.max {
				p, _ := dp.Lookup(jkbms.CellsMilliVolt)
				st.timestamp = p.Timestamp
				cells = st
			}
		}
	}

	manufacturer := "JKBMS"
	if id, ok := jkbms.Get[string](&merged, jkbms.ProductID); ok && id != "" {
		manufacturer = id
	}
	soc, hasSoC := dp.Number(jkbms.BatterySoCPercent)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = merged
	s.cells = cells
	s.manufacturer = manufacturer
	if hasSoC {
		s.soc = soc
		s.lastUpdateSoC = now
	}
	s.lastUpdate = now
}

func (s *UartBmsStatus) Kind() Kind { return KindUartBms }

// Points копия накопленных точек данных
func (s *UartBmsStatus) Points() jkbms.DataPointContainer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.points.Clone()
}

func (s *UartBmsStatus) ExportFields(sink common.ExportSink) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.exportCommon(sink)

	number := func(name string, label jkbms.Label, scale float64, unit string, precision int) {
		if v, ok := s.points.Number(label); ok {
			sink.Value(name, v*scale, unit, precision)
		}
	}
	number("voltage", jkbms.BatteryVoltageMilliVolt, 0.001, "V", 2)
	number("current", jkbms.BatteryCurrentMilliAmps, 0.001, "A", 1)
	number("bmsTemperature", jkbms.BmsTempCelsius, 1, "°C", 0)
	number("batteryTemperatureOne", jkbms.BatteryTempOneCelsius, 1, "°C", 0)
	number("batteryTemperatureTwo", jkbms.BatteryTempTwoCelsius, 1, "°C", 0)
	number("chargeCycles", jkbms.BatteryCycles, 1, "", 0)
	number("cycleCapacity", jkbms.BatteryCycleCapacity, 1, "Ah", 0)
	number("actualCapacity", jkbms.ActualBatteryCapacityAmpHours, 1, "Ah", 0)

	if s.cells.present {
		sink.Value("cellMinVoltage", float64(s.cells.min)/1000, "V", 3)
		sink.Value("cellAvgVoltage", float64(s.cells.avg)/1000, "V", 3)
		sink.Value("cellMaxVoltage", float64(s.cells.max)/1000, "V", 3)
		sink.Value("cellDiffVoltage", float64(s.cells.diff()), "mV", 0)
	}

	if status, ok := s.points.Number(jkbms.StatusBitmask); ok {
		bits := uint32(status)
		sink.Text("chargingActive", yesNo(bits&jkbms.StatusChargingActive != 0))
		sink.Text("dischargingActive", yesNo(bits&jkbms.StatusDischargingActive != 0))
		sink.Text("balancingActive", yesNo(bits&jkbms.StatusBalancingActive != 0))
		sink.Text("batteryOnline", yesNo(bits&jkbms.StatusBatteryOnline != 0))
	}

	if alarms, ok := s.points.Number(jkbms.AlarmsBitmask); ok {
		bits := uint32(alarms)
		for _, a := range jkbms.AlarmBits {
			active := bits&(1<<a.Bit) != 0
			if uartWarningBits[a.Name] {
				sink.Warning(a.Name, active)
			} else {
				sink.Alarm(a.Name, active)
			}
		}
	}
}

// ExportInfo выводит все точки данных и напряжения отдельных ячеек
func (s *UartBmsStatus) ExportInfo(sink common.ExportSink) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.exportCommon(sink)
	for _, p := range s.points.Points() {
		if cells, ok := p.Value.(jkbms.CellVoltages); ok {
			for _, n := range sortedCells(cells) {
				sink.Value(fmt.Sprintf("cell%02d", n), float64(cells[n])/1000, "V", 3)
			}
			continue
		}
		if v, ok := s.points.Number(p.Label); ok {
			sink.Value(p.Label.String(), v, "", 0)
		} else {
			sink.Text(p.Label.String(), p.ValueText())
		}
	}
}

// Publish выполняет полную публикацию не чаще fullPublishInterval (и
// никогда при retain); между ними публикуются только точки, полученные
// после предыдущей публикации.
func (s *UartBmsStatus) Publish(sink common.PublishSink) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	now := s.now()
	full := s.lastFullPublish.IsZero() || now.Sub(s.lastFullPublish) >= s.fullPublishInterval
	full = full && !s.retain

	out := &common.Topics{}
	s.mu.RLock()
	s.publishCommon(out)
	for _, p := range s.points.Points() {
		if !full && !p.Timestamp.After(s.lastPublish) {
			continue
		}
		if cells, ok := p.Value.(jkbms.CellVoltages); ok {
			for _, n := range sortedCells(cells) {
				out.Publish(fmt.Sprintf("%s/cell%d", p.Label, n), fmt.Sprint(cells[n]))
			}
			continue
		}
		out.Publish(p.Label.String(), p.ValueText())
	}
	if s.cells.present && (full || s.cells.timestamp.After(s.lastPublish)) {
		out.Publish("CellMinMilliVolt", fmt.Sprint(s.cells.min))
		out.Publish("CellAvgMilliVolt", fmt.Sprint(s.cells.avg))
		out.Publish("CellMaxMilliVolt", fmt.Sprint(s.cells.max))
		out.Publish("CellDiffMilliVolt", fmt.Sprint(s.cells.diff()))
	}
	s.mu.RUnlock()

	// sink вызывается без s.mu
	out.Flush(sink)

	s.lastPublish = now
	if full {
		s.lastFullPublish = now
	}
	if s.onPublish != nil {
		s.onPublish(full)
	}
}

func sortedCells(cells jkbms.CellVoltages) []int {
	keys := make([]int, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

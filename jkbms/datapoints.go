package jkbms

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Label идентификатор точки данных протокола JK BMS
type Label uint8

const (
	BmsTempCelsius Label = iota + 1
	BatteryTempOneCelsius
	BatteryTempTwoCelsius
	BatteryVoltageMilliVolt
	BatteryCurrentMilliAmps
	BatterySoCPercent
	BatteryTemperatureSensorAmount
	BatteryCycles
	BatteryCycleCapacity
	BatteryCellAmount
	CellsMilliVolt
	AlarmsBitmask
	StatusBitmask
	BalancingStartMilliVolt
	CellOvervoltageProtectionMilliVolt
	CellUndervoltageProtectionMilliVolt
	ActualBatteryCapacityAmpHours
	ProductID
	SoftwareVersion
)

// labelNames имена точек; используются как MQTT subtopic
var labelNames = map[Label]string{
	BmsTempCelsius:                      "BmsTempCelsius",
	BatteryTempOneCelsius:               "BatteryTempOneCelsius",
	BatteryTempTwoCelsius:               "BatteryTempTwoCelsius",
	BatteryVoltageMilliVolt:             "BatteryVoltageMilliVolt",
	BatteryCurrentMilliAmps:             "BatteryCurrentMilliAmps",
	BatterySoCPercent:                   "BatterySoCPercent",
	BatteryTemperatureSensorAmount:      "BatteryTemperatureSensorAmount",
	BatteryCycles:                       "BatteryCycles",
	BatteryCycleCapacity:                "BatteryCycleCapacity",
	BatteryCellAmount:                   "BatteryCellAmount",
	CellsMilliVolt:                      "CellsMilliVolt",
	AlarmsBitmask:                       "AlarmsBitmask",
	StatusBitmask:                       "StatusBitmask",
	BalancingStartMilliVolt:             "BalancingStartMilliVolt",
	CellOvervoltageProtectionMilliVolt:  "CellOvervoltageProtectionMilliVolt",
	CellUndervoltageProtectionMilliVolt: "CellUndervoltageProtectionMilliVolt",
	ActualBatteryCapacityAmpHours:       "ActualBatteryCapacityAmpHours",
	ProductID:                           "ProductId",
	SoftwareVersion:                     "SoftwareVersion",
}

func (l Label) String() string {
	if name, exists := labelNames[l]; exists {
		return name
	}
	return "Label(" + strconv.Itoa(int(l)) + ")"
}

// Биты AlarmsBitmask
var AlarmBits = []struct {
	Bit  uint
	Name string
}{
	{0, "lowCapacity"},
	{1, "bmsOverTemperature"},
	{2, "chargingOvervoltage"},
	{3, "dischargeUndervoltage"},
	{4, "batteryOverTemperature"},
	{5, "chargingOvercurrent"},
	{6, "dischargeOvercurrent"},
	{7, "cellVoltageDifference"},
	{8, "batteryBoxOverTemperature"},
	{9, "batteryUnderTemperature"},
	{10, "cellOvervoltage"},
	{11, "cellUndervoltage"},
}

// Биты StatusBitmask
const (
	StatusChargingActive    = 1 << 0
	StatusDischargingActive = 1 << 1
	StatusBalancingActive   = 1 << 2
	StatusBatteryOnline     = 1 << 3
)

// CellVoltages напряжения ячеек в мВ по номеру ячейки (с 1)
type CellVoltages map[int]uint16

// DataPoint одно значение с моментом получения
type DataPoint struct {
	Label     Label
	Value     any
	Timestamp time.Time
}

// ValueText текстовое представление значения для публикации
func (p DataPoint) ValueText() string {
	switch v := p.Value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case CellVoltages:
		return fmt.Sprintf("%d cells", len(v))
	default:
		return fmt.Sprint(v)
	}
}

// DataPointContainer упорядоченный по метке набор разнотипных точек данных.
// Нулевое значение готово к использованию.
type DataPointContainer struct {
	points map[Label]DataPoint
}

// Add добавляет или заменяет точку
func (c *DataPointContainer) Add(label Label, value any, ts time.Time) {
	if c.points == nil {
		c.points = make(map[Label]DataPoint)
	}
	if cells, ok := value.(CellVoltages); ok {
		value = cloneCells(cells)
	}
	c.points[label] = DataPoint{Label: label, Value: value, Timestamp: ts}
}

// Lookup возвращает точку по метке
func (c *DataPointContainer) Lookup(label Label) (DataPoint, bool) {
	p, exists := c.points[label]
	return p, exists
}

// Len количество точек
func (c *DataPointContainer) Len() int {
	return len(c.points)
}

// Points возвращает точки в порядке меток
func (c *DataPointContainer) Points() []DataPoint {
	out := make([]DataPoint, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// UpdateFrom переносит точки из other, заменяя совпадающие по метке
func (c *DataPointContainer) UpdateFrom(other *DataPointContainer) {
	for _, p := range other.points {
		c.Add(p.Label, p.Value, p.Timestamp)
	}
}

// Clone возвращает независимую копию
func (c *DataPointContainer) Clone() DataPointContainer {
	var out DataPointContainer
	out.UpdateFrom(c)
	return out
}

// Number возвращает значение целочисленной или вещественной метки как float64
func (c *DataPointContainer) Number(label Label) (float64, bool) {
	p, exists := c.points[label]
	if !exists {
		return 0, false
	}
	switch v := p.Value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Get возвращает значение метки, если оно есть и имеет тип T
func Get[T any](c *DataPointContainer, label Label) (T, bool) {
	var zero T
	p, exists := c.points[label]
	if !exists {
		return zero, false
	}
	v, ok := p.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

func cloneCells(in CellVoltages) CellVoltages {
	out := make(CellVoltages, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

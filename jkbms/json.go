package jkbms

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// valueKind тип значения точки в JSON-сообщении внешнего декодера
type valueKind uint8

const (
	kindInt16 valueKind = iota
	kindInt32
	kindUint8
	kindUint16
	kindUint32
	kindString
	kindCells
)

var labelKinds = map[Label]valueKind{
	BmsTempCelsius:                      kindInt16,
	BatteryTempOneCelsius:               kindInt16,
	BatteryTempTwoCelsius:               kindInt16,
	BatteryVoltageMilliVolt:             kindUint32,
	BatteryCurrentMilliAmps:             kindInt32,
	BatterySoCPercent:                   kindUint8,
	BatteryTemperatureSensorAmount:      kindUint8,
	BatteryCycles:                       kindUint16,
	BatteryCycleCapacity:                kindUint32,
	BatteryCellAmount:                   kindUint8,
	CellsMilliVolt:                      kindCells,
	AlarmsBitmask:                       kindUint16,
	StatusBitmask:                       kindUint16,
	BalancingStartMilliVolt:             kindUint16,
	CellOvervoltageProtectionMilliVolt:  kindUint16,
	CellUndervoltageProtectionMilliVolt: kindUint16,
	ActualBatteryCapacityAmpHours:       kindUint32,
	ProductID:                           kindString,
	SoftwareVersion:                     kindString,
}

// LabelByName ищет метку по имени точки
func LabelByName(name string) (Label, bool) {
	for l, n := range labelNames {
		if n == name {
			return l, true
		}
	}
	return 0, false
}

// DecodeJSON разбирает объект {"<имя точки>": значение, ...}, который
// публикует внешний декодер протокола JK BMS. Все точки получают метку
// времени ts; неизвестные имена пропускаются.
func DecodeJSON(payload []byte, ts time.Time) (*DataPointContainer, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("jkbms: decode data points: %w", err)
	}

	out := &DataPointContainer{}
	for name, msg := range raw {
		label, ok := LabelByName(name)
		if !ok {
			continue
		}
		value, err := decodeValue(labelKinds[label], msg)
		if err != nil {
			return nil, fmt.Errorf("jkbms: data point %s: %w", name, err)
		}
		out.Add(label, value, ts)
	}
	return out, nil
}

func decodeValue(kind valueKind, msg json.RawMessage) (any, error) {
	switch kind {
	case kindString:
		var s string
		err := json.Unmarshal(msg, &s)
		return s, err
	case kindCells:
		var byName map[string]uint16
		if err := json.Unmarshal(msg, &byName); err != nil {
			return nil, err
		}
		cells := make(CellVoltages, len(byName))
		for k, mv := range byName {
			n, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("cell number %q: %w", k, err)
			}
			cells[n] = mv
		}
		return cells, nil
	}

	var n json.Number
	if err := json.Unmarshal(msg, &n); err != nil {
		return nil, err
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindInt16:
		if v < -1<<15 || v > 1<<15-1 {
			return nil, fmt.Errorf("value %d out of int16 range", v)
		}
		return int16(v), nil
	case kindInt32:
		if v < -1<<31 || v > 1<<31-1 {
			return nil, fmt.Errorf("value %d out of int32 range", v)
		}
		return int32(v), nil
	case kindUint8:
		if v < 0 || v > 1<<8-1 {
			return nil, fmt.Errorf("value %d out of uint8 range", v)
		}
		return uint8(v), nil
	case kindUint16:
		if v < 0 || v > 1<<16-1 {
			return nil, fmt.Errorf("value %d out of uint16 range", v)
		}
		return uint16(v), nil
	default:
		if v < 0 || v > 1<<32-1 {
			return nil, fmt.Errorf("value %d out of uint32 range", v)
		}
		return uint32(v), nil
	}
}

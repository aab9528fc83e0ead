package pylontech

import (
	"encoding/binary"
	"fmt"
	"strings"

	"battery-bridge/battery"
)

// Frame CAN-кадр батареи
type Frame struct {
	ID   uint32
	Data []byte
}

// frameDecoder применяет полезную нагрузку кадра к накопленным данным
type frameDecoder func(data []byte, d *battery.CanPackData) error

// frameDecoders декодеры по идентификатору кадра
var frameDecoders = map[uint32]frameDecoder{
	0x351: decodeLimits,        // Напряжение заряда и ограничения тока
	0x355: decodeStateOfCharge, // SoC и SoH
	0x356: decodeMeasurements,  // Напряжение, ток, температура
	0x359: decodeAlarms,        // Аварии и предупреждения
	0x35C: decodeRequestFlags,  // Разрешения заряда/разряда
	0x35E: decodeManufacturer,  // Производитель
}

// IsKnownID сообщает, разбирается ли кадр с этим идентификатором
func IsKnownID(id uint32) bool {
	_, exists := frameDecoders[id]
	return exists
}

// Apply применяет кадр к d. Возвращает false для неизвестных кадров и при ошибке.
// HasSoC выставляется только кадром 0x355; сбрасывать его перед очередным
// кадром должен вызывающий.
func Apply(f Frame, d *battery.CanPackData) (bool, error) {
	decode, exists := frameDecoders[f.ID]
	if !exists {
		return false, nil
	}
	if err := decode(f.Data, d); err != nil {
		return false, fmt.Errorf("frame 0x%03X: %w", f.ID, err)
	}
	return true, nil
}

func need(data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("expected at least %d bytes, got %d", n, len(data))
	}
	return nil
}

func u16(data []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(data[off:])
}

func i16(data []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(data[off:]))
}

// decodeLimits 0x351
// Формула: напряжение u16 * 0.1 В, токи i16 * 0.1 А
func decodeLimits(data []byte, d *battery.CanPackData) error {
	if err := need(data, 6); err != nil {
		return err
	}
	d.ChargeVoltage = float64(u16(data, 0)) * 0.1
	d.ChargeCurrentLimit = float64(i16(data, 2)) * 0.1
	d.DischargeCurrentLimit = float64(i16(data, 4)) * 0.1
	return nil
}

// decodeStateOfCharge 0x355
func decodeStateOfCharge(data []byte, d *battery.CanPackData) error {
	if err := need(data, 4); err != nil {
		return err
	}
	d.StateOfCharge = float64(u16(data, 0))
	d.StateOfHealth = float64(u16(data, 2))
	d.HasSoC = true
	return nil
}

// decodeMeasurements 0x356
// Формула: напряжение i16 * 0.01 В, ток i16 * 0.1 А, температура i16 * 0.1 °C
func decodeMeasurements(data []byte, d *battery.CanPackData) error {
	if err := need(data, 6); err != nil {
		return err
	}
	d.Voltage = float64(i16(data, 0)) * 0.01
	d.Current = float64(i16(data, 2)) * 0.1
	d.Temperature = float64(i16(data, 4)) * 0.1
	return nil
}

// flags разбирает два байта аварий (или предупреждений) в одной раскладке
func flags(lo, hi byte) battery.PackFlags {
	return battery.PackFlags{
		HighCurrentDischarge: lo&(1<<7) != 0,
		LowTemperature:       lo&(1<<4) != 0,
		HighTemperature:      lo&(1<<3) != 0,
		LowVoltage:           lo&(1<<2) != 0,
		HighVoltage:          lo&(1<<1) != 0,
		BmsInternal:          hi&(1<<3) != 0,
		HighCurrentCharge:    hi&(1<<0) != 0,
	}
}

// decodeAlarms 0x359: байты 0-1 аварии, 2-3 предупреждения
func decodeAlarms(data []byte, d *battery.CanPackData) error {
	if err := need(data, 4); err != nil {
		return err
	}
	d.Alarms = flags(data[0], data[1])
	d.Warnings = flags(data[2], data[3])
	return nil
}

// decodeRequestFlags 0x35C
func decodeRequestFlags(data []byte, d *battery.CanPackData) error {
	if err := need(data, 1); err != nil {
		return err
	}
	d.ChargeEnabled = data[0]&(1<<7) != 0
	d.DischargeEnabled = data[0]&(1<<6) != 0
	d.ChargeImmediately = data[0]&(1<<5) != 0
	return nil
}

// decodeManufacturer 0x35E: ASCII, дополненный нулями или пробелами
func decodeManufacturer(data []byte, d *battery.CanPackData) error {
	name := strings.TrimRight(string(data), "\x00 ")
	if name == "" {
		return fmt.Errorf("empty manufacturer")
	}
	d.Manufacturer = name
	return nil
}

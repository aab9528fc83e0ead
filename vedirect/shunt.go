package vedirect

import (
	"fmt"
	"strconv"
	"strings"
)

// ShuntRecord содержит поля одного кадра шунта, уже приведенные к единицам
type ShuntRecord struct {
	ProductID uint16  // PID
	Serial    string  // SER#
	Firmware  string  // FW
	Voltage   float64 // V, В
	Current   float64 // I, А

	Temperature          int32   // T, °C
	TemperaturePresent   bool    // Датчик температуры подключен к шунту
	Power                int32   // P, Вт
	ConsumedAmpHours     float64 // CE, Ач
	StateOfCharge        float64 // SOC, %
	StateOfChargePresent bool    // Кадр содержал SOC
	TimeToGo             int32   // TTG, минуты (-1 = бесконечно)
	Alarm                bool    // ALARM
	AlarmReason          uint32  // AR, битовое поле

	H1  float64 // Глубина самого глубокого разряда, Ач
	H2  float64 // Глубина последнего разряда, Ач
	H3  float64 // Средняя глубина разряда, Ач
	H4  int32   // Количество циклов заряда
	H5  int32   // Количество полных разрядов
	H6  float64 // Суммарно отданные Ач
	H7  float64 // Минимальное напряжение батареи, В
	H8  float64 // Максимальное напряжение батареи, В
	H9  int32   // Секунд с последнего полного заряда
	H10 int32   // Количество автоматических синхронизаций
	H11 int32   // Количество аварий низкого напряжения
	H12 int32   // Количество аварий высокого напряжения
	H13 int32   // Количество аварий низкого вспомогательного напряжения
	H14 int32   // Количество аварий высокого вспомогательного напряжения
	H15 float64 // Минимальное вспомогательное напряжение, В
	H16 float64 // Максимальное вспомогательное напряжение, В
	H17 float64 // Отданная энергия, кВт·ч
	H18 float64 // Полученная энергия, кВт·ч

	MidpointVoltage   float64 // VM, В
	MidpointDeviation float64 // DM, %
}

// ModelName возвращает название модели по PID
func (r ShuntRecord) ModelName() string {
	if name, exists := productNames[r.ProductID]; exists {
		return name
	}
	return fmt.Sprintf("PID 0x%04X", r.ProductID)
}

var productNames = map[uint16]string{
	0x0203: "BMV-700",
	0x0204: "BMV-702",
	0x0205: "BMV-700H",
	0xA381: "BMV-712 Smart",
	0xA382: "BMV-710H Smart",
	0xA383: "BMV-712 Smart Rev2",
	0xA389: "SmartShunt 500A/50mV",
	0xA38A: "SmartShunt 1000A/50mV",
	0xA38B: "SmartShunt 2000A/50mV",
}

// FieldError ошибка разбора значения известной метки.
// Кадр при этом остается действительным.
type FieldError struct {
	Label string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("vedirect: field %s=%q: %v", e.Label, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// field описывает разбор одной метки и перенос значения из последнего
// подтвержденного кадра при ошибке разбора
type field struct {
	parse func(r *ShuntRecord, value string) error
	carry func(dst, src *ShuntRecord)
}

func numeric[T any](get func(r *ShuntRecord) *T, conv func(string) (T, error)) field {
	return field{
		parse: func(r *ShuntRecord, value string) error {
			v, err := conv(value)
			if err != nil {
				return err
			}
			*get(r) = v
			return nil
		},
		carry: func(dst, src *ShuntRecord) { *get(dst) = *get(src) },
	}
}

func text(get func(r *ShuntRecord) *string) field {
	return numeric(get, func(s string) (string, error) { return s, nil })
}

func toInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	return int32(v), err
}

func toUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// scaled разбирает целое в единицах устройства и делит на divisor
func scaled(divisor float64) func(string) (float64, error) {
	return func(s string) (float64, error) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		return float64(v) / divisor, nil
	}
}

func toProductID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}

func toOnOff(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return false, fmt.Errorf("expected ON or OFF")
}

// shuntFields таблица метка -> поле записи
var shuntFields = map[string]field{
	"PID":  numeric(func(r *ShuntRecord) *uint16 { return &r.ProductID }, toProductID),
	"SER#": text(func(r *ShuntRecord) *string { return &r.Serial }),
	"FW":   text(func(r *ShuntRecord) *string { return &r.Firmware }),
	"V":    numeric(func(r *ShuntRecord) *float64 { return &r.Voltage }, scaled(1000)),
	"I":    numeric(func(r *ShuntRecord) *float64 { return &r.Current }, scaled(1000)),
	"T": {
		parse: func(r *ShuntRecord, value string) error {
			v, err := toInt32(value)
			if err != nil {
				return err
			}
			r.Temperature = v
			r.TemperaturePresent = true
			return nil
		},
		carry: func(dst, src *ShuntRecord) {
			dst.Temperature = src.Temperature
			dst.TemperaturePresent = src.TemperaturePresent
		},
	},
	"SOC": {
		parse: func(r *ShuntRecord, value string) error {
			v, err := scaled(10)(value)
			if err != nil {
				return err
			}
			r.StateOfCharge = v
			r.StateOfChargePresent = true
			return nil
		},
		carry: func(dst, src *ShuntRecord) {
			dst.StateOfCharge = src.StateOfCharge
			dst.StateOfChargePresent = src.StateOfChargePresent
		},
	},
	"P":     numeric(func(r *ShuntRecord) *int32 { return &r.Power }, toInt32),
	"CE":    numeric(func(r *ShuntRecord) *float64 { return &r.ConsumedAmpHours }, scaled(1000)),
	"TTG":   numeric(func(r *ShuntRecord) *int32 { return &r.TimeToGo }, toInt32),
	"ALARM": numeric(func(r *ShuntRecord) *bool { return &r.Alarm }, toOnOff),
	"Alarm": numeric(func(r *ShuntRecord) *bool { return &r.Alarm }, toOnOff),
	"AR":    numeric(func(r *ShuntRecord) *uint32 { return &r.AlarmReason }, toUint32),
	"H1":    numeric(func(r *ShuntRecord) *float64 { return &r.H1 }, scaled(1000)),
	"H2":    numeric(func(r *ShuntRecord) *float64 { return &r.H2 }, scaled(1000)),
	"H3":    numeric(func(r *ShuntRecord) *float64 { return &r.H3 }, scaled(1000)),
	"H4":    numeric(func(r *ShuntRecord) *int32 { return &r.H4 }, toInt32),
	"H5":    numeric(func(r *ShuntRecord) *int32 { return &r.H5 }, toInt32),
	"H6":    numeric(func(r *ShuntRecord) *float64 { return &r.H6 }, scaled(1000)),
	"H7":    numeric(func(r *ShuntRecord) *float64 { return &r.H7 }, scaled(1000)),
	"H8":    numeric(func(r *ShuntRecord) *float64 { return &r.H8 }, scaled(1000)),
	"H9":    numeric(func(r *ShuntRecord) *int32 { return &r.H9 }, toInt32),
	"H10":   numeric(func(r *ShuntRecord) *int32 { return &r.H10 }, toInt32),
	"H11":   numeric(func(r *ShuntRecord) *int32 { return &r.H11 }, toInt32),
	"H12":   numeric(func(r *ShuntRecord) *int32 { return &r.H12 }, toInt32),
	"H13":   numeric(func(r *ShuntRecord) *int32 { return &r.H13 }, toInt32),
	"H14":   numeric(func(r *ShuntRecord) *int32 { return &r.H14 }, toInt32),
	"H15":   numeric(func(r *ShuntRecord) *float64 { return &r.H15 }, scaled(1000)),
	"H16":   numeric(func(r *ShuntRecord) *float64 { return &r.H16 }, scaled(1000)),
	"H17":   numeric(func(r *ShuntRecord) *float64 { return &r.H17 }, scaled(100)),
	"H18":   numeric(func(r *ShuntRecord) *float64 { return &r.H18 }, scaled(100)),
	"VM":    numeric(func(r *ShuntRecord) *float64 { return &r.MidpointVoltage }, scaled(1000)),
	"DM":    numeric(func(r *ShuntRecord) *float64 { return &r.MidpointDeviation }, scaled(10)),
}

// IsKnownLabel сообщает, разбирается ли метка
func IsKnownLabel(label string) bool {
	_, exists := shuntFields[label]
	return exists
}

// ShuntTelemetry собирает поля кадра в черновую запись и переносит ее в
// подтвержденную только после кадра с верной контрольной суммой
type ShuntTelemetry struct {
	scratch   ShuntRecord
	committed ShuntRecord
	frames    uint64
}

// NewShuntTelemetry создает пустую телеметрию шунта
func NewShuntTelemetry() *ShuntTelemetry {
	return &ShuntTelemetry{}
}

// OnField записывает значение метки в черновую запись. Неизвестные метки
// игнорируются. При ошибке разбора поле берется из подтвержденной записи и
// возвращается *FieldError; кадр от этого не становится недействительным.
func (t *ShuntTelemetry) OnField(label, value string) error {
	f, exists := shuntFields[label]
	if !exists {
		return nil
	}
	if err := f.parse(&t.scratch, value); err != nil {
		f.carry(&t.scratch, &t.committed)
		return &FieldError{Label: label, Value: value, Err: err}
	}
	return nil
}

// OnFrameValid переносит черновую запись в подтвержденную и возвращает ее копию
func (t *ShuntTelemetry) OnFrameValid() ShuntRecord {
	t.committed = t.scratch
	t.scratch = ShuntRecord{}
	t.frames++
	return t.committed
}

// OnFrameInvalid отбрасывает черновую запись
func (t *ShuntTelemetry) OnFrameInvalid() {
	t.scratch = ShuntRecord{}
}

// Committed возвращает последнюю подтвержденную запись
func (t *ShuntTelemetry) Committed() ShuntRecord {
	return t.committed
}

// Frames количество подтвержденных кадров
func (t *ShuntTelemetry) Frames() uint64 {
	return t.frames
}

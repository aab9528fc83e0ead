package vedirect

import (
	"errors"
	"fmt"
)

// Ошибки кадрирования, которые несет событие FrameInvalid
var (
	ErrChecksum      = errors.New("vedirect: checksum mismatch")
	ErrFieldOverflow = errors.New("vedirect: field exceeds buffer capacity")
	ErrFramingNoise  = errors.New("vedirect: framing noise")
)

const (
	// ChecksumLabel зарезервированная метка последнего поля кадра
	ChecksumLabel = "Checksum"

	maxLabelLen = 9
	maxValueLen = 33

	hexMarker = ':'
)

// EventKind тип события декодера
type EventKind uint8

const (
	FieldReady EventKind = iota + 1
	FrameValid
	FrameInvalid
)

func (k EventKind) String() string {
	switch k {
	case FieldReady:
		return "FieldReady"
	case FrameValid:
		return "FrameValid"
	case FrameInvalid:
		return "FrameInvalid"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event результат обработки одного байта.
// Label и Value заполнены только для FieldReady, Err только для FrameInvalid.
type Event struct {
	Kind  EventKind
	Label string
	Value string
	Err   error
}

type state uint8

const (
	awaitingLabelStart state = iota
	readingLabel
	readingValue
	readingChecksumByte
	resync
	hexRecord
)

// Decoder потоковый декодер текстового протокола VE.Direct.
//
// Поток состоит из строк "Label\tValue\r\n"; кадр завершается полем
// "Checksum\t<байт>", после которого сумма всех байт кадра по модулю 256
// должна быть равна нулю. Сумма начинается сразу после байта контрольной
// суммы предыдущего кадра, поэтому "\r\n", которым устройство начинает
// каждый блок, входит в следующий кадр.
//
// Контрольная сумма аддитивная: любое однобитовое искажение меняет остаток,
// но искажения нескольких байт с нулевой суммой не обнаруживаются.
//
// Decoder не потокобезопасен; им владеет единственный путь приема.
type Decoder struct {
	state     state
	prevState state // состояние до начала hex-записи
	sum       byte
	corrupt   error // первая ошибка кадрирования текущего кадра

	label    [maxLabelLen]byte
	labelLen int
	value    [maxValueLen]byte
	valueLen int

	hexRecords int
}

// NewDecoder создает декодер в состоянии ожидания метки
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset сбрасывает текущий кадр и состояние
func (d *Decoder) Reset() {
	hex := d.hexRecords
	*d = Decoder{hexRecords: hex}
}

// HexRecords возвращает количество пропущенных hex-записей
func (d *Decoder) HexRecords() int {
	return d.hexRecords
}

// Feed обрабатывает очередной байт потока. Второй результат false, если
// байт не завершил ни поле, ни кадр.
func (d *Decoder) Feed(b byte) (Event, bool) {
	// Hex-записи (":...\n") могут вклиниваться в текстовый поток; они
	// не входят в контрольную сумму текстового кадра.
	if d.state == hexRecord {
		if b == '\n' {
			d.hexRecords++
			d.state = d.prevState
		}
		return Event{}, false
	}
	if b == hexMarker && d.state != readingChecksumByte {
		d.prevState = d.state
		d.state = hexRecord
		return Event{}, false
	}

	d.sum += b

	switch d.state {
	case awaitingLabelStart:
		switch {
		case b == '\r' || b == '\n':
		case isLabelByte(b):
			d.labelLen = 0
			d.valueLen = 0
			d.appendLabel(b)
			d.state = readingLabel
		default:
			d.abort(ErrFramingNoise, b)
		}

	case readingLabel:
		switch {
		case b == '\t':
			if string(d.label[:d.labelLen]) == ChecksumLabel {
				d.state = readingChecksumByte
			} else {
				d.state = readingValue
			}
		case isLabelByte(b):
			if d.labelLen == maxLabelLen {
				d.abort(ErrFieldOverflow, b)
				break
			}
			d.appendLabel(b)
		default:
			d.abort(ErrFramingNoise, b)
		}

	case readingValue:
		switch {
		case b == '\r':
		case b == '\n':
			d.state = awaitingLabelStart
			if d.corrupt != nil {
				break
			}
			return Event{
				Kind:  FieldReady,
				Label: string(d.label[:d.labelLen]),
				Value: string(d.value[:d.valueLen]),
			}, true
		case isValueByte(b):
			if d.valueLen == maxValueLen {
				d.abort(ErrFieldOverflow, b)
				break
			}
			d.value[d.valueLen] = b
			d.valueLen++
		default:
			d.abort(ErrFramingNoise, b)
		}

	case readingChecksumByte:
		return d.finishFrame(), true

	case resync:
		if b == '\n' {
			d.state = awaitingLabelStart
		}
	}

	return Event{}, false
}

func (d *Decoder) finishFrame() Event {
	ev := Event{Kind: FrameValid}
	switch {
	case d.corrupt != nil:
		ev = Event{Kind: FrameInvalid, Err: d.corrupt}
	case d.sum != 0:
		ev = Event{Kind: FrameInvalid, Err: ErrChecksum}
	}

	d.sum = 0
	d.corrupt = nil
	d.labelLen = 0
	d.valueLen = 0
	d.state = awaitingLabelStart
	return ev
}

// abort помечает кадр испорченным и ждет границы строки.
// Терминальное событие кадра выдается на его поле Checksum.
func (d *Decoder) abort(err error, b byte) {
	if d.corrupt == nil {
		d.corrupt = err
	}
	if b == '\n' {
		d.state = awaitingLabelStart
		return
	}
	d.state = resync
}

func (d *Decoder) appendLabel(b byte) {
	d.label[d.labelLen] = b
	d.labelLen++
}

func isLabelByte(b byte) bool {
	return b > ' ' && b < 0x7f
}

func isValueByte(b byte) bool {
	return b >= ' ' && b < 0x7f
}

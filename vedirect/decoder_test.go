package vedirect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checksumByte возвращает байт, дополняющий сумму до нуля по модулю 256
func checksumByte(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return -sum
}

// block собирает кадр так, как его отправляет устройство: "\r\n" перед
// каждым полем и Checksum с сырым байтом в конце
func block(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString("\r\n")
		b.WriteString(f)
	}
	b.WriteString("\r\n" + ChecksumLabel + "\t")
	s := b.String()
	return s + string([]byte{checksumByte(s)})
}

func feed(d *Decoder, data string) []Event {
	var events []Event
	for i := 0; i < len(data); i++ {
		if ev, ok := d.Feed(data[i]); ok {
			events = append(events, ev)
		}
	}
	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestDecoderValidFrame(t *testing.T) {
	body := "V\t12000\r\nI\t-500\r\nChecksum\t"
	data := body + string([]byte{checksumByte(body)}) + "\r\n"

	events := feed(NewDecoder(), data)

	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: FieldReady, Label: "V", Value: "12000"}, events[0])
	assert.Equal(t, Event{Kind: FieldReady, Label: "I", Value: "-500"}, events[1])
	assert.Equal(t, Event{Kind: FrameValid}, events[2])
}

func TestDecoderChecksumMismatch(t *testing.T) {
	body := "V\t12000\r\nI\t-500\r\nChecksum\t"
	data := body + string([]byte{checksumByte(body) + 1}) + "\r\n"

	events := feed(NewDecoder(), data)

	require.Len(t, events, 3)
	assert.Equal(t, FrameInvalid, events[2].Kind)
	assert.ErrorIs(t, events[2].Err, ErrChecksum)
}

func TestDecoderSameFrameTwice(t *testing.T) {
	d := NewDecoder()
	frame := block("V\t12000", "I\t-500", "SOC\t876")

	for i := 0; i < 2; i++ {
		events := feed(d, frame)
		assert.Equal(t, []EventKind{FieldReady, FieldReady, FieldReady, FrameValid}, kinds(events), "pass %d", i)
	}
}

func TestDecoderFieldOrder(t *testing.T) {
	frame := block("PID\t0xA389", "V\t26850", "I\t1200", "P\t32", "CE\t-3500", "SOC\t987", "TTG\t-1", "Alarm\tOFF", "AR\t0")

	events := feed(NewDecoder(), frame)

	require.Len(t, events, 10)
	labels := make([]string, 0, 9)
	for _, ev := range events[:9] {
		require.Equal(t, FieldReady, ev.Kind)
		labels = append(labels, ev.Label)
	}
	assert.Equal(t, []string{"PID", "V", "I", "P", "CE", "SOC", "TTG", "Alarm", "AR"}, labels)
	assert.Equal(t, FrameValid, events[9].Kind)
}

func TestDecoderSingleBitCorruption(t *testing.T) {
	frame := block("V\t12000", "I\t-500")
	checksumAt := len(frame) - 1

	for pos := 0; pos < checksumAt; pos++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := []byte(frame)
			corrupted[pos] ^= 1 << bit

			events := feed(NewDecoder(), string(corrupted))
			for _, ev := range events {
				assert.NotEqual(t, FrameValid, ev.Kind, "byte %d bit %d", pos, bit)
			}
		}
	}
}

func TestDecoderOversizedValue(t *testing.T) {
	d := NewDecoder()
	frame := block("V\t12000", "FW\t"+strings.Repeat("9", maxValueLen+1), "I\t-500")

	events := feed(d, frame)

	// Поле V уже выдано до переполнения, остальные поля кадра подавлены
	assert.Equal(t, []EventKind{FieldReady, FrameInvalid}, kinds(events))
	assert.ErrorIs(t, events[len(events)-1].Err, ErrFieldOverflow)

	// Следующий кадр принимается
	events = feed(d, block("V\t12000"))
	assert.Equal(t, []EventKind{FieldReady, FrameValid}, kinds(events))
}

func TestDecoderOversizedLabel(t *testing.T) {
	d := NewDecoder()
	frame := block(strings.Repeat("X", maxLabelLen+1) + "\t1")

	events := feed(d, frame)

	require.Equal(t, []EventKind{FrameInvalid}, kinds(events))
	assert.ErrorIs(t, events[0].Err, ErrFieldOverflow)
}

func TestDecoderResyncAfterNoise(t *testing.T) {
	d := NewDecoder()

	// Мусор до первого кадра портит только этот кадр
	events := feed(d, "\x00\x07garbage"+block("V\t12000"))
	require.Equal(t, []EventKind{FrameInvalid}, kinds(events))
	assert.ErrorIs(t, events[0].Err, ErrFramingNoise)

	events = feed(d, block("V\t12001"))
	require.Equal(t, []EventKind{FieldReady, FrameValid}, kinds(events))
	assert.Equal(t, "12001", events[0].Value)
}

// Испорченная метка Checksum не закрывает кадр: следующий кадр
// поглощается испорченным, прием восстанавливается на третьем
func TestDecoderCorruptChecksumLabelMergesNextFrame(t *testing.T) {
	first := strings.Replace(block("V\t12000"), ChecksumLabel, "Check\x01um", 1)
	data := first + block("V\t12001") + block("V\t12002")

	events := feed(NewDecoder(), data)

	require.Equal(t, []EventKind{FieldReady, FrameInvalid, FieldReady, FrameValid}, kinds(events))
	assert.Equal(t, "12000", events[0].Value)
	assert.ErrorIs(t, events[1].Err, ErrFramingNoise)
	assert.Equal(t, "12002", events[2].Value)
}

func TestDecoderLineWithoutTab(t *testing.T) {
	events := feed(NewDecoder(), block("V\t12000", "BROKEN", "I\t-500"))

	require.Equal(t, []EventKind{FieldReady, FrameInvalid}, kinds(events))
	assert.ErrorIs(t, events[1].Err, ErrFramingNoise)
}

func TestDecoderIgnoresHexRecords(t *testing.T) {
	d := NewDecoder()

	// Hex-запись в начале и посреди текстового кадра
	frame := block("V\t12000", "I\t-500")
	withHex := ":A0102000543\n" + frame[:5] + ":7F0ED0071\n" + frame[5:]

	events := feed(d, withHex)

	assert.Equal(t, []EventKind{FieldReady, FieldReady, FrameValid}, kinds(events))
	assert.Equal(t, 2, d.HexRecords())
}

func TestDecoderChecksumByteMayBeAnyValue(t *testing.T) {
	// Перебираем значения SOC, чтобы байт контрольной суммы принимал
	// в том числе значения '\t', '\r', '\n' и ':'
	seen := map[byte]bool{}
	for soc := 0; soc < 1000 && len(seen) < 256; soc++ {
		frame := block("SOC\t" + strings.Repeat("1", soc%7+1) + string(rune('0'+soc%10)))
		seen[frame[len(frame)-1]] = true

		events := feed(NewDecoder(), frame)
		require.NotEmpty(t, events)
		assert.Equal(t, FrameValid, events[len(events)-1].Kind, "frame %q", frame)
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder()
	feed(d, "\r\nV\t120")
	d.Reset()

	events := feed(d, block("I\t-500"))
	assert.Equal(t, []EventKind{FieldReady, FrameValid}, kinds(events))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "FieldReady", FieldReady.String())
	assert.Equal(t, "FrameValid", FrameValid.String())
	assert.Equal(t, "FrameInvalid", FrameInvalid.String())
	assert.Equal(t, "EventKind(9)", EventKind(9).String())
}

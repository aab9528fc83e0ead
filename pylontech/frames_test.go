package pylontech

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-bridge/battery"
)

func TestApplyFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		check func(t *testing.T, d battery.CanPackData)
	}{
		{
			name:  "limits",
			frame: Frame{ID: 0x351, Data: []byte{0x14, 0x02, 0xE8, 0x03, 0x18, 0xFC, 0, 0}},
			check: func(t *testing.T, d battery.CanPackData) {
				assert.InDelta(t, 53.2, d.ChargeVoltage, 1e-9)
				assert.InDelta(t, 100.0, d.ChargeCurrentLimit, 1e-9)
				assert.InDelta(t, -100.0, d.DischargeCurrentLimit, 1e-9)
			},
		},
		{
			name:  "state of charge",
			frame: Frame{ID: 0x355, Data: []byte{0x57, 0x00, 0x63, 0x00}},
			check: func(t *testing.T, d battery.CanPackData) {
				assert.True(t, d.HasSoC)
				assert.InDelta(t, 87.0, d.StateOfCharge, 1e-9)
				assert.InDelta(t, 99.0, d.StateOfHealth, 1e-9)
			},
		},
		{
			name:  "measurements",
			frame: Frame{ID: 0x356, Data: []byte{0x5A, 0x14, 0xF6, 0xFF, 0xEB, 0x00}},
			check: func(t *testing.T, d battery.CanPackData) {
				assert.InDelta(t, 52.10, d.Voltage, 1e-9)
				assert.InDelta(t, -1.0, d.Current, 1e-9)
				assert.InDelta(t, 23.5, d.Temperature, 1e-9)
				assert.False(t, d.HasSoC)
			},
		},
		{
			name:  "alarms and warnings",
			frame: Frame{ID: 0x359, Data: []byte{1 << 1, 1 << 3, 1 << 4, 1 << 0, 0, 0, 0, 0}},
			check: func(t *testing.T, d battery.CanPackData) {
				assert.Equal(t, battery.PackFlags{HighVoltage: true, BmsInternal: true}, d.Alarms)
				assert.Equal(t, battery.PackFlags{LowTemperature: true, HighCurrentCharge: true}, d.Warnings)
			},
		},
		{
			name:  "request flags",
			frame: Frame{ID: 0x35C, Data: []byte{0xC0, 0}},
			check: func(t *testing.T, d battery.CanPackData) {
				assert.True(t, d.ChargeEnabled)
				assert.True(t, d.DischargeEnabled)
				assert.False(t, d.ChargeImmediately)
			},
		},
		{
			name:  "manufacturer",
			frame: Frame{ID: 0x35E, Data: []byte("PYLON\x00\x00\x00")},
			check: func(t *testing.T, d battery.CanPackData) {
				assert.Equal(t, "PYLON", d.Manufacturer)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d battery.CanPackData
			ok, err := Apply(tt.frame, &d)
			require.NoError(t, err)
			require.True(t, ok)
			tt.check(t, d)
		})
	}
}

func TestApplyUnknownID(t *testing.T) {
	var d battery.CanPackData
	ok, err := Apply(Frame{ID: 0x305, Data: []byte{0}}, &d)

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, IsKnownID(0x305))
	assert.Equal(t, battery.CanPackData{}, d)
}

func TestApplyShortFrame(t *testing.T) {
	var d battery.CanPackData
	ok, err := Apply(Frame{ID: 0x356, Data: []byte{0x01, 0x02}}, &d)

	assert.Error(t, err)
	assert.False(t, ok)
	assert.Zero(t, d.Voltage)
}

// Авария перенапряжения в кадре 0x359 доходит до экспорта
func TestOverVoltageAlarmExport(t *testing.T) {
	status, writer := battery.NewCanPack()

	var d battery.CanPackData
	for _, f := range []Frame{
		{ID: 0x355, Data: []byte{50, 0, 100, 0}},
		{ID: 0x359, Data: []byte{1 << 1, 0, 0, 0}},
	} {
		d.HasSoC = false
		ok, err := Apply(f, &d)
		require.NoError(t, err)
		require.True(t, ok)
		writer.UpdateFrom(d)
	}

	assert.True(t, status.IsValid())
	assert.True(t, status.Data().Alarms.HighVoltage)
	assert.False(t, status.Data().Alarms.LowVoltage)
}

func rawFrame(id uint32, data []byte) []byte {
	buf := make([]byte, rawFrameSize)
	binary.LittleEndian.PutUint32(buf, id)
	buf[4] = byte(len(data))
	copy(buf[8:], data)
	return buf
}

func TestParseRawFrame(t *testing.T) {
	f, ok, err := parseRawFrame(rawFrame(0x355, []byte{1, 2, 3, 4}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x355), f.ID)
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Data)

	f, ok, err = parseRawFrame(rawFrame(canEFFFlag|0x1234567, nil))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1234567), f.ID)

	_, ok, err = parseRawFrame(rawFrame(canRTRFlag|0x355, nil))
	assert.NoError(t, err)
	assert.False(t, ok)

	bad := rawFrame(0x355, nil)
	bad[4] = 9
	_, _, err = parseRawFrame(bad)
	assert.Error(t, err)

	_, _, err = parseRawFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}

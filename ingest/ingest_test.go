package ingest

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"battery-bridge/battery"
	"battery-bridge/common"
	"battery-bridge/pylontech"
)

func checksumByte(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return -sum
}

func block(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString("\r\n" + f)
	}
	b.WriteString("\r\nChecksum\t")
	s := b.String()
	return s + string([]byte{checksumByte(s)})
}

func TestShuntPipelineValidFrame(t *testing.T) {
	status, writer := battery.NewShunt()
	p := NewShuntPipeline(writer, zap.NewNop())

	body := "V\t12000\r\nI\t-500\r\nSOC\t1000\r\nChecksum\t"
	data := body + string([]byte{checksumByte(body)}) + "\r\n"

	n, err := io.WriteString(p, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	require.True(t, status.IsValid())
	view := &common.LiveView{}
	status.ExportFields(view)
	v, _ := view.Find("voltage")
	assert.InDelta(t, 12.0, v.Value, 1e-9)
	i, _ := view.Find("current")
	assert.InDelta(t, -0.5, i.Value, 1e-9)
}

func TestShuntPipelineBadChecksumLeavesStatus(t *testing.T) {
	status, writer := battery.NewShunt()
	p := NewShuntPipeline(writer, zap.NewNop())

	good := block("V\t12000", "SOC\t500")
	_, _ = p.Write([]byte(good))
	require.True(t, status.IsValid())
	before := &common.LiveView{}
	status.ExportFields(before)

	bad := []byte(block("V\t13000", "SOC\t900"))
	bad[len(bad)-1]++
	_, _ = p.Write(bad)

	after := &common.LiveView{}
	status.ExportFields(after)
	v, _ := after.Find("voltage")
	assert.InDelta(t, 12.0, v.Value, 1e-9)
	assert.InDelta(t, 50.0, status.StateOfCharge(), 1e-9)
}

func TestShuntPipelineFieldErrorKeepsFrame(t *testing.T) {
	status, writer := battery.NewShunt()
	p := NewShuntPipeline(writer, zap.NewNop())

	_, _ = p.Write([]byte(block("V\t12000", "SOC\t500")))
	_, _ = p.Write([]byte(block("V\t12x00", "SOC\t600")))

	view := &common.LiveView{}
	status.ExportFields(view)
	v, _ := view.Find("voltage")
	assert.InDelta(t, 12.0, v.Value, 1e-9)
	assert.InDelta(t, 60.0, status.StateOfCharge(), 1e-9)
}

func TestShuntPipelineHistoryBlockKeepsStateOfCharge(t *testing.T) {
	status, writer := battery.NewShunt()
	p := NewShuntPipeline(writer, zap.NewNop())

	_, _ = p.Write([]byte(block("V\t12000", "SOC\t875")))
	_, _ = p.Write([]byte(block("H1\t-5000", "H4\t12", "H18\t2500")))

	assert.InDelta(t, 87.5, status.StateOfCharge(), 1e-9)
}

func TestShuntPipelineReset(t *testing.T) {
	status, writer := battery.NewShunt()
	p := NewShuntPipeline(writer, zap.NewNop())

	_, _ = p.Write([]byte("\r\nV\t120"))
	p.Reset()
	_, _ = p.Write([]byte(block("V\t12000", "SOC\t500")))

	assert.True(t, status.IsValid())
}

func TestCanPipeline(t *testing.T) {
	status, writer := battery.NewCanPack()
	p := NewCanPipeline(writer, zap.NewNop())

	p.HandleFrame(pylontech.Frame{ID: 0x35E, Data: []byte("PYLON   ")})
	assert.False(t, status.IsValid())

	p.HandleFrame(pylontech.Frame{ID: 0x355, Data: []byte{80, 0, 100, 0}})
	p.HandleFrame(pylontech.Frame{ID: 0x359, Data: []byte{1 << 1, 0, 0, 0}})
	p.HandleFrame(pylontech.Frame{ID: 0x123, Data: []byte{1}})
	p.HandleFrame(pylontech.Frame{ID: 0x356, Data: []byte{1}})

	require.True(t, status.IsValid())
	assert.Equal(t, "PYLON", status.Manufacturer())
	assert.InDelta(t, 80.0, status.StateOfCharge(), 1e-9)

	view := &common.LiveView{}
	status.ExportFields(view)
	alarm, _ := view.Find("alarmOverVoltage")
	assert.True(t, alarm.Active)
}

func TestUartPipeline(t *testing.T) {
	status, writer := battery.NewUartBms()
	p := NewUartPipeline(writer, zap.NewNop())

	p.HandleMessage([]byte(`{"BatteryVoltageMilliVolt": 53000}`))
	assert.False(t, status.IsValid())

	p.HandleMessage([]byte(`{"BatterySoCPercent": 70, "ProductId": "JK_PB2A16S20P"}`))
	require.True(t, status.IsValid())
	assert.InDelta(t, 70.0, status.StateOfCharge(), 1e-9)
	assert.Equal(t, "JK_PB2A16S20P", status.Manufacturer())

	p.HandleMessage([]byte(`garbage`))
	p.HandleMessage([]byte(`{}`))
	assert.InDelta(t, 70.0, status.StateOfCharge(), 1e-9)
}

func TestShuntPipelineUnknownLabelLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	status, writer := battery.NewShunt()
	p := NewShuntPipeline(writer, zap.New(core))

	_, _ = p.Write([]byte(block("V\t12000", "MON\t0", "SOC\t500")))
	_, _ = p.Write([]byte(block("V\t12100", "MON\t0", "SOC\t510")))

	assert.InDelta(t, 51.0, status.StateOfCharge(), 1e-9)
	assert.Equal(t, 1, logs.FilterMessage("Ignoring unknown label").Len())
}

func TestCanPipelineAlarmTransitionsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	_, writer := battery.NewCanPack()
	p := NewCanPipeline(writer, zap.New(core))

	p.HandleFrame(pylontech.Frame{ID: 0x359, Data: []byte{1 << 1, 0, 0, 0}})
	p.HandleFrame(pylontech.Frame{ID: 0x359, Data: []byte{1 << 1, 0, 0, 0}})
	p.HandleFrame(pylontech.Frame{ID: 0x359, Data: []byte{0, 0, 0, 0}})

	require.Equal(t, 1, logs.FilterMessage("Battery alarm raised").Len())
	assert.Equal(t, zapcore.WarnLevel, logs.FilterMessage("Battery alarm raised").All()[0].Level)
	assert.Equal(t, 1, logs.FilterMessage("Battery alarms cleared").Len())
}

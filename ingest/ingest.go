// Package ingest содержит пути приема данных: единственные владельцы
// writer'ов состояний батареи.
package ingest

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"battery-bridge/battery"
	"battery-bridge/jkbms"
	"battery-bridge/metrics"
	"battery-bridge/pylontech"
	"battery-bridge/vedirect"
)

// Источники для меток метрик
const (
	SourceShunt   = "vedirect"
	SourceCanPack = "pylontech"
	SourceUartBms = "jkbms"
)

// ShuntPipeline передает байты последовательного порта через декодер
// VE.Direct и телеметрию шунта в ShuntStatus
type ShuntPipeline struct {
	decoder   *vedirect.Decoder
	telemetry *vedirect.ShuntTelemetry
	writer    *battery.ShuntWriter
	logger    *zap.Logger
	hexSeen   int
	unknown   map[string]struct{}
}

// maxUnknownLabels ограничивает число запоминаемых неизвестных меток
const maxUnknownLabels = 32

// NewShuntPipeline создает путь приема шунта
func NewShuntPipeline(writer *battery.ShuntWriter, logger *zap.Logger) *ShuntPipeline {
	return &ShuntPipeline{
		decoder:   vedirect.NewDecoder(),
		telemetry: vedirect.NewShuntTelemetry(),
		writer:    writer,
		logger:    logger.Named("vedirect"),
		unknown:   make(map[string]struct{}),
	}
}

// Write реализует io.Writer; ошибок не возвращает
func (p *ShuntPipeline) Write(buf []byte) (int, error) {
	for _, b := range buf {
		p.Feed(b)
	}
	return len(buf), nil
}

// Feed обрабатывает один байт
func (p *ShuntPipeline) Feed(b byte) {
	ev, ok := p.decoder.Feed(b)
	if hex := p.decoder.HexRecords(); hex != p.hexSeen {
		metrics.HexRecordsTotal.Add(float64(hex - p.hexSeen))
		p.hexSeen = hex
	}
	if !ok {
		return
	}

	switch ev.Kind {
	case vedirect.FieldReady:
		if !vedirect.IsKnownLabel(ev.Label) {
			p.noteUnknown(ev.Label)
			return
		}
		if err := p.telemetry.OnField(ev.Label, ev.Value); err != nil {
			var fieldErr *vedirect.FieldError
			if errors.As(err, &fieldErr) {
				metrics.FieldErrors.WithLabelValues(SourceShunt, fieldErr.Label).Inc()
			}
			p.logger.Debug("Field parse error", zap.Error(err))
		}
	case vedirect.FrameValid:
		rec := p.telemetry.OnFrameValid()
		p.writer.UpdateFrom(rec)
		metrics.FramesTotal.WithLabelValues(SourceShunt, "valid").Inc()
		metrics.UpdatesTotal.WithLabelValues(SourceShunt).Inc()
		if rec.StateOfChargePresent {
			metrics.StateOfCharge.Set(rec.StateOfCharge)
		}
	case vedirect.FrameInvalid:
		p.telemetry.OnFrameInvalid()
		metrics.FramesTotal.WithLabelValues(SourceShunt, "invalid").Inc()
		p.logger.Debug("Frame dropped", zap.Error(ev.Err))
	}
}

// noteUnknown пишет в журнал каждую неизвестную метку один раз
func (p *ShuntPipeline) noteUnknown(label string) {
	if _, seen := p.unknown[label]; seen || len(p.unknown) >= maxUnknownLabels {
		return
	}
	p.unknown[label] = struct{}{}
	p.logger.Debug("Ignoring unknown label", zap.String("label", label))
}

// Reset сбрасывает разбор после переподключения порта
func (p *ShuntPipeline) Reset() {
	p.decoder.Reset()
	p.telemetry.OnFrameInvalid()
}

// CanPipeline применяет CAN-кадры к накопленным данным и обновляет CanPackStatus
type CanPipeline struct {
	data    battery.CanPackData
	writer  *battery.CanPackWriter
	logger  *zap.Logger
	alarmed bool
}

// NewCanPipeline создает путь приема CAN-батареи
func NewCanPipeline(writer *battery.CanPackWriter, logger *zap.Logger) *CanPipeline {
	return &CanPipeline{writer: writer, logger: logger.Named("pylontech")}
}

// HandleFrame обрабатывает один кадр
func (p *CanPipeline) HandleFrame(f pylontech.Frame) {
	if !pylontech.IsKnownID(f.ID) {
		metrics.FramesTotal.WithLabelValues(SourceCanPack, "ignored").Inc()
		return
	}
	p.data.HasSoC = false

	applied, err := pylontech.Apply(f, &p.data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues(SourceCanPack, "invalid").Inc()
		p.logger.Debug("CAN frame rejected", zap.Error(err))
		return
	}
	if !applied {
		metrics.FramesTotal.WithLabelValues(SourceCanPack, "ignored").Inc()
		return
	}

	p.writer.UpdateFrom(p.data)
	metrics.FramesTotal.WithLabelValues(SourceCanPack, "valid").Inc()
	if alarmed := p.data.Alarms.Any(); alarmed != p.alarmed {
		p.alarmed = alarmed
		if alarmed {
			p.logger.Warn("Battery alarm raised", zap.Any("alarms", p.data.Alarms))
		} else {
			p.logger.Info("Battery alarms cleared")
		}
	}
	metrics.UpdatesTotal.WithLabelValues(SourceCanPack).Inc()
	if p.data.HasSoC {
		metrics.StateOfCharge.Set(p.data.StateOfCharge)
	}
}

// UartPipeline принимает точки данных JK BMS от внешнего декодера
type UartPipeline struct {
	writer *battery.UartBmsWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewUartPipeline создает путь приема JK BMS
func NewUartPipeline(writer *battery.UartBmsWriter, logger *zap.Logger) *UartPipeline {
	return &UartPipeline{writer: writer, logger: logger.Named("jkbms"), now: time.Now}
}

// HandleDataPoints применяет набор точек
func (p *UartPipeline) HandleDataPoints(dp *jkbms.DataPointContainer) {
	if dp.Len() == 0 {
		metrics.FramesTotal.WithLabelValues(SourceUartBms, "ignored").Inc()
		return
	}
	p.writer.UpdateFrom(dp)
	metrics.FramesTotal.WithLabelValues(SourceUartBms, "valid").Inc()
	metrics.UpdatesTotal.WithLabelValues(SourceUartBms).Inc()
	if soc, ok := dp.Number(jkbms.BatterySoCPercent); ok {
		metrics.StateOfCharge.Set(soc)
	}
}

// HandleMessage разбирает JSON-сообщение внешнего декодера и применяет точки
func (p *UartPipeline) HandleMessage(payload []byte) {
	dp, err := jkbms.DecodeJSON(payload, p.now())
	if err != nil {
		metrics.FramesTotal.WithLabelValues(SourceUartBms, "invalid").Inc()
		p.logger.Debug("Data point message rejected", zap.Error(err))
		return
	}
	p.HandleDataPoints(dp)
}

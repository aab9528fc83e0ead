package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Метрики приема
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_frames_total",
		Help: "Total number of frames received, by source and result",
	}, []string{"source", "result"})

	FieldErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_field_parse_errors_total",
		Help: "Total number of field values that failed to parse",
	}, []string{"source", "label"})

	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_status_updates_total",
		Help: "Total number of battery status updates",
	}, []string{"source"})

	HexRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_vedirect_hex_records_total",
		Help: "Total number of VE.Direct hex protocol records skipped",
	})

	SerialReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_serial_reconnects_total",
		Help: "Total number of serial port (re)connections",
	})

	// Метрики публикации
	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_mqtt_publishes_total",
		Help: "Total number of status publishes, by kind",
	}, []string{"kind"})

	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_mqtt_messages_total",
		Help: "Total number of MQTT messages sent",
	})

	// Состояние источника
	SourceOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battery_source_online",
		Help: "1 when the battery data source is online, 0 otherwise",
	}, []string{"source"})

	StateOfCharge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battery_state_of_charge_percent",
		Help: "Last reported battery state of charge",
	})

	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

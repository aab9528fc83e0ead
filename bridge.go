package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"battery-bridge/battery"
	"battery-bridge/ingest"
	"battery-bridge/metrics"
	"battery-bridge/mqtt"
	"battery-bridge/pylontech"
	"battery-bridge/serialport"
	"battery-bridge/web"
)

const (
	livenessCheckInterval = time.Second
	canRetryInterval      = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// source связывает состояние батареи с путем приема данных выбранного провайдера
type source struct {
	name     string
	status   battery.Status
	mqttOpts []mqtt.Option
	start    func(ctx context.Context) error
	stop     func() error
}

func newSource(cfg Config, logger *zap.Logger) (*source, error) {
	switch cfg.Battery.Provider {
	case providerVictron:
		status, writer := battery.NewShunt()
		pipeline := ingest.NewShuntPipeline(writer, logger)
		adapter := serialport.NewAdapter(cfg.Serial, pipeline, logger,
			serialport.WithConnectHook(func() {
				pipeline.Reset()
				metrics.SerialReconnects.Inc()
			}))
		return &source{
			name:   ingest.SourceShunt,
			status: status,
			start:  func(context.Context) error { return adapter.Start() },
			stop:   adapter.Stop,
		}, nil

	case providerPylontech:
		status, writer := battery.NewCanPack()
		pipeline := ingest.NewCanPipeline(writer, logger)
		receiver := pylontech.NewReceiver(cfg.CAN.Interface, logger)
		var wg sync.WaitGroup
		return &source{
			name:   ingest.SourceCanPack,
			status: status,
			start: func(ctx context.Context) error {
				wg.Add(1)
				go func() {
					defer wg.Done()
					runCanReceiver(ctx, receiver, pipeline, logger)
				}()
				return nil
			},
			stop: func() error {
				wg.Wait()
				return nil
			},
		}, nil

	case providerJkBms:
		status, writer := battery.NewUartBms(
			battery.WithFullPublishInterval(cfg.MQTT.FullPublishInterval),
			battery.WithRetain(cfg.MQTT.Retain),
			battery.WithPublishObserver(func(full bool) {
				mode := "incremental"
				if full {
					mode = "full"
				}
				metrics.PublishesTotal.WithLabelValues(mode).Inc()
			}),
		)
		pipeline := ingest.NewUartPipeline(writer, logger)
		return &source{
			name:     ingest.SourceUartBms,
			status:   status,
			mqttOpts: []mqtt.Option{mqtt.WithDataPointsHandler(pipeline.HandleMessage)},
			start:    func(context.Context) error { return nil },
			stop:     func() error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown battery provider %q", cfg.Battery.Provider)
}

// runCanReceiver перезапускает прием после ошибок интерфейса до отмены ctx
func runCanReceiver(ctx context.Context, receiver *pylontech.Receiver, pipeline *ingest.CanPipeline, logger *zap.Logger) {
	for {
		err := receiver.Run(ctx, pipeline.HandleFrame)
		if err == nil || ctx.Err() != nil {
			return
		}
		if errors.Is(err, pylontech.ErrUnsupported) {
			logger.Error("CAN receiver unavailable", zap.Error(err))
			return
		}
		logger.Warn("CAN receiver failed, retrying", zap.Error(err), zap.Duration("in", canRetryInterval))

		select {
		case <-ctx.Done():
			return
		case <-time.After(canRetryInterval):
		}
	}
}

// run запускает мост и блокируется до отмены ctx
func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	src, err := newSource(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Starting battery bridge",
		zap.String("provider", cfg.Battery.Provider),
		zap.String("kind", src.status.Kind().String()))

	metrics.SourceOnline.WithLabelValues(src.name).Set(0)
	liveness := battery.NewLiveness(src.status, cfg.Battery.StaleAfter, func(from, to string) {
		logger.Info("Battery data liveness changed", zap.String("from", from), zap.String("to", to))
		online := 0.0
		if to == battery.LivenessOnline {
			online = 1
		}
		metrics.SourceOnline.WithLabelValues(src.name).Set(online)
	})

	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient = mqtt.NewClient(cfg.MQTT, src.status, logger, src.mqttOpts...)
		if err := mqttClient.Start(); err != nil {
			return err
		}
	} else {
		logger.Info("MQTT broker not configured, publishing disabled")
	}

	if err := src.start(ctx); err != nil {
		if mqttClient != nil {
			_ = mqttClient.Stop()
		}
		return fmt.Errorf("start %s source: %w", src.name, err)
	}

	httpServer := web.NewHTTPServer(cfg.HTTP.Listen, src.status, liveness, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		liveness.Run(ctx, livenessCheckInterval)
	}()

	logger.Info("Battery bridge started", zap.String("http", cfg.HTTP.Listen))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down battery bridge")
	case runErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	if err := src.stop(); err != nil {
		logger.Warn("Source shutdown", zap.Error(err))
	}
	if mqttClient != nil {
		_ = mqttClient.Stop()
	}
	wg.Wait()

	logger.Info("Battery bridge stopped")
	return runErr
}

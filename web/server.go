package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"battery-bridge/battery"
	"battery-bridge/common"
	"battery-bridge/metrics"
)

// LivenessReporter текущее состояние источника данных
type LivenessReporter interface {
	Current() string
}

type HTTPServer struct {
	server   *http.Server
	status   battery.Status
	liveness LivenessReporter
	logger   *zap.Logger
}

func NewHTTPServer(addr string, status battery.Status, liveness LivenessReporter, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		status:   status,
		liveness: liveness,
		logger:   logger.Named("http"),
	}

	// Middleware регистрации
	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	// Маршруты
	router.HandleFunc("/healthz", s.healthCheck).Methods("GET")
	router.HandleFunc("/api/battery/livedata", s.liveData).Methods("GET")
	router.HandleFunc("/api/battery/info", s.info).Methods("GET")

	// Метрики Prometheus
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return s
}

// Handler корневой обработчик (для тестов и встраивания)
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter для отслеживания статус кода и размера
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// middleware для сбора метрик HTTP запросов с использованием шаблона пути
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// middleware для логирования HTTP запросов
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("ip", r.RemoteAddr),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	state := s.liveness.Current()
	code := http.StatusOK
	if state == battery.LivenessStale {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status": state,
		"source": s.status.Kind().String(),
		"valid":  s.status.IsValid(),
	})
}

// newView создает пустое представление; поля заполняются только для
// действительного состояния
func (s *HTTPServer) newView() *common.LiveView {
	return &common.LiveView{
		Kind:      s.status.Kind().String(),
		Valid:     s.status.IsValid(),
		Entries:   []common.LiveEntry{},
		Timestamp: time.Now().UTC(),
	}
}

func (s *HTTPServer) liveData(w http.ResponseWriter, r *http.Request) {
	view := s.newView()
	if view.Valid {
		s.status.ExportFields(view)
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) info(w http.ResponseWriter, r *http.Request) {
	view := s.newView()
	if view.Valid {
		switch status := s.status.(type) {
		case *battery.UartBmsStatus:
			status.ExportInfo(view)
		case *battery.CanPackStatus, *battery.ShuntStatus:
			status.ExportFields(view)
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}

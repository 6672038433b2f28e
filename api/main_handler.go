package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter/api/internal"
)

const defaultMaxBodySize = 16 * 1024 * 1024

type APIServices struct {
	Snapshots Snapshots
	Restorer  Restorer
	// Metrics is served on /metrics when set
	Metrics     *prometheus.Registry
	MaxBodySize int64
	Log         *zap.Logger
}

func NewHandler(services APIServices) http.Handler {
	log := services.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := services.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Mount(internal.HealthCheckEndPoint, HealthCheckHandler(services.Snapshots))
	r.Mount(internal.SnapshotEndPoint, NewSnapshotHandler(services.Snapshots))
	r.Mount(internal.RestoreEndPoint, NewRestoreHandler(services.Restorer, maxBody))
	if services.Metrics != nil {
		r.Mount(internal.MetricsEndPoint, promhttp.HandlerFor(services.Metrics, promhttp.HandlerOpts{}))
	}

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("uri", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)))
		})
	}
}

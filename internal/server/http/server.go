// Package httpserver exposes the monitor's health, status and metrics endpoints.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coachpo/stockwatch/internal/monitor"
)

const (
	rootPath    = "/"
	statusPath  = "/status"
	metricsPath = "/metrics"

	healthText        = "Monitor is running"
	readHeaderTimeout = 5 * time.Second
)

// StatusSource provides the monitor snapshot served by the handlers.
type StatusSource interface {
	Status() monitor.Status
}

type httpServer struct {
	source StatusSource
}

type statusPayload struct {
	Running          bool     `json:"running"`
	MonitoredGenders []string `json:"monitored_genders"`
}

// NewHandler routes the endpoints. Collectors derived from source are registered on
// registry, which also backs /metrics; a nil registry gets a private one.
func NewHandler(source StatusSource, registry *prometheus.Registry) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if err := registerCollectors(registry, source); err != nil {
		return nil, err
	}

	server := &httpServer{source: source}
	r := chi.NewRouter()
	r.Get(rootPath, server.health)
	r.Get(statusPath, server.status)
	r.Method(http.MethodGet, metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return withCORS(r), nil
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(healthText))
}

func (s *httpServer) status(w http.ResponseWriter, _ *http.Request) {
	st := s.source.Status()
	filters := st.Filters
	if filters == nil {
		filters = []string{}
	}
	writeJSON(w, http.StatusOK, statusPayload{Running: st.Running, MonitoredGenders: filters})
}

func registerCollectors(registry *prometheus.Registry, source StatusSource) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "stockwatch_running",
			Help: "1 while the monitor loop is running.",
		}, func() float64 {
			if source.Status().Running {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "stockwatch_cycles_completed_total",
			Help: "Completed monitor cycles.",
		}, func() float64 { return float64(source.Status().Cycles) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "stockwatch_alerts_delivered_total",
			Help: "Restock alerts delivered.",
		}, func() float64 { return float64(source.Status().Notified) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "stockwatch_products_tracked",
			Help: "Products with a persisted stock record.",
		}, func() float64 { return float64(source.Status().Tracked) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "stockwatch_products_in_stock",
			Help: "Products last recorded as in stock.",
		}, func() float64 { return float64(source.Status().InStock) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "stockwatch_products_discovered_last_cycle",
			Help: "Unique products found by the latest discovery phase.",
		}, func() float64 { return float64(source.Status().Discovered) }),
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

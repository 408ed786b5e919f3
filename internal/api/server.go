// Package api is the HTTP surface of the brain: the device poll endpoint,
// instance administration, the completion event stream, health and metrics.
package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanbrain/internal/events"
	"scanbrain/internal/metrics"
	"scanbrain/internal/registry"
)

// Pinger is implemented by dependencies that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure a Server. Registry is required.
type Options struct {
	Registry *registry.Registry
	Broker   events.Broker
	Logger   *slog.Logger
	// Ready lists the dependencies checked by /readyz.
	Ready map[string]Pinger
	// PollRate and PollBurst bound job polls per device; zero disables.
	PollRate  float64
	PollBurst int
	Now       func() time.Time
}

type Server struct {
	reg     *registry.Registry
	broker  events.Broker
	log     *slog.Logger
	ready   map[string]Pinger
	devices *deviceTracker
	polls   *pollLimiter
	now     func() time.Time
	started time.Time
}

func NewServer(opts Options) *Server {
	s := &Server{
		reg:     opts.Registry,
		broker:  opts.Broker,
		log:     opts.Logger,
		ready:   opts.Ready,
		devices: newDeviceTracker(),
		polls:   newPollLimiter(opts.PollRate, opts.PollBurst),
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.broker == nil {
		s.broker = events.NewBroker()
	}
	s.started = s.now()
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logMiddleware)
	r.Use(middleware.Recoverer)

	// Devices
	r.Post("/controler", s.ControlerHandler)
	r.Get("/v1/devices", s.DevicesHandler)
	r.Put("/v1/devices/{uuid}", s.AssignDeviceHandler)

	r.Route("/v1/instances", func(ir chi.Router) {
		ir.Get("/", s.InstancesHandler)
		ir.Post("/{name}/reload", s.ReloadHandler)
		ir.Post("/{name}/scan-next", s.ScanNextHandler)
	})

	// Ingestion hooks
	r.Route("/v1/ingest", func(ir chi.Router) {
		ir.Post("/pokemon", s.IngestPokemonHandler)
		ir.Post("/forts", s.IngestFortsHandler)
		ir.Post("/player", s.IngestPlayerHandler)
	})

	// Completion stream
	r.Get("/v1/events/ws", s.EventsWSHandler)

	// Docs, health, metrics
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/docs", s.DocsHandler)
	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Get("/v1/debug", s.DebugJSON)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// statusRecorder captures the response status. It passes Hijack through so
// websocket upgrades keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = r.Method + " " + p
			}
		}
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", dur,
			"remote", r.RemoteAddr, "request_id", middleware.GetReqID(r.Context()))
	})
}

package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"frota/internal/core"
	"frota/internal/live"
	"frota/internal/log"
	"frota/internal/metrics"
	"frota/internal/middleware/ratelimit"
	"frota/internal/middleware/security"
	"frota/internal/middleware/trace"
	"frota/internal/services"

	"github.com/gorilla/websocket"
)

const apiPrefix = "/api/v1"

// Config holds the HTTP server settings.
type Config struct {
	Addr      string
	JWTSecret string
	JWTIssuer string
	RateLimit ratelimit.Config
	// LivePing is the websocket keepalive interval.
	LivePing time.Duration
}

type Server struct {
	http.Server
	fleet    *services.FleetService
	sessions *live.Registry
	auth     *Authenticator
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *log.Logger
	upgrader websocket.Upgrader
	livePing time.Duration
	now      func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. sessions may be nil, which disables /live.
func NewServer(cfg Config, fleet *services.FleetService, sessions *live.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.LivePing <= 0 {
		cfg.LivePing = 30 * time.Second
	}
	httpLogger := logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		fleet:    fleet,
		sessions: sessions,
		auth:     NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter:  ratelimit.NewLimiter(cfg.RateLimit, logger),
		detector: security.NewDetector(logger),
		logger:   httpLogger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		livePing: cfg.LivePing,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	})(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = trace.NewMiddleware(s.detector.ExtractClientIP, logger).Middleware(handler)
	handler = log.Middleware(httpLogger)(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Authenticator exposes the token signer.
func (s *Server) Authenticator() *Authenticator { return s.auth }

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mountResource(s, mux, "trucks", resource[core.Truck]{
		create: s.fleet.CreateTruck,
		get:    s.fleet.GetTruck,
		list:   s.fleet.ListTrucks,
		update: s.fleet.UpdateTruck,
		remove: s.fleet.DeleteTruck,
	})
	mountResource(s, mux, "machinery", resource[core.Machinery]{
		create: s.fleet.CreateMachinery,
		get:    s.fleet.GetMachinery,
		list:   s.fleet.ListMachinery,
		update: s.fleet.UpdateMachinery,
		remove: s.fleet.DeleteMachinery,
	})
	mountResource(s, mux, "drivers", resource[core.Driver]{
		create: s.fleet.CreateDriver,
		get:    s.fleet.GetDriver,
		list:   s.fleet.ListDrivers,
		update: s.fleet.UpdateDriver,
		remove: s.fleet.DeleteDriver,
	})
	mountResource(s, mux, "trips", resource[core.Trip]{
		create: s.fleet.CreateTrip,
		get:    s.fleet.GetTrip,
		list:   s.fleet.ListTrips,
		update: s.fleet.UpdateTrip,
		remove: s.fleet.DeleteTrip,
		filter: filterTrips,
	})
	mountResource(s, mux, "rentals", resource[core.Rental]{
		create: s.fleet.CreateRental,
		get:    s.fleet.GetRental,
		list:   s.fleet.ListRentals,
		update: s.fleet.UpdateRental,
		remove: s.fleet.DeleteRental,
		filter: filterRentals,
	})
	mountResource(s, mux, "transactions", resource[core.Transaction]{
		create: s.fleet.CreateTransaction,
		get:    s.fleet.GetTransaction,
		list:   s.fleet.ListTransactions,
		update: s.fleet.UpdateTransaction,
		remove: s.fleet.DeleteTransaction,
		filter: filterTransactions,
	})

	s.handle(mux, "POST /trips/{id}/complete", s.handleCompleteTrip)
	s.handle(mux, "GET /trips/{id}/metrics", s.handleTripMetrics)
	s.handle(mux, "POST /rentals/{id}/complete", s.handleCompleteRental)
	s.handle(mux, "GET /rentals/{id}/metrics", s.handleRentalMetrics)

	s.handle(mux, "GET /categories", s.handleCategories)
	s.handle(mux, "GET /dashboard", s.handleDashboard)
	s.handle(mux, "GET /finance/series", s.handleFinanceSeries)
	s.handle(mux, "GET /finance/month", s.handleFinanceMonth)
	s.handle(mux, "GET /reports/{kind}", s.handleReport)

	s.handle(mux, "GET /backup", s.handleExportBackup)
	s.handle(mux, "POST /backup", s.handleImportBackup)
	s.handle(mux, "DELETE /backup", s.handleClearAccount)

	s.handle(mux, "GET /live", s.handleLive)
}

// handle mounts an authenticated handler under the API prefix. pattern is
// "METHOD /path".
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.Handle(method+" "+apiPrefix+path, s.auth.Middleware(h))
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Package dashboard serves the exoplanet page, its JSON API and the event
// stream that pushes charts to open pages.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"tailscale.com/tsweb"

	"github.com/banshee-data/exodash/internal/config"
	"github.com/banshee-data/exodash/internal/controller"
	"github.com/banshee-data/exodash/internal/db"
	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/monitoring"
	"github.com/banshee-data/exodash/internal/version"
)

const shutdownTimeout = 5 * time.Second

// ServerConfig contains everything the dashboard needs to serve.
type ServerConfig struct {
	Address    string
	Title      string
	Layout     string
	AssetsHost string
	// RadiusMarks are labelled ticks on the radius sliders.
	RadiusMarks []float64

	Table      *exoplanet.Table
	Controller *controller.Controller
	// Mirror is optional; without it /debug/ has no SQL console.
	Mirror    *db.DB
	Templates TemplateProvider
	// HeartbeatInterval is how often idle event streams get a comment line.
	HeartbeatInterval time.Duration
}

// Server is the dashboard HTTP host.
type Server struct {
	cfg     ServerConfig
	summary exoplanet.Summary
	server  *http.Server
}

// NewServer validates cfg and builds the routes. The dataset summary is
// computed once since the table never changes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Table == nil || cfg.Controller == nil {
		return nil, errors.New("dashboard needs a table and a controller")
	}
	if cfg.Layout == "" {
		cfg.Layout = config.LayoutPlain
	}
	if cfg.Layout != config.LayoutPlain && cfg.Layout != config.LayoutGrid {
		return nil, fmt.Errorf("unknown layout %q", cfg.Layout)
	}
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		summary: exoplanet.Summarize(cfg.Table),
	}
	handler, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logfPrinter{}, NoColor: true}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/chart", s.handleChartHTML)
	r.Get("/chart.png", s.handleChartImage("png"))
	r.Get("/chart.svg", s.handleChartImage("svg"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/chart", s.handleChart)
		r.Get("/state", s.handleState)
		r.Get("/dataset", s.handleDataset)
		r.Get("/events", s.handleEvents)
		r.Post("/filter/radius", s.handleRadius)
		r.Post("/filter/star-sizes", s.handleStarSizes)
	})

	debugMux, err := s.debugMux()
	if err != nil {
		return nil, err
	}
	r.Handle("/debug/*", debugMux)
	return r, nil
}

// debugMux builds the tsweb debug pages. tsweb only serves them to loopback
// and tailnet clients.
func (s *Server) debugMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KV("Source", s.summary.Meta.Source)
	debug.KV("Loaded at", s.summary.Meta.LoadedAt.Format(time.RFC3339))
	debug.KV("Rows", s.summary.Rows)
	debug.KV("Skipped", s.summary.Meta.Skipped)
	debug.KV("Excluded", s.summary.Meta.Excluded)
	debug.KVFunc("Filter revision", func() any { return s.cfg.Controller.Status().Revision })
	debug.KVFunc("Subscribers", func() any { return s.cfg.Controller.Status().Subscribers })

	debug.HandleFunc("filter-check", "Compare the in-memory filter with the SQL mirror", s.handleFilterCheck)

	if s.cfg.Mirror != nil {
		if err := s.cfg.Mirror.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Cancelling ctx ends open event streams so Shutdown can finish.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}

// logfPrinter routes chi request logs through monitoring.Logf.
type logfPrinter struct{}

func (logfPrinter) Print(v ...interface{}) {
	monitoring.Logf("%s", fmt.Sprint(v...))
}

// sliderBounds spans the loaded radii and the default range, in whole units.
func (s *Server) sliderBounds(current exoplanet.RadiusRange) (lo, hi float64) {
	lo, hi, ok := exoplanet.RadiusBounds(s.cfg.Table)
	if !ok {
		lo, hi = 0, 100
	}
	lo = math.Floor(math.Min(lo, current.Min))
	hi = math.Ceil(math.Max(hi, current.Max))
	return lo, hi
}

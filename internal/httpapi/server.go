// Package httpapi serves the optional read-only status API: liveness, the last
// cycle's ranked servers, the cycle audit trail, schedules and pprof.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"serverwatch/internal/cycle"
	"serverwatch/internal/eventbus"
	rtsup "serverwatch/internal/runtime/supervisor"
	"serverwatch/internal/storage"
	"serverwatch/internal/task/scheduler"
	logx "serverwatch/pkg/logx"
)

// Config controls the status server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address requires Token.
type Config struct {
	Enabled bool
	Addr    string
	Pprof   bool
	Token   string
}

// Deps are the read-only views the handlers use. Nil members disable their routes' data.
type Deps struct {
	StartTime time.Time
	Last      func() cycle.Summary
	Store     storage.Store
	Schedules func() []scheduler.ScheduleInfo
	Health    func() rtsup.Counters
	Bus       eventbus.Bus
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	deps Deps

	srv *http.Server
	sup *rtsup.Supervisor

	// last is refreshed from cycle.finished events.
	last atomic.Pointer[cycle.Summary]
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Service{cfg: cfg, deps: deps, log: log}
}

// Router builds the chi router with middlewares and routes.
func (s *Service) Router() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.log))

	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Second))
			r.Get("/servers", s.handleServers)
			r.Get("/cycles", s.handleCycles)
			r.Get("/schedules", s.handleSchedules)
		})
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

// Start runs the server under a restart loop. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return nil
	}
	addr := listenAddr(s.cfg.Addr)
	if strings.TrimSpace(s.cfg.Token) == "" && !isLoopbackAddr(addr) {
		return errors.New("http: non-loopback addr requires a token")
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// The status API is optional; never take the bot down with it.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	if s.deps.Bus != nil {
		events, unsub := s.deps.Bus.Subscribe(4, eventbus.CycleFinished)
		s.sup.Go0("http.events", func(ctx context.Context) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if sum, ok := e.Data.(cycle.Summary); ok {
						s.last.Store(&sum)
					}
				}
			}
		})
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup = nil, nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	addr := listenAddr(s.cfg.Addr)
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// pprof profiles stream for up to 30s.
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	defer stop()

	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func listenAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "127.0.0.1:8080"
	}
	return addr
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

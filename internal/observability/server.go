package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes /metrics and /healthz.
type Server struct {
	addr   string
	server *http.Server
	logger *log.Entry

	startStopMutex sync.Mutex
	started        bool
	done           chan struct{}
}

func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(gatherer),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: log.WithField("object", "OpsServer"),
	}
}

func NewRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start binds the listener synchronously so a busy port fails startup.
func (s *Server) Start(_ context.Context) error {
	s.startStopMutex.Lock()
	defer s.startStopMutex.Unlock()
	if s.started || s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.done = make(chan struct{})
	s.started = true
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("error", err.Error()).Error("ops server failed")
		}
	}()
	s.logger.WithField("addr", ln.Addr().String()).Info("ops server listening")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.startStopMutex.Lock()
	defer s.startStopMutex.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}

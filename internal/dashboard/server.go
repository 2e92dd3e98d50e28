// Package dashboard serves the simulator over HTTP: a JSON API for driving
// sessions, a server-sent event stream of session snapshots and the
// prometheus endpoint.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/exchange"
	"github.com/zulandar/rehearsal/internal/metrics"
	"github.com/zulandar/rehearsal/internal/msgtmpl"
	"github.com/zulandar/rehearsal/internal/simulator"
)

// AgentSource looks up agent configurations. *agent.Store satisfies it.
type AgentSource interface {
	Get(ctx context.Context, id string) (*agent.Config, error)
	List(ctx context.Context) ([]*agent.Config, error)
}

// ServerOpts holds configuration for the dashboard server.
type ServerOpts struct {
	Agents   AgentSource
	Exchange exchange.Exchange
	Registry *Registry
	// DB, when set, backs the escalation history endpoints.
	DB       *gorm.DB
	Lead     msgtmpl.Lead
	Copy     simulator.Copy
	Log      *logrus.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Notifier simulator.Notifier
	// Heartbeat is the SSE keep-alive interval; default 15s.
	Heartbeat time.Duration
}

// Server is the dashboard HTTP server.
type Server struct {
	agents    AgentSource
	ex        exchange.Exchange
	registry  *Registry
	db        *gorm.DB
	lead      msgtmpl.Lead
	copy      simulator.Copy
	log       *logrus.Logger
	metrics   *metrics.Metrics
	notifier  simulator.Notifier
	heartbeat time.Duration
	router    *gin.Engine
}

// NewServer creates a Server and registers its routes.
func NewServer(opts ServerOpts) (*Server, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("dashboard: agent source is required")
	}
	if opts.Exchange == nil {
		return nil, fmt.Errorf("dashboard: exchange is required")
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(RegistryOpts{Metrics: opts.Metrics, Log: opts.Log})
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}

	s := &Server{
		agents:    opts.Agents,
		ex:        opts.Exchange,
		registry:  opts.Registry,
		db:        opts.DB,
		lead:      opts.Lead,
		copy:      opts.Copy,
		log:       opts.Log,
		metrics:   opts.Metrics,
		notifier:  opts.Notifier,
		heartbeat: opts.Heartbeat,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log))
	registerRoutes(router, s, opts.Gatherer)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the live session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Run serves on port. It blocks until ctx is cancelled, then shuts down
// gracefully and closes every session.
func (s *Server) Run(ctx context.Context, port int, out io.Writer) error {
	if port <= 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if out != nil {
		fmt.Fprintf(out, "Dashboard running at http://localhost:%d\n", port)
	}

	err := srv.ListenAndServe()
	s.registry.CloseAll()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// requestLogger logs each request at debug level.
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}

// newSession builds and opens a session for agentID.
func (s *Server) newSession(ctx context.Context, agentID string, lead *msgtmpl.Lead) (*simulator.Orchestrator, error) {
	cfg, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	l := s.lead
	if lead != nil && *lead != (msgtmpl.Lead{}) {
		l = *lead
	}
	o, err := simulator.New(simulator.Opts{
		Agent:    cfg,
		Lead:     l,
		Exchange: s.ex,
		Copy:     s.copy,
		Log:      s.log,
		Metrics:  s.metrics,
		Notifier: s.notifier,
	})
	if err != nil {
		return nil, err
	}
	s.registry.Add(o)
	if err := o.Open(ctx); err != nil {
		s.registry.Remove(o.ID())
		return nil, err
	}
	return o, nil
}

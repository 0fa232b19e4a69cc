// Package metrics exposes Prometheus metrics for diagnosis runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fathomlabs/fathom/internal/logging"
)

// Metrics holds Prometheus metrics for run observability.
type Metrics struct {
	RunsTotal             *prometheus.CounterVec // Completed runs by outcome
	ToolExecutionsTotal   *prometheus.CounterVec // Tool executions by tool and status
	DelegateRequestsTotal *prometheus.CounterVec // Delegate requests by role
	DelegateTokensTotal   *prometheus.CounterVec // Token usage by role and direction
	DraftsTotal           prometheus.Counter     // Draft diagnoses submitted
	EvidenceItems         prometheus.Gauge       // Ledger size of the current run
}

// NewMetrics creates Prometheus metrics for a diagnosis engine instance.
// The registerer parameter allows flexible registration (e.g., global
// registry, test registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fathom_runs_total",
		Help: "Total diagnosis runs by outcome",
	}, []string{"outcome"})

	toolExecutionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fathom_tool_executions_total",
		Help: "Total tool executions by tool name and status",
	}, []string{"tool", "status"})

	delegateRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fathom_delegate_requests_total",
		Help: "Total reasoning delegate requests by role",
	}, []string{"role"})

	delegateTokensTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fathom_delegate_tokens_total",
		Help: "Total delegate token usage by role and direction",
	}, []string{"role", "direction"})

	draftsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fathom_drafts_total",
		Help: "Total draft diagnoses submitted",
	})

	evidenceItems := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fathom_evidence_items",
		Help: "Evidence ledger size of the current run",
	})

	reg.MustRegister(runsTotal)
	reg.MustRegister(toolExecutionsTotal)
	reg.MustRegister(delegateRequestsTotal)
	reg.MustRegister(delegateTokensTotal)
	reg.MustRegister(draftsTotal)
	reg.MustRegister(evidenceItems)

	return &Metrics{
		RunsTotal:             runsTotal,
		ToolExecutionsTotal:   toolExecutionsTotal,
		DelegateRequestsTotal: delegateRequestsTotal,
		DelegateTokensTotal:   delegateTokensTotal,
		DraftsTotal:           draftsTotal,
		EvidenceItems:         evidenceItems,
	}
}

// ObserveToolExecution records a tool execution outcome.
func (m *Metrics) ObserveToolExecution(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveDelegateRequest records a delegate request and its token usage.
func (m *Metrics) ObserveDelegateRequest(role string, inputTokens, outputTokens int) {
	m.DelegateRequestsTotal.WithLabelValues(role).Inc()
	m.DelegateTokensTotal.WithLabelValues(role, "input").Add(float64(inputTokens))
	m.DelegateTokensTotal.WithLabelValues(role, "output").Add(float64(outputTokens))
}

// Server serves the /metrics endpoint.
type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

// NewServer creates a metrics HTTP server for the given registry.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.GetLogger("metrics"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Metrics server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed: %v", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

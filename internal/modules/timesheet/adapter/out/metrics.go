package out

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kimaid/internal/modules/timesheet/domain"
)

var authStates = []domain.AuthState{
	domain.AuthLoggedOut,
	domain.AuthAuthenticating,
	domain.AuthAuthenticated,
	domain.AuthFailed,
}

// PromRecorder exports scheduler outcomes as Prometheus metrics.
type PromRecorder struct {
	authAttempts *prometheus.CounterVec
	submissions  *prometheus.CounterVec
	giveUps      prometheus.Counter
	state        *prometheus.GaugeVec
}

func NewPromRecorder(registry prometheus.Registerer) *PromRecorder {
	factory := promauto.With(registry)
	return &PromRecorder{
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kimaid_auth_attempts_total",
			Help: "Authentication attempts against Kimai by outcome",
		}, []string{"outcome"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kimaid_submissions_total",
			Help: "Timesheet entry submissions by outcome",
		}, []string{"outcome"}),
		giveUps: factory.NewCounter(prometheus.CounterOpts{
			Name: "kimaid_auth_give_ups_total",
			Help: "Times automatic authentication retries were abandoned",
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kimaid_auth_state",
			Help: "1 for the current authentication state, 0 otherwise",
		}, []string{"state"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (r *PromRecorder) AuthAttempt(ok bool) {
	r.authAttempts.WithLabelValues(outcome(ok)).Inc()
}

func (r *PromRecorder) Submission(ok bool) {
	r.submissions.WithLabelValues(outcome(ok)).Inc()
}

func (r *PromRecorder) GaveUp() {
	r.giveUps.Inc()
}

func (r *PromRecorder) State(current domain.AuthState) {
	for _, state := range authStates {
		value := 0.0
		if state == current {
			value = 1
		}
		r.state.WithLabelValues(string(state)).Set(value)
	}
}

// MetricsServer serves /metrics and /healthz for the daemon.
type MetricsServer struct {
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func NewMetricsServer(gatherer prometheus.Gatherer, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MetricsServer{gatherer: gatherer, logger: logger}
}

func (m *MetricsServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (m *MetricsServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("start metrics listener: %w", err)
	}
	srv := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 2 * time.Second,
	}
	m.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

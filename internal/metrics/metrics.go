// Package metrics exposes run outcomes as Prometheus series:
//
//	grvt_rounds_total{kind,state}       rounds by kind and terminal state
//	grvt_round_errors_total{kind}       failed or imbalanced rounds by error kind
//	grvt_imbalances_total{outcome}      imbalances by remediation outcome
//	grvt_volume_usd_total               notional traded across both accounts
//	grvt_filled_contracts_total         hedged size in contracts
//	grvt_halts_total                    runs stopped by the halt policy
//	grvt_run_active                     1 while a run is in progress
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
)

// Recorder is an engine sink that updates the collectors.
type Recorder struct {
	rounds     *prometheus.CounterVec
	errs       *prometheus.CounterVec
	imbalances *prometheus.CounterVec
	volume     prometheus.Counter
	filled     prometheus.Counter
	halts      prometheus.Counter
	active     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	m := &Recorder{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grvt_rounds_total",
			Help: "Rounds finished, by kind and terminal state.",
		}, []string{"kind", "state"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grvt_round_errors_total",
			Help: "Rounds that ended with an error, by error kind.",
		}, []string{"kind"}),
		imbalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grvt_imbalances_total",
			Help: "Leg imbalances, by remediation outcome.",
		}, []string{"outcome"}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grvt_volume_usd_total",
			Help: "Notional traded by both accounts, valued at round mid.",
		}),
		filled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grvt_filled_contracts_total",
			Help: "Hedged size filled on both legs, in contracts.",
		}),
		halts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grvt_halts_total",
			Help: "Runs halted before completion.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grvt_run_active",
			Help: "1 while a run is in progress.",
		}),
	}
	reg.MustRegister(m.rounds, m.errs, m.imbalances, m.volume, m.filled, m.halts, m.active)
	return m
}

// Handle implements engine.Sink.
func (m *Recorder) Handle(ev event.Event) {
	switch e := ev.(type) {
	case *event.RunStartedEvent:
		m.active.Set(1)
	case *event.RoundFinishedEvent:
		m.round(&e.Round)
	case *event.ImbalanceRecordedEvent:
		outcome := string(e.Imbalance.Outcome)
		if outcome == "" {
			outcome = "UNHANDLED"
		}
		m.imbalances.WithLabelValues(outcome).Inc()
	case *event.RunFinishedEvent:
		m.active.Set(0)
	case *event.SystemHaltEvent:
		m.halts.Inc()
	}
}

func (m *Recorder) round(r *domain.Round) {
	m.rounds.WithLabelValues(string(r.Kind), string(r.State)).Inc()
	if r.ErrorText != "" {
		m.errs.WithLabelValues(r.ErrorKind.String()).Inc()
	}
	if v := domain.RoundVolume(r); v.IsPositive() {
		m.volume.Add(v.InexactFloat64())
	}
	if h := r.HedgedSize(); h > 0 {
		m.filled.Add(h.Decimal().InexactFloat64())
	}
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving metrics", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

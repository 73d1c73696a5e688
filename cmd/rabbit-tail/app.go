package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"rabbittail/internal/binding"
	"rabbittail/internal/config"
	"rabbittail/internal/constants"
	"rabbittail/internal/filter"
	"rabbittail/internal/logger"
	"rabbittail/internal/output"
	"rabbittail/internal/pipeline"
	"rabbittail/internal/subscription"
	"rabbittail/pkg/bootstrap"
	"rabbittail/pkg/circuitbreaker"
	"rabbittail/pkg/health"
	"rabbittail/pkg/metrics"
	"rabbittail/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	sink           output.Sink
	controller     *pipeline.Controller
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger, stdout io.Writer) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
		sink: output.NewWriterSink(stdout),
	}
}

// Initialize compiles bindings and filters before touching the network,
// so configuration mistakes fail fast, then connects and builds the
// pipeline.
func (a *App) Initialize(ctx context.Context) error {
	tail := a.Config.Tail

	parser := binding.Parser{Delimiter: tail.BindingDelimiter, Wildcard: binding.Wildcard}
	specs, err := parser.ParseAll(tail.Bindings)
	if err != nil {
		return err
	}

	f, err := filter.Compile(tail.Filter,
		filter.WithWhere(tail.Where),
		filter.WithPretty(tail.Pretty),
	)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register(prometheus.DefaultRegisterer)

	if err := a.InitTransport(ctx); err != nil {
		return err
	}

	opts := subscription.Options{
		Prefix:          tail.QueuePrefix,
		MaxBacklog:      tail.MaxLength,
		IncludeHost:     tail.IncludeHost,
		BindConcurrency: tail.BindConcurrency,
	}
	if cb := a.Config.CircuitBreaker; cb.Enabled {
		opts.Breaker = &circuitbreaker.Config{
			Name:         "startup",
			MaxRequests:  cb.MaxRequests,
			Interval:     cb.Interval,
			Timeout:      cb.Timeout,
			FailureRatio: cb.FailureRatio,
			MinRequests:  cb.MinRequests,
		}
	}
	manager := subscription.New(a.Transport, specs, opts, a.Logger)

	a.controller = pipeline.New(manager, f, a.sink, pipeline.Options{
		AutoStop: tail.AutoStop,
		Rate:     tail.Rate,
	}, a.Logger)

	if a.Config.Metrics.Addr != "" {
		a.initHTTPServer()
	}

	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewBrokerChecker(a.Transport))
	healthRegistry.Register(health.NewStateChecker("pipeline", func() error {
		switch state := a.controller.State(); state {
		case pipeline.StateFailed:
			return errors.New("pipeline failed")
		case pipeline.StateConsuming:
			return nil
		default:
			return fmt.Errorf("pipeline %s: %w", state, health.ErrDegraded)
		}
	}))

	mux.Handle("/health", tracing.HTTPHandler(healthRegistry.Handler(), "health"))
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: constants.MetricsServerTimeout,
	}
}

// Run blocks until auto-stop, a signal, or a fatal error. Auto-stop and
// signals return nil.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.Debugw("Metrics server starting", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer done()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case err := <-a.Transport.Lost():
			return err
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		defer cancel()
		if err := a.controller.Start(gCtx); err != nil {
			return err
		}
		return a.controller.Wait(gCtx)
	})

	return g.Wait()
}

func (a *App) Consumed() int {
	if a.controller == nil {
		return 0
	}
	return a.controller.Consumed()
}

func (a *App) Shutdown(ctx context.Context) error {
	if a.controller != nil {
		a.controller.Stop()
	}

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			tpCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			if err := a.tracerProvider.Shutdown(tpCtx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

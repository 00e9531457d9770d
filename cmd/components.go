package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/browser"
	"github.com/xkilldash9x/stepdriver/internal/browser/dompage"
	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/llmclient"
	"github.com/xkilldash9x/stepdriver/internal/observability"
	"github.com/xkilldash9x/stepdriver/internal/orchestrator"
	"github.com/xkilldash9x/stepdriver/internal/suggest"
)

const shutdownTimeout = 10 * time.Second

// components holds the long-lived parts of a run so they can be shut down
// in reverse order of creation.
type components struct {
	Orchestrator *orchestrator.Orchestrator

	logger    *zap.Logger
	closers   []func(context.Context) error
	metricSrv *http.Server
}

// newBrowserFactory picks the driver named in browser.driver.
func newBrowserFactory(cfg config.BrowserConfig, logger *zap.Logger) (schemas.BrowserFactory, func(context.Context) error, error) {
	switch cfg.Driver {
	case config.DriverChromedp:
		m := browser.NewManager(cfg, logger)
		return m, m.Close, nil
	case config.DriverDOM:
		return dompage.NewFactory(cfg, logger), func(context.Context) error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// newSuggester builds the LLM-backed suggester when parser.suggester_enabled
// is set. It returns nil, nil otherwise.
func newSuggester(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*suggest.Suggester, schemas.LLMClient, error) {
	if !cfg.Parser().SuggesterEnabled {
		return nil, nil, nil
	}
	client, err := llmclient.NewClient(ctx, cfg.Agent(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	s, err := suggest.New(client, cfg.Agent(), logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return s, client, nil
}

// initializeComponents wires the browser driver, the optional suggester, metrics
// and the orchestrator. On error, whatever was created is shut down.
func initializeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (rt *components, err error) {
	rt = &components{logger: logger}
	defer func() {
		if err != nil {
			rt.Shutdown(ctx)
			rt = nil
		}
	}()

	factory, closeFactory, err := newBrowserFactory(cfg.Browser(), logger)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, closeFactory)

	opts := []orchestrator.Option{}
	s, client, err := newSuggester(ctx, cfg, logger)
	if err != nil {
		return rt, err
	}
	if s != nil {
		opts = append(opts, orchestrator.WithSuggester(s))
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
	}

	if mc := cfg.Metrics(); mc.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, orchestrator.WithMetrics(observability.NewMetrics(mc.Namespace, reg)))
		rt.startMetricsServer(mc.Address, reg)
	}

	o, err := orchestrator.New(cfg, logger, factory, opts...)
	if err != nil {
		return rt, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	rt.Orchestrator = o
	rt.closers = append(rt.closers, o.Close)
	o.Start(ctx)
	return rt, nil
}

func (rt *components) startMetricsServer(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	rt.metricSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.metricSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("Metrics server failed.", zap.Error(err))
		}
	}()
	rt.logger.Info("Serving metrics.", zap.String("address", addr))
}

// Shutdown releases every component, most recently created first.
func (rt *components) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("Error during shutdown.", zap.Error(err))
		}
	}
	if rt.metricSrv != nil {
		if err := rt.metricSrv.Shutdown(ctx); err != nil {
			rt.logger.Warn("Failed to stop metrics server.", zap.Error(err))
		}
	}
}

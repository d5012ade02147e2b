package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hanpama/chaingraph/internal/chain"
	"github.com/hanpama/chaingraph/internal/config"
	"github.com/hanpama/chaingraph/internal/eventbus"
	"github.com/hanpama/chaingraph/internal/executor"
	"github.com/hanpama/chaingraph/internal/introspection"
	"github.com/hanpama/chaingraph/internal/logging"
	"github.com/hanpama/chaingraph/internal/metrics"
	"github.com/hanpama/chaingraph/internal/otel"
	"github.com/hanpama/chaingraph/internal/resolver"
	"github.com/hanpama/chaingraph/internal/server"
)

func (c *cli) serve(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	cfg, err := config.Parse(fs, args, config.ChainFlags, config.GuestFlags, config.ServerFlags, config.LogFlags)
	if err != nil {
		fmt.Fprint(c.stderr, serveUsage)
		return err
	}
	log, err := logging.New(withConsole(cfg.Log, c.stderr))
	if err != nil {
		return err
	}
	defer log.Sync()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	client, err := dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	h, cleanup, err := buildHandler(ctx, cfg, log, client, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("GraphQL server listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("endpoint", cfg.Chain.Endpoint))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildHandler wires the GraphQL stack over rpc: metadata, query module,
// schema assembly, resolver runtime, introspection, HTTP handler and metrics.
func buildHandler(ctx context.Context, cfg *config.Config, log *zap.Logger, rpc chain.RPC, reg *prometheus.Registry) (http.Handler, func(), error) {
	st, err := loadStack(ctx, cfg, log, rpc)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){st.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	doc, err := st.assemble(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var guest resolver.Guest
	if st.guest != nil {
		guest = st.guest
	}
	var rt executor.Runtime = resolver.New(doc, st.store, guest, st.cls,
		resolver.WithLogger(log),
		resolver.WithGuestConcurrency(cfg.Guest.Concurrency))
	sch := doc.Schema
	if cfg.GraphQL.Introspection {
		w := introspection.Wrap(rt, sch)
		rt, sch = w.Runtime, w.Schema
	}

	sopts := []server.Option{
		server.WithLogger(log),
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithGraphiQL(cfg.Server.GraphiQL),
		server.WithBatchConcurrency(cfg.Server.BatchConcurrency),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h, err := server.New(rt, sch, sopts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	if cfg.Metrics.Path != "" {
		col := metrics.New()
		unsubscribe, err := col.Register(reg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("register metrics: %w", err)
		}
		closers = append(closers, unsubscribe)
		col.SchemaWarnings.Set(float64(len(doc.Warnings)))
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
	}
	return mux, cleanup, nil
}

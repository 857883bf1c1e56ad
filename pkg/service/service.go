// Package service drives the resolver's full lifecycle: load config,
// build the downstream handler graph, start the configured listeners,
// then block until a shutdown signal arrives. It mirrors
// Service/Resolver.py's Start function.
package service

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/config"
	"github.com/zhenghaven/ModularDNS/pkg/mlog"
	"github.com/zhenghaven/ModularDNS/pkg/safe_close"
)

// Service owns the built downstream collection and listener set for
// one Start/Stop lifecycle, matching the Resolver object's role in
// Resolver.py: it is the thing __main__.py's resolve command builds
// and tears down.
type Service struct {
	logger *zap.Logger
	sc     *safe_close.SafeClose
}

// Start loads cfg, builds the downstream and server graphs, and blocks
// until SIGINT/SIGTERM is received, then tears everything down in
// reverse order, matching Resolver.Start's
// DownstreamCollection.FromConfig -> ServerCollection.FromConfig ->
// ThreadedServeUntilTerminate -> WaitUntilSignals().Wait() sequence.
func Start(cfg *config.Config) error {
	logger, err := mlog.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("service: building logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.WrapRegistererWithPrefix("modulardns_", prometheus.DefaultRegisterer)

	registry := config.NewRegistry(reg)

	dc, err := config.BuildDownstream(registry, cfg.Downstream, logger)
	if err != nil {
		return fmt.Errorf("service: building downstream collection: %w", err)
	}
	defer dc.Terminate()

	servers, err := config.BuildServers(registry, dc, cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("service: building server collection: %w", err)
	}
	if len(servers) == 0 {
		return fmt.Errorf("service: no server is configured")
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	sc := safe_close.NewSafeClose()
	s := &Service{logger: logger, sc: sc}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		select {
		case sig := <-sigCh:
			s.logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			sc.SendCloseSignal(nil)
		case <-closeSignal:
		}
	})

	s.logger.Info("resolver started", zap.Int("servers", len(servers)))
	sc.CloseWait()
	return sc.Err()
}

// Package app wires the eventbus service together.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/eventbus/common"
	"github.com/YaganovValera/eventbus/common/httpserver"
	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/common/telemetry"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/config"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/metrics"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/source/binance"
	"github.com/YaganovValera/eventbus/services/eventbus/pkg/publisher"
)

// Run starts the publishers, the HTTP server and the realtime source, and
// blocks until ctx is done. Buffered records are flushed on the way out.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)
	metrics.Register(nil)

	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.WithoutCancel(ctx)) }, log)

	hub, err := BuildHub(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("build publishers: %w", err)
	}
	defer shutdownSafe(ctx, "publishers", func() error {
		// ctx is already cancelled here; the final flush gets its own budget
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return hub.Close(closeCtx)
	}, log)

	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start publishers: %w", err)
	}

	httpSrv, err := httpserver.New(cfg.HTTP, hub.Ping, log, PublisherRoutes(hub))
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })

	if cfg.Binance.Enabled {
		conn, err := binance.NewConnector(cfg.Binance, log)
		if err != nil {
			return fmt.Errorf("binance connector init: %w", err)
		}
		src := binance.NewSource(conn, hub, log)
		g.Go(func() error { return src.Run(gctx) })
	} else {
		log.Info("binance source disabled; publishers accept events from the embedding process only")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.WithContext(ctx).Info("eventbus stopped by context")
	return nil
}

// PublisherRoutes mounts publisher introspection and a manual flush.
func PublisherRoutes(hub *publisher.Hub) httpserver.RouteFunc {
	return func(r chi.Router) {
		r.Get("/publishers", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, hub.Stats())
		})
		r.Post("/publishers/flush", func(w http.ResponseWriter, req *http.Request) {
			if err := hub.Flush(req.Context()); err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, hub.Stats())
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Validate builds every enabled publisher without connecting and closes
// them again.
func Validate(cfg *config.Config, log *logger.Logger) error {
	hub, err := BuildHub(cfg, nil, log)
	if err != nil {
		return err
	}
	return hub.Close(context.Background())
}

// shutdownSafe wraps a Close/Shutdown call with logging.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}

// Command server boots the image delivery process: load configuration,
// wire the codec/resize registry, storage backend, worker pool, and
// bucket registry, then serve HTTP until a termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelic/imageserver/bucket"
	"github.com/kestrelic/imageserver/codec"
	"github.com/kestrelic/imageserver/config"
	"github.com/kestrelic/imageserver/core"
	"github.com/kestrelic/imageserver/hooks"
	"github.com/kestrelic/imageserver/httpapi"
	"github.com/kestrelic/imageserver/resize"
	"github.com/kestrelic/imageserver/storage"
	"github.com/kestrelic/imageserver/workerpool"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	workers := flag.Int("workers", 0, "CPU-bound worker pool size (0 = NumCPU)")
	flag.Parse()

	logger := hooks.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var registry *core.DefaultRegistry
	switch cfg.Resizer {
	case config.ResizerVips:
		vipsEngine := resize.NewVips(resize.VipsConfig{DefaultQuality: 85, MaxCacheSize: 100, MaxWorkers: *workers})
		defer vipsEngine.Shutdown()
		// codec.Default wires the four stdlib codecs; vips.Supports only
		// covers JPEG/PNG/WebP, so those three are re-registered onto the
		// vips codec while GIF keeps decoding through the stdlib codec.
		// Hybrid routes Resize to vips or, for the GIF case libvips can't
		// touch, the pure-Go golang.org/x/image/draw fallback, since the
		// two codecs hand back incompatible Image implementations.
		registry = codec.Default(resize.NewHybrid(vipsEngine, resize.NewXImage()))
		registry.RegisterCodec(core.KindJPEG, vipsEngine)
		registry.RegisterCodec(core.KindPNG, vipsEngine)
		registry.RegisterCodec(core.KindWebP, vipsEngine)
	default:
		registry = codec.Default(resize.NewImaging())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Build(ctx, cfg.Backend)
	cancel()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	pool := workerpool.New(*workers, 0)
	defer pool.Stop()

	metrics := hooks.NewInMemoryMetrics()

	registries, err := bucket.Build(cfg, registry, store, pool, logger, metrics)
	if err != nil {
		log.Fatalf("bucket registry: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) { c.Status(200) })

	handler := httpapi.New(registries, int64(cfg.MaxUploadSizeKB)*1024, logger)
	handler.RegisterRoutes(router, cfg.BaseServingPath)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", "error", err.Error())
		}
	}()
	logger.Info("server started", "addr", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-sig

	logger.Info("shutting down", "msg", "draining in-flight requests")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err.Error())
	}
}

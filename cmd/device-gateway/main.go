// Command device-gateway runs the device-authenticated LLM metering proxy.
// Callers register an opaque device_id, then authenticate with it as a
// bearer token; the gateway forwards requests upstream with its own
// credential and meters token usage against a per-device daily cap.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/protagonist-labs/device-gateway/internal/api"
	"github.com/protagonist-labs/device-gateway/internal/api/handlers"
	"github.com/protagonist-labs/device-gateway/internal/config"
	"github.com/protagonist-labs/device-gateway/internal/quota"
	"github.com/protagonist-labs/device-gateway/internal/registry"
	"github.com/protagonist-labs/device-gateway/internal/upstream"
	"github.com/protagonist-labs/device-gateway/internal/usage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file (optional)")
	flag.Parse()

	// .env is optional; environment always wins over the YAML file.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	setupLogging(cfg)

	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY is not set, upstream calls will be rejected by the provider")
	}

	reg, err := registry.NewSQLiteRegistry(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open device registry")
	}
	defer reg.Close()

	store, err := usage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open usage store")
	}
	defer store.Close()

	mgr := config.NewManager(cfg, configPath)
	guard := quota.NewGuard(reg, store, mgr.DailyTokenLimit)

	openaiClient := upstream.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	braveClient := upstream.NewBraveClient("", cfg.BraveAPIKey)

	h := handlers.New(reg, store, guard, openaiClient, braveClient)
	router := api.NewRouter(h, guard)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if configPath != "" {
		go func() {
			if err := mgr.Watch(ctx); err != nil {
				log.WithError(err).Warn("config watcher stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{
		"addr":        cfg.Addr(),
		"daily_limit": cfg.DailyTokenLimit,
		"db_path":     cfg.DBPath,
		"search":      braveClient.Configured(),
	}).Info("device gateway listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}

func setupLogging(cfg *config.Config) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		log.SetLevel(log.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}
}

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vigil/internal/api"
	"vigil/internal/blob"
	"vigil/internal/classify"
	"vigil/internal/clip"
	"vigil/internal/conf"
	"vigil/internal/detect"
	"vigil/internal/ingest"
	"vigil/internal/notify"
	"vigil/internal/reconcile"
	"vigil/internal/session"
	"vigil/internal/store"
)

func main() {
	log.SetPrefix("")
	log.SetFlags(log.Ldate | log.Ltime)

	settings, err := conf.Load()
	if err != nil {
		log.Fatalf("[Main] failed to load configuration: %v", err)
	}

	st, err := store.New(settings.Store.Path)
	if err != nil {
		log.Fatalf("[Main] failed to open detection store: %v", err)
	}
	defer st.Close()

	blobs, err := blob.NewLocalStore(settings.Blob.Dir, settings.Blob.BaseURL)
	if err != nil {
		log.Fatalf("[Main] failed to initialize clip store: %v", err)
	}

	clipper, err := clip.New(clip.Config{
		ScratchDir: settings.Clip.ScratchDir,
		FPS:        settings.Clip.FPS,
		Binary:     settings.Clip.FFmpeg,
	})
	if err != nil {
		log.Fatalf("[Main] failed to initialize clipper: %v", err)
	}

	classifier := classify.NewClient(classify.Config{
		Endpoint: settings.Classifier.Endpoint,
		Timeout:  settings.Classifier.Timeout,
	})

	registry := session.NewRegistry(session.RegistryConfig{
		Window:        settings.Buffer.Window,
		FPS:           settings.Buffer.FPS,
		Cooldown:      settings.Session.Cooldown,
		ReapInterval:  settings.Session.ReapInterval,
		IdleRetention: settings.Session.IdleRetention,
	})
	registry.StartReaper()
	defer registry.Stop()

	orchestrator := detect.New(settings.Buffer.Window, clipper, blobs, st)

	router := ingest.NewRouter(registry, classifier, orchestrator, ingest.NewAlertHub(), ingest.Config{
		ClassifyTimeout: settings.Ingest.ClassifyTimeout,
		VerdictQueue:    settings.Ingest.VerdictQueue,
	})

	notifier, err := buildNotifier(settings)
	if err != nil {
		log.Fatalf("[Main] failed to configure notifications: %v", err)
	}

	reconciler := reconcile.New(st, notifier, blobs, reconcile.Config{
		Interval:    settings.Reconcile.Interval,
		Abandonment: settings.Reconcile.Abandonment,
	})
	reconciler.Start()
	defer reconciler.Stop()

	e := newServer(settings, router, registry, st, classifier)

	go func() {
		addr := net.JoinHostPort(settings.Server.Host, settings.Server.Port)
		log.Printf("[Main] listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main] server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("[Main] received %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] server shutdown: %v", err)
	}
}

// buildNotifier assembles the delivery channels enabled by configuration.
func buildNotifier(settings *conf.Settings) (notify.Notifier, error) {
	var channels []notify.Notifier

	if len(settings.Notify.URLs) > 0 {
		sn, err := notify.NewShoutrrrNotifier(settings.Notify.URLs, settings.Notify.Timeout)
		if err != nil {
			return nil, err
		}
		channels = append(channels, sn)
	}

	if settings.Notify.Telegram.Token != "" {
		tn, err := notify.NewTelegramNotifier(notify.TelegramConfig{
			BotToken: settings.Notify.Telegram.Token,
			ChatID:   settings.Notify.Telegram.ChatID,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, tn)
	}

	if len(channels) == 0 {
		log.Printf("[Main] no notification channels configured, alerts will not be delivered anywhere")
	}
	return notify.NewMulti(channels...), nil
}

// newServer wires the HTTP surface: ingest and viewer websockets, the
// read-only status API, and static clip serving.
func newServer(settings *conf.Settings, router *ingest.Router, registry *session.Registry, st *store.Store, classifier *classify.Client) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetOutput(io.Discard)
	e.Use(middleware.Recover())
	if settings.Debug {
		e.Use(middleware.Logger())
	}

	e.GET("/ws/stream", router.HandleStream)
	e.GET("/ws/alerts/:source_id", router.HandleAlerts)

	api.New(registry, st, classifier).Register(e.Group("/api/v1"))

	e.Static("/clips", settings.Blob.Dir)
	return e
}

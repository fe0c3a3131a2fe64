package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medivoice/backend/internal/config"
	"github.com/medivoice/backend/internal/handler"
	streamHandler "github.com/medivoice/backend/internal/handler/stream"
	"github.com/medivoice/backend/internal/metrics"
	"github.com/medivoice/backend/internal/service/analysis"
	conversationService "github.com/medivoice/backend/internal/service/conversation"
	profileService "github.com/medivoice/backend/internal/service/profile"
	"github.com/medivoice/backend/internal/service/realtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	store := conversationService.NewStore(m)
	conns := realtime.NewConnectionManager()

	// Upstream streaming: signaling relay plus the server-side stream manager.
	var signaler streamHandler.Signaler
	var manager *realtime.Manager
	if cfg.Realtime.Enabled() {
		signaler = realtime.NewSignalingRelay(realtime.SignalingOptions{
			BaseURL: cfg.Realtime.BaseURL,
			APIKey:  cfg.Realtime.APIKey,
			Model:   cfg.Realtime.Model,
			Voice:   cfg.Realtime.Voice,
			Timeout: cfg.Realtime.Timeout,
		}, m)
		manager = realtime.NewManager(realtime.ClientOptions{
			WSBaseURL:         cfg.Realtime.WSBaseURL,
			APIKey:            cfg.Realtime.APIKey,
			Model:             cfg.Realtime.Model,
			Voice:             cfg.Realtime.Voice,
			Instructions:      cfg.Realtime.Instructions,
			MaxResponseTokens: cfg.Realtime.MaxResponseTokens,
		}, store, m)
		log.Println("Realtime streaming initialized successfully")
	} else {
		log.Println("OpenAI credentials not configured, streaming routes will report unavailable")
	}

	// Post-consultation analysis.
	var reporter streamHandler.Reporter
	if cfg.Analysis.Enabled() {
		analysisSvc, err := analysis.NewService(ctx, cfg.Analysis, m)
		if err != nil {
			log.Printf("warning: failed to initialize analysis service: %v", err)
			log.Println("continuing without consultation analysis")
		} else {
			reporter = analysisSvc
			log.Println("Analysis service initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, skipping consultation analysis")
	}

	// Patient profile store.
	var profiles *profileService.Client
	if cfg.Profile.Enabled() {
		profiles = profileService.NewClient(cfg.Profile)
		log.Println("Profile store initialized successfully")
	} else {
		log.Println("Supabase credentials not configured, profile routes disabled")
	}

	router := handler.NewRouter(handler.Deps{
		Store:    store,
		Signaler: signaler,
		Manager:  manager,
		Conns:    conns,
		Reporter: reporter,
		Profiles: profiles,
	})

	startServer(ctx, cfg.Server, router)

	// Drain the live connections after the listener stops accepting.
	if manager != nil {
		manager.StopAll()
	}
	conns.CloseAll()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("MediVoice backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

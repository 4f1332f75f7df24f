// Package app wires every component together and runs the service.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	"github.com/EasterCompany/dex-voice-responder/cleanup"
	"github.com/EasterCompany/dex-voice-responder/config"
	"github.com/EasterCompany/dex-voice-responder/coordinator"
	"github.com/EasterCompany/dex-voice-responder/events"
	"github.com/EasterCompany/dex-voice-responder/health"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/playback"
	"github.com/EasterCompany/dex-voice-responder/render"
	"github.com/EasterCompany/dex-voice-responder/session"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
	"github.com/EasterCompany/dex-voice-responder/tts"
	"github.com/bwmarrin/discordgo"
)

const version = "1.0.0"

type App struct {
	Config      *config.AllConfig
	Session     *discordgo.Session
	Logger      logger.Logger
	Store       cache.Cache
	TTS         *tts.Client
	Lock        *speechlock.Lock
	Registry    *session.Registry
	Coordinator *coordinator.Coordinator
	Status      *health.StatusServer
}

func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		return nil, fmt.Errorf("fatal error loading config: %w", err)
	}

	s, err := session.NewSession(cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	var appLogger logger.Logger = logger.NewStderrLogger()
	if cfg.Discord.LogChannelID != "" {
		appLogger = logger.NewLogger(s, cfg.Discord.LogChannelID)
	}

	var store cache.Cache
	db, err := cache.New(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if db == nil {
		// No cache configured: lock records live in process memory, which
		// still coordinates every guild served by this instance.
		appLogger.Info("No cache configured, using in-memory lock store")
		store = cache.NewMemory()
	} else {
		store = db
	}

	ttsClient, err := tts.NewClient(ctx, cfg.Voice)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize TTS client: %w", err)
	}

	grace := time.Duration(cfg.Voice.LockGraceMs) * time.Millisecond
	lock := speechlock.New(store, appLogger, grace)
	registry := session.NewRegistry()
	status := health.NewStatusServer(cfg.Discord.StatusPort, version, s, store, cfg.Redis, appLogger)

	coord := coordinator.New(
		lock,
		render.NewPipeline(ttsClient, lock, appLogger),
		playback.NewSequencer(
			lock,
			appLogger,
			time.Duration(cfg.Voice.StartTimeoutMs)*time.Millisecond,
			time.Duration(cfg.Voice.MaxPlayMs)*time.Millisecond,
		),
		registry,
		appLogger,
	)
	coord.Metrics = status

	return &App{
		Config:      cfg,
		Session:     s,
		Logger:      appLogger,
		Store:       store,
		TTS:         ttsClient,
		Lock:        lock,
		Registry:    registry,
		Coordinator: coord,
		Status:      status,
	}, nil
}

func (a *App) Run() {
	handler := events.NewHandler(a.Coordinator, a.Registry, a.Config.Voice, a.Logger, a.Status)
	handler.Register(a.Session)

	if err := a.Session.Open(); err != nil {
		a.Logger.Fatal("Error opening connection to Discord", err)
	}

	// Locks left behind by a crashed run would block speech for a full TTL.
	cleanup.SweepStaleLocks(context.Background(), a.Store, a.Logger)

	if err := a.Status.Start(); err != nil {
		a.Logger.Error("Failed to start status server", err)
	}

	fmt.Println("Bot is now running. Press CTRL-C to exit.")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	_ = a.Session.Close()
	if err := a.TTS.Close(); err != nil {
		a.Logger.Error("Failed to close TTS client", err)
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close cache", err)
	}
	fmt.Println("Bot shutting down.")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := loadConfig()
	setupLogger(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().Msg("starting voice exporter")

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating discord session")
	}
	dg.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentGuildMembers

	tracker := newVoiceTracker()
	b := &bot{tracker: tracker, guilds: cfg.Guilds}

	dg.AddHandler(b.handleReady)
	dg.AddHandler(b.handleGuildCreate)
	dg.AddHandler(b.handleVoiceStateUpdate)
	dg.AddHandler(b.handleUserUpdate)
	dg.AddHandler(b.handleGuildMemberUpdate)

	err = dg.Open()
	if err != nil {
		log.Fatal().Err(err).Msg("error opening connection to discord gateway")
	}
	defer dg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	smp := &sampler{
		source:   &sessionSource{session: dg, guilds: cfg.Guilds},
		tracker:  tracker,
		interval: cfg.TickInterval,
	}
	go smp.run(ctx)

	srv := newMetricsServer(cfg.Address())
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("error starting metrics server")
		}
	}()

	log.Info().Msg("voice exporter has started")

	// Gracefully handle shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("interrupt caught, shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down metrics server")
	}
}

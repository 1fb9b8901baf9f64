package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogger(cfg Config) {

	if cfg.Environment != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}
	log.Logger = log.With().Caller().Logger()

	zerolog.SetGlobalLevel(cfg.LogLevel)
	log.Info().Msgf("setting log level to %s", cfg.LogLevel.String())

}

// VoiceLog annotates an event with the guild/channel/user triple common to
// all voice transitions.
func VoiceLog(guildID, channelID, userID string, event *zerolog.Event) *zerolog.Event {
	event = event.
		Str("guild", guildID).
		Str("channel", channelID).
		Str("user", userID)
	return event
}

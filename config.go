package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	tokenEnvironmentVariable       string = "DISCORD_TOKEN"
	promPortEnvironmentVariable    string = "PROM_PORT"
	tickSecondsEnvironmentVariable string = "TICK_SECONDS"
	guildEnvironmentVariable       string = "BOT_GUILD_ID"
	logLevelEnvironmentVariable    string = "BOT_LOG_LEVEL"
	environmentEnvironmentVariable string = "BOT_ENVIRONMENT"

	defaultPromPort    int           = 9108
	defaultTickSeconds time.Duration = 5 * time.Second
)

type Config struct {
	Token        string
	PromPort     int
	TickInterval time.Duration
	Guilds       []string
	LogLevel     zerolog.Level
	Environment  string
}

// Address is the listen address for the metrics HTTP server.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.PromPort)
}

var loadEnvOnce sync.Once

func loadEnv() {
	if os.Getenv(tokenEnvironmentVariable) == "" {
		// Best effort: running without a .env file is fine as long as
		// the environment itself is populated.
		_ = godotenv.Load()
	}
}

func loadConfig() (Config, error) {
	loadEnvOnce.Do(loadEnv)

	cfg := Config{
		PromPort:     defaultPromPort,
		TickInterval: defaultTickSeconds,
		LogLevel:     zerolog.InfoLevel,
		Environment:  os.Getenv(environmentEnvironmentVariable),
	}
	var errs []error

	cfg.Token = os.Getenv(tokenEnvironmentVariable)
	if cfg.Token == "" {
		errs = append(errs, fmt.Errorf("environment variable %s is not set", tokenEnvironmentVariable))
	}

	if v := os.Getenv(promPortEnvironmentVariable); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("invalid %s %q", promPortEnvironmentVariable, v))
		} else {
			cfg.PromPort = p
		}
	}

	if v := os.Getenv(tickSecondsEnvironmentVariable); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s %q", tickSecondsEnvironmentVariable, v))
		} else {
			cfg.TickInterval = time.Duration(secs * float64(time.Second))
		}
	}

	cfg.Guilds = splitAndTrim(os.Getenv(guildEnvironmentVariable))

	if v := os.Getenv(logLevelEnvironmentVariable); v != "" {
		level, err := zerolog.ParseLevel(v)
		if err != nil || level == zerolog.NoLevel {
			errs = append(errs, fmt.Errorf("invalid %s %q", logLevelEnvironmentVariable, v))
		} else {
			cfg.LogLevel = level
		}
	}

	return cfg, errors.Join(errs...)
}

// guildEnabled reports whether the guild is being tracked. An empty
// allowlist tracks every guild the bot has joined.
func guildEnabled(guilds []string, guildID string) bool {
	if len(guilds) == 0 {
		return true
	}
	for _, id := range guilds {
		if id == guildID {
			return true
		}
	}
	return false
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

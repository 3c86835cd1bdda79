package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognised on top of the YAML file.
const (
	EnvBotToken      = "TELEGRAM_BOT_TOKEN"
	EnvChatID        = "TELEGRAM_CHAT_ID"
	EnvBotTokenWomen = "TELEGRAM_BOT_TOKEN_WOMEN"
	EnvChatIDWomen   = "TELEGRAM_CHAT_ID_WOMEN"
	EnvPort          = "PORT"
	EnvStatePath     = "STOCKWATCH_STATE_PATH"
	EnvRedisURL      = "REDIS_URL"
	EnvEnvironment   = "STOCKWATCH_ENV"
	EnvOTLPEndpoint  = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName   = "OTEL_SERVICE_NAME"
)

// LoadDotEnv populates the process environment from the given dotenv files.
// Missing files are ignored and variables already set are left untouched.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func lookupTrimmed(lookup lookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// applyEnv overlays environment variables onto the configuration.
func (c *AppConfig) applyEnv(lookup lookupFunc) {
	if v, ok := lookupTrimmed(lookup, EnvEnvironment); ok {
		c.Environment = Environment(strings.ToLower(v))
	}

	if c.Notify.Destinations == nil {
		c.Notify.Destinations = map[string]Destination{}
	}
	c.overlayDestination(lookup, FilterMen, EnvBotToken, EnvChatID)
	c.overlayDestination(lookup, FilterWomen, EnvBotTokenWomen, EnvChatIDWomen)

	if v, ok := lookupTrimmed(lookup, EnvPort); ok {
		if _, err := strconv.Atoi(v); err == nil {
			c.Server.Addr = ":" + v
		}
	}
	if v, ok := lookupTrimmed(lookup, EnvStatePath); ok {
		c.State.Path = v
	}
	if v, ok := lookupTrimmed(lookup, EnvRedisURL); ok {
		c.State.Redis.URL = v
		c.State.Backend = BackendRedis
	}

	if v, ok := lookupTrimmed(lookup, EnvOTLPEndpoint); ok {
		c.Telemetry.OTLPEndpoint = v
	}
	if v, ok := lookupTrimmed(lookup, EnvServiceName); ok {
		c.Telemetry.ServiceName = v
	}
}

func (c *AppConfig) overlayDestination(lookup lookupFunc, filter, tokenKey, chatKey string) {
	dest := c.Notify.Destinations[filter]
	if v, ok := lookupTrimmed(lookup, tokenKey); ok {
		dest.BotToken = v
	}
	if v, ok := lookupTrimmed(lookup, chatKey); ok {
		dest.ChatID = v
	}
	if dest.BotToken != "" || dest.ChatID != "" {
		c.Notify.Destinations[filter] = dest
	}
}

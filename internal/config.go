package internal

import (
	"chat-roulette/domain/matchmaking"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0" validate:"required"`
	Port     int    `env:"PORT,default=8787" validate:"gt=0,lte=65535"`
	GRPCPort int    `env:"GRPC_PORT,default=0" validate:"gte=0,lte=65535"`
	LogLevel string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	// DebugPort serves the Badger inspector when LOG_LEVEL is DEBUG, 0 disables it
	DebugPort      int    `env:"DEBUG_PORT,default=0" validate:"gte=0,lte=65535"`
	BadgerFilepath string `env:"BADGER_FILEPATH"`

	MatchmakerBufferSize int           `env:"MATCHMAKER_BUFFER_SIZE,default=1024" validate:"gt=0"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"gt=0"`
	PairingStrategy      string        `env:"PAIRING_STRATEGY,default=immediate" validate:"oneof=immediate batched"`
	PairingInterval      time.Duration `env:"PAIRING_INTERVAL,default=5s" validate:"gt=0"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=256" validate:"gt=0"`
	MaxUsernameLength    int           `env:"MAX_USERNAME_LENGTH,default=32" validate:"gt=0"`

	RateLimitQuantum   time.Duration `env:"RATE_LIMIT_QUANTUM,default=1s" validate:"gt=0"`
	RateLimitBurst     time.Duration `env:"RATE_LIMIT_BURST,default=5s" validate:"gte=0"`
	LimiterIdleTimeout time.Duration `env:"LIMITER_IDLE_TIMEOUT,default=1m" validate:"gt=0"`
	ActorCallTimeout   time.Duration `env:"ACTOR_CALL_TIMEOUT,default=2s" validate:"gt=0"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,default=30s" validate:"gt=0"`

	CensoredWords   string `env:"CENSORED_WORDS"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
	CORSAllow       string `env:"CORS_ALLOW,default=*" validate:"required"`
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := CharacterRune(config.CharReplacement); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Strategy() matchmaking.PairingStrategy {
	strategy, err := matchmaking.ParsePairingStrategy(c.PairingStrategy)
	if err != nil {
		return matchmaking.Immediate
	}
	return strategy
}

// AllowedOrigins splits CORS_ALLOW on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllow, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

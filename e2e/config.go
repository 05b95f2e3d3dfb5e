package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CHAT_SERVER_ADDR is the host:port of a running server, the suite is skipped without it
	ServerAddr string `envconfig:"CHAT_SERVER_ADDR"`
	// CHAT_GRPC_ADDR enables the ops checks when the server exposes gRPC
	GrpcAddr string `envconfig:"CHAT_GRPC_ADDR"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

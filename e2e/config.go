package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_RELAY_ADDR is the base URL of a running relay, e.g. http://localhost:8080
	RelayAddr string `envconfig:"E2E_RELAY_ADDR"`
	// E2E_GRPC_ADDR is its gRPC health endpoint; empty skips the health step
	GRPCAddr   string `envconfig:"E2E_GRPC_ADDR"`
	AuthSecret string `envconfig:"E2E_AUTH_SECRET"`
	AuthIssuer string `envconfig:"E2E_AUTH_ISSUER" default:"https://cognito-idp.local/e2e"`
	// E2E_DEBUG_JSON dumps full HTTP response bodies
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

package internal

import (
	"chat-relay/errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is populated once at startup from the environment and validated eagerly.
type Config struct {
	LogLevel       string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true" validate:"required"`
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	GRPCPort       int    `env:"GRPC_PORT,default=0" validate:"min=0,max=65535"`

	ConnectionTTL    time.Duration `env:"CONNECTION_TTL,default=720h" validate:"gt=0"`
	RegistryPageSize int           `env:"REGISTRY_PAGE_SIZE,default=25" validate:"min=1"`

	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=5s" validate:"gt=0"`
	BroadcastTimeout     time.Duration `env:"BROADCAST_TIMEOUT,default=30s" validate:"gt=0"`
	BroadcastConcurrency int           `env:"BROADCAST_CONCURRENCY,default=0" validate:"min=0"`

	BufferSize         int           `env:"BUFFER_SIZE,default=256" validate:"min=1"`
	NumberOfWorkers    int           `env:"NUMBER_OF_WORKERS,default=2" validate:"min=1"`
	RedeliveryInterval time.Duration `env:"REDELIVERY_INTERVAL,default=10s" validate:"gt=0"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL,default=15s" validate:"gt=0"`

	MaxContentLength int `env:"MAX_CONTENT_LENGTH,default=5000" validate:"min=1"`
	// CENSORED_WORDS is a comma separated list masked out of message content
	CensoredWords string `env:"CENSORED_WORDS"`

	AuthSecret             string        `env:"AUTH_SECRET"`
	AuthJWKSURL            string        `env:"AUTH_JWKS_URL" validate:"omitempty,url"`
	AuthJWKSTTL            time.Duration `env:"AUTH_JWKS_TTL,default=1h" validate:"gt=0"`
	AuthIssuer             string        `env:"AUTH_ISSUER"`
	AuthInsecureSkipVerify bool          `env:"AUTH_INSECURE_SKIP_VERIFY,default=false"`

	AdminAPIKey      string `env:"ADMIN_API_KEY"`
	HTTPRateLimit    int    `env:"HTTP_RATE_LIMIT,default=50" validate:"min=0"`
	WSInsecureOrigin bool   `env:"WS_INSECURE_SKIP_ORIGIN,default=false"`
}

var validate = validator.New()

// Validate fails fast on anything the server cannot run without.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConfiguration, err)
	}
	if c.AuthSecret == "" && c.AuthJWKSURL == "" && !c.AuthInsecureSkipVerify {
		return errors.Configuration("one of AUTH_SECRET, AUTH_JWKS_URL or AUTH_INSECURE_SKIP_VERIFY must be set")
	}
	if c.AuthSecret != "" && c.AuthJWKSURL != "" {
		return errors.Configuration("AUTH_SECRET and AUTH_JWKS_URL are mutually exclusive")
	}
	if c.BroadcastTimeout < c.DeliveryTimeout {
		return errors.Configuration("BROADCAST_TIMEOUT (%s) must not be shorter than DELIVERY_TIMEOUT (%s)",
			c.BroadcastTimeout, c.DeliveryTimeout)
	}
	return nil
}

// Address is the HTTP listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) NormalizedLogLevel() string {
	return strings.ToUpper(c.LogLevel)
}

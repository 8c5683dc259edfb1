// Package config loads server configuration from the environment, the
// same way the rest of this codebase's ambient stack does: env vars with
// struct-tag defaults, optionally seeded from a ".env" file in
// development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// RadioConfig holds the packet-radio server's (cmd/bbsd) configuration.
type RadioConfig struct {
	StorePath       string `env:"PS_STORE_PATH" envDefault:"bbs.sqlite3"`
	ZeoAddressFile  string `env:"PS_ZEO_ADDRESS_FILE" envDefault:"zeo-address.txt"`
	DirectoryRoot   string `env:"PS_DIRECTORY_ROOT" envDefault:"./rendezvous"`
	TNCEnabled      bool   `env:"PS_TNC_ENABLED" envDefault:"false"`
	JobsImage       string `env:"PS_JOBS_IMAGE" envDefault:"packetbbs/runner:latest"`
	JobsNamePrefix  string `env:"PS_JOBS_NAME_PREFIX" envDefault:"bbsjob-"`
	MaxActiveJobs   int    `env:"PS_MAX_ACTIVE_JOBS" envDefault:"4"`
	ContainerKeepalive time.Duration `env:"PS_CONTAINER_KEEPALIVE" envDefault:"10m"`
	DefaultJobTimeout  time.Duration `env:"PS_DEFAULT_JOB_TIMEOUT" envDefault:"5m"`
	MaxJobTimeout      time.Duration `env:"PS_MAX_JOB_TIMEOUT" envDefault:"30m"`
	LogLevel        string `env:"PS_LOG_LEVEL" envDefault:"info"`
	MetricsAddr     string `env:"PS_METRICS_ADDR" envDefault:":9090"`
}

// LoadRadio reads RadioConfig from the environment, optionally seeded by a
// ".env" file (best-effort; its absence is not an error).
func LoadRadio() (*RadioConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("config: no .env file found, using environment variables only")
	}
	cfg := &RadioConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse radio config: %w", err)
	}
	return cfg, nil
}

// HTTPConfig holds the HTTP façade's (cmd/bbsweb) configuration under the
// PS_APP_* prefix: zeo address file path, log level, operator name and
// debug flag, plus the façade's own knobs.
type HTTPConfig struct {
	Addr           string `env:"PS_APP_ADDR" envDefault:":8080"`
	StorePath      string `env:"PS_APP_STORE_PATH" envDefault:"bbs.sqlite3"`
	ZeoAddressFile string `env:"PS_APP_ZEO_ADDRESS_FILE" envDefault:"zeo-address.txt"`
	LogLevel       string `env:"PS_APP_LOG_LEVEL" envDefault:"info"`
	Operator       string `env:"PS_APP_OPERATOR"`
	Debug          bool   `env:"PS_APP_DEBUG" envDefault:"false"`
	Argon2Time     uint32 `env:"PS_APP_ARGON2_TIME" envDefault:"1"`
	Argon2Memory   uint32 `env:"PS_APP_ARGON2_MEMORY_KB" envDefault:"65536"`
	Argon2Threads  uint8  `env:"PS_APP_ARGON2_THREADS" envDefault:"4"`
}

// LoadHTTP reads HTTPConfig from the environment.
func LoadHTTP() (*HTTPConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("config: no .env file found, using environment variables only")
	}
	cfg := &HTTPConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse http config: %w", err)
	}
	return cfg, nil
}

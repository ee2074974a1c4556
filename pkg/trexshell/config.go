package trexshell

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/logger"
)

const EnvPrefix = "TREXSHELL"

type Config struct {
	LoggerConfig logger.Config `ignored:"true"`

	Listen            string        `envconfig:"LISTEN" default:":8080"`
	ArtifactDir       string        `envconfig:"ARTIFACT_DIR"`
	KeepAliveInterval time.Duration `envconfig:"KEEP_ALIVE_INTERVAL" default:"2s"`
	SimPorts          int           `envconfig:"SIM_PORTS" default:"2"` // ports per simulated chassis
	User              string        `envconfig:"TREX_USER" default:"trex"`
	Service           string        `envconfig:"SERVICE_NAME" default:"TRex Controller"`

	// From For CLI Flags
	FastClock bool `ignored:"true"` // シミュレータの時計を手動で進める
}

// LoadConfig reads TREXSHELL_* environment variables. The logger settings
// use the same prefix, e.g. TREXSHELL_LOG_JSON.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to load config")
	}
	if err := envconfig.Process(EnvPrefix, &cfg.LoggerConfig); err != nil {
		return cfg, errors.Wrap(err, "failed to load logger config")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.KeepAliveInterval <= 0 {
		return errors.New("keep alive interval must be positive")
	}
	if c.SimPorts <= 0 {
		return errors.New("sim ports must be positive")
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if c.Service == "" {
		return errors.New("service name is required")
	}
	return nil
}

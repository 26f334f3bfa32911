package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Entry submissions retry transient failures up to MaxAttempts with
	// capped exponential backoff. Protective orders get extra attempts; an
	// unprotected position is worse than a slow cycle.
	MaxAttempts           int           `envconfig:"EXEC_MAX_ATTEMPTS" default:"3"`
	ProtectiveMaxAttempts int           `envconfig:"EXEC_PROTECTIVE_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay        time.Duration `envconfig:"EXEC_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay         time.Duration `envconfig:"EXEC_RETRY_MAX_DELAY" default:"8s"`

	// CycleTimeoutFactor bounds one cycle at factor x cadence.
	CycleTimeoutFactor int `envconfig:"CYCLE_TIMEOUT_FACTOR" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/acronis/go-kvsched/retry"
)

const cfgDefaultKeyPrefix = "kvScheduler"

const (
	cfgKeyIterationCycle          = "iterationCycle"
	cfgKeyDrainGraceDelay         = "drainGraceDelay"
	cfgKeyWorkersIdleTimeout      = "workers.idleTimeout"
	cfgKeyRetryMaxAttempts        = "retry.maxAttempts"
	cfgKeyRetryIntermission       = "retry.intermission"
	cfgKeyRetryExponentialBackoff = "retry.exponentialBackoff"
)

// Default retry parameters exposed through the configuration.
const (
	defaultRetryMaxAttempts        = retry.DefaultMaxAttempts
	defaultRetryIntermission       = retry.DefaultIntermission
	defaultRetryExponentialBackoff = true
)

// Config represents a set of configuration parameters for the Scheduler.
// Configuration can be loaded in different formats (YAML, JSON) using
// config.Loader, viper, or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	IterationCycle  config.TimeDuration `mapstructure:"iterationCycle" yaml:"iterationCycle" json:"iterationCycle"`
	DrainGraceDelay config.TimeDuration `mapstructure:"drainGraceDelay" yaml:"drainGraceDelay" json:"drainGraceDelay"`
	Workers         WorkersConfig       `mapstructure:"workers" yaml:"workers" json:"workers"`
	Retry           RetryConfig         `mapstructure:"retry" yaml:"retry" json:"retry"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:       opts.keyPrefix,
		IterationCycle:  config.TimeDuration(DefaultIterationCycle),
		DrainGraceDelay: config.TimeDuration(DefaultDrainGraceDelay),
		Workers: WorkersConfig{
			IdleTimeout: config.TimeDuration(DefaultWorkerIdleTimeout),
		},
		Retry: RetryConfig{
			MaxAttempts:        defaultRetryMaxAttempts,
			Intermission:       config.TimeDuration(defaultRetryIntermission),
			ExponentialBackoff: defaultRetryExponentialBackoff,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the Scheduler in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyIterationCycle, DefaultIterationCycle)
	dp.SetDefault(cfgKeyDrainGraceDelay, DefaultDrainGraceDelay)
	dp.SetDefault(cfgKeyWorkersIdleTimeout, DefaultWorkerIdleTimeout)
	dp.SetDefault(cfgKeyRetryMaxAttempts, defaultRetryMaxAttempts)
	dp.SetDefault(cfgKeyRetryIntermission, defaultRetryIntermission)
	dp.SetDefault(cfgKeyRetryExponentialBackoff, defaultRetryExponentialBackoff)
}

// Set sets scheduler configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	var dur time.Duration

	if dur, err = dp.GetDuration(cfgKeyIterationCycle); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyIterationCycle, fmt.Errorf("iteration cycle must be positive"))
	}
	c.IterationCycle = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyDrainGraceDelay); err != nil {
		return err
	}
	c.DrainGraceDelay = config.TimeDuration(dur)

	if err = c.Workers.Set(dp); err != nil {
		return err
	}
	return c.Retry.Set(dp)
}

// SchedulerOpts builds scheduler options from the configuration.
func (c *Config) SchedulerOpts() Opts {
	return Opts{
		IterationCycle:    time.Duration(c.IterationCycle),
		DrainGraceDelay:   time.Duration(c.DrainGraceDelay),
		WorkerIdleTimeout: time.Duration(c.Workers.IdleTimeout),
	}
}

// WorkersConfig represents configuration parameters of the execution worker pool.
type WorkersConfig struct {
	// IdleTimeout is how long a worker stays alive waiting for the next operation.
	IdleTimeout config.TimeDuration `mapstructure:"idleTimeout" yaml:"idleTimeout" json:"idleTimeout"`
}

// Set sets worker pool configuration values from config.DataProvider.
func (w *WorkersConfig) Set(dp config.DataProvider) error {
	dur, err := dp.GetDuration(cfgKeyWorkersIdleTimeout)
	if err != nil {
		return err
	}
	w.IdleTimeout = config.TimeDuration(dur)
	return nil
}

// RetryConfig represents default parameters for the retry guard that callers
// compose around their submissions.
type RetryConfig struct {
	MaxAttempts        int                 `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	Intermission       config.TimeDuration `mapstructure:"intermission" yaml:"intermission" json:"intermission"`
	ExponentialBackoff bool                `mapstructure:"exponentialBackoff" yaml:"exponentialBackoff" json:"exponentialBackoff"`
}

// Set sets retry configuration values from config.DataProvider.
func (r *RetryConfig) Set(dp config.DataProvider) error {
	var err error

	if r.MaxAttempts, err = dp.GetInt(cfgKeyRetryMaxAttempts); err != nil {
		return err
	}
	if r.MaxAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyRetryMaxAttempts, fmt.Errorf("maxAttempts must be at least 1"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyRetryIntermission); err != nil {
		return err
	}
	r.Intermission = config.TimeDuration(dur)

	if r.ExponentialBackoff, err = dp.GetBool(cfgKeyRetryExponentialBackoff); err != nil {
		return err
	}
	return nil
}

// Policy builds a retry.Policy from the configuration.
func (r *RetryConfig) Policy() retry.Policy {
	if r.ExponentialBackoff {
		return retry.NewExponentialPolicy(time.Duration(r.Intermission), r.MaxAttempts)
	}
	return retry.NewConstantPolicy(time.Duration(r.Intermission), r.MaxAttempts)
}

package policies

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// PolicyFile is the parsed form of a policy definition file: a YAML document
// declaring named policies, each with an optional retry and circuit breaker
// section based on a preset plus field overrides.
//
// Example:
//
//	policies:
//	  - name: payments
//	    retry:
//	      enabled: true
//	      preset: fast
//	      max_retries: 4
//	    circuit_breaker:
//	      enabled: true
//	      failure_threshold: 3
//	      recovery_timeout: 5s
type PolicyFile struct {
	Policies []PolicyFileEntry `mapstructure:"policies"`
}

// PolicyFileEntry is one named policy declaration.
type PolicyFileEntry struct {
	Name           string            `mapstructure:"name"`
	Retry          RetryFileConfig   `mapstructure:"retry"`
	CircuitBreaker BreakerFileConfig `mapstructure:"circuit_breaker"`
}

// RetryFileConfig declares the retry layer. Nil override fields keep the
// preset's value; durations are strings like "100ms" or "2s".
type RetryFileConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Preset        string   `mapstructure:"preset"`
	MaxRetries    *int     `mapstructure:"max_retries"`
	BaseDelay     string   `mapstructure:"base_delay"`
	MaxDelay      string   `mapstructure:"max_delay"`
	BackoffFactor *float64 `mapstructure:"backoff_factor"`
	Jitter        *bool    `mapstructure:"jitter"`
}

// BreakerFileConfig declares the circuit breaker layer. Nil override fields
// keep the preset's value; durations are strings like "5s" or "1m".
type BreakerFileConfig struct {
	Enabled                  bool     `mapstructure:"enabled"`
	Preset                   string   `mapstructure:"preset"`
	FailureThreshold         *int     `mapstructure:"failure_threshold"`
	RecoveryTimeout          string   `mapstructure:"recovery_timeout"`
	MonitoringPeriod         string   `mapstructure:"monitoring_period"`
	HalfOpenMaxCalls         *int     `mapstructure:"half_open_max_calls"`
	VolumeThreshold          *int     `mapstructure:"volume_threshold"`
	ErrorThresholdPercentage *float64 `mapstructure:"error_threshold_percentage"`
}

// LoadPolicyFile reads and validates a policy definition file.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file %q: %w", path, err)
	}

	var file PolicyFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal policy file %q: %w", path, err)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file %q: %w", path, err)
	}

	return &file, nil
}

// Validate checks the declared policies for structural problems: missing
// names, unknown presets, malformed durations, and out-of-range thresholds.
func (f *PolicyFile) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Policies,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validatePolicyEntry)),
		),
	)
}

func validatePolicyEntry(value interface{}) error {
	entry, ok := value.(PolicyFileEntry)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a PolicyFileEntry")
	}

	return validation.ValidateStruct(&entry,
		validation.Field(&entry.Name, validation.Required),
		validation.Field(&entry.Retry, validation.By(validateRetrySection)),
		validation.Field(&entry.CircuitBreaker, validation.By(validateBreakerSection)),
	)
}

func validateRetrySection(value interface{}) error {
	section, ok := value.(RetryFileConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RetryFileConfig")
	}
	if !section.Enabled {
		return nil
	}

	return validation.ValidateStruct(&section,
		validation.Field(&section.Preset, validation.By(validatePresetName)),
		validation.Field(&section.MaxRetries, validation.By(validateOptionalMin(0, "max_retries"))),
		validation.Field(&section.BaseDelay, validation.By(validateOptionalDuration)),
		validation.Field(&section.MaxDelay, validation.By(validateOptionalDuration)),
	)
}

func validateBreakerSection(value interface{}) error {
	section, ok := value.(BreakerFileConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BreakerFileConfig")
	}
	if !section.Enabled {
		return nil
	}

	return validation.ValidateStruct(&section,
		validation.Field(&section.Preset, validation.By(validatePresetName)),
		validation.Field(&section.FailureThreshold, validation.By(validateOptionalMin(1, "failure_threshold"))),
		validation.Field(&section.RecoveryTimeout, validation.By(validateOptionalDuration)),
		validation.Field(&section.MonitoringPeriod, validation.By(validateOptionalDuration)),
		validation.Field(&section.HalfOpenMaxCalls, validation.By(validateOptionalMin(1, "half_open_max_calls"))),
		validation.Field(&section.VolumeThreshold, validation.By(validateOptionalMin(1, "volume_threshold"))),
		validation.Field(&section.ErrorThresholdPercentage, validation.By(validatePercentage)),
	)
}

func validatePresetName(value interface{}) error {
	name, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	switch Preset(name) {
	case "", PresetFast, PresetStandard, PresetConservative, PresetAggressive:
		return nil
	default:
		return validation.NewError("validation_unknown_preset",
			fmt.Sprintf("unknown preset %q", name))
	}
}

func validateOptionalDuration(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if str == "" {
		return nil
	}

	if _, err := time.ParseDuration(str); err != nil {
		return validation.NewError("validation_invalid_duration",
			"must be a valid duration (e.g., 100ms, 5s, 1m)")
	}

	return nil
}

func validateOptionalMin(minimum int, field string) validation.RuleFunc {
	return func(value interface{}) error {
		ptr, ok := value.(*int)
		if !ok {
			return validation.NewError("validation_invalid_type", "must be an integer")
		}
		if ptr == nil {
			return nil
		}

		if *ptr < minimum {
			return validation.NewError("validation_below_minimum",
				fmt.Sprintf("%s must be at least %d", field, minimum))
		}

		return nil
	}
}

func validatePercentage(value interface{}) error {
	ptr, ok := value.(*float64)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a number")
	}
	if ptr == nil {
		return nil
	}

	if *ptr < 0 || *ptr > 100 {
		return validation.NewError("validation_invalid_percentage", "must be between 0 and 100")
	}

	return nil
}

// toPolicyConfig resolves an entry's presets and overrides into an explicit
// PolicyConfig. Validate must have passed first; malformed durations are
// still rejected here for callers that build entries programmatically.
func (e PolicyFileEntry) toPolicyConfig() (PolicyConfig, error) {
	config := PolicyConfig{
		RetryEnabled:   e.Retry.Enabled,
		BreakerEnabled: e.CircuitBreaker.Enabled,
	}

	if e.Retry.Enabled {
		retryConfig, err := e.Retry.resolve()
		if err != nil {
			return PolicyConfig{}, err
		}
		config.Retry = retryConfig
	}

	if e.CircuitBreaker.Enabled {
		breakerConfig, err := e.CircuitBreaker.resolve()
		if err != nil {
			return PolicyConfig{}, err
		}
		config.Breaker = breakerConfig
	}

	return config, nil
}

func (c RetryFileConfig) resolve() (*RetryConfig, error) {
	config, err := PresetRetryConfig(Preset(c.Preset))
	if err != nil {
		return nil, err
	}

	if c.MaxRetries != nil {
		config.MaxRetries = *c.MaxRetries
	}
	if c.BaseDelay != "" {
		d, err := time.ParseDuration(c.BaseDelay)
		if err != nil {
			return nil, fmt.Errorf("base_delay: %w", err)
		}
		config.BaseDelay = d
	}
	if c.MaxDelay != "" {
		d, err := time.ParseDuration(c.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("max_delay: %w", err)
		}
		config.MaxDelay = d
	}
	if c.BackoffFactor != nil {
		config.BackoffFactor = *c.BackoffFactor
	}
	if c.Jitter != nil {
		config.Jitter = *c.Jitter
	}

	return config, nil
}

func (c BreakerFileConfig) resolve() (*CircuitBreakerConfig, error) {
	config, err := PresetCircuitBreakerConfig(Preset(c.Preset))
	if err != nil {
		return nil, err
	}

	if c.FailureThreshold != nil {
		config.FailureThreshold = *c.FailureThreshold
	}
	if c.RecoveryTimeout != "" {
		d, err := time.ParseDuration(c.RecoveryTimeout)
		if err != nil {
			return nil, fmt.Errorf("recovery_timeout: %w", err)
		}
		config.RecoveryTimeout = d
	}
	if c.MonitoringPeriod != "" {
		d, err := time.ParseDuration(c.MonitoringPeriod)
		if err != nil {
			return nil, fmt.Errorf("monitoring_period: %w", err)
		}
		config.MonitoringPeriod = d
	}
	if c.HalfOpenMaxCalls != nil {
		config.HalfOpenMaxCalls = *c.HalfOpenMaxCalls
	}
	if c.VolumeThreshold != nil {
		config.VolumeThreshold = *c.VolumeThreshold
	}
	if c.ErrorThresholdPercentage != nil {
		config.ErrorThresholdPercentage = *c.ErrorThresholdPercentage
	}

	return config, nil
}

// LoadFromFile loads a policy definition file and registers every declared
// policy, replacing any existing registrations with the same names.
func (m *Manager) LoadFromFile(path string) error {
	file, err := LoadPolicyFile(path)
	if err != nil {
		return err
	}

	for _, entry := range file.Policies {
		config, err := entry.toPolicyConfig()
		if err != nil {
			return fmt.Errorf("policy %q: %w", entry.Name, err)
		}
		if err := m.Register(entry.Name, config); err != nil {
			return err
		}
	}

	m.logger.Info("policies loaded from file",
		"path", path,
		"count", len(file.Policies))

	return nil
}

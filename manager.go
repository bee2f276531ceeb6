package policies

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager is an explicit registry of named policies, each binding a retry
// executor and a circuit breaker built from its configuration. Callers hold a
// Manager reference and execute guarded operations by policy name; there is
// no process-wide registry.
type Manager struct {
	mu       sync.RWMutex
	policies map[string]*policyEntry
	logger   *slog.Logger
	reporter ErrorReporter
}

// policyEntry is one registered policy. Re-registration replaces the whole
// entry, so executor stats and breaker history never migrate between
// configurations.
type policyEntry struct {
	name         string
	config       PolicyConfig
	retry        *RetryExecutor[any]
	breaker      *CircuitBreaker[any]
	registeredAt time.Time
}

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger inherited by policies that do not carry
// their own.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerReporter sets the error reporter inherited by policies that do
// not carry their own.
func WithManagerReporter(reporter ErrorReporter) ManagerOption {
	return func(m *Manager) {
		m.reporter = reporter
	}
}

// NewManager creates an empty policy registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		policies: make(map[string]*policyEntry),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.reporter == nil {
		m.reporter = NopReporter{}
	}

	return m
}

// Register builds and registers a policy under name. Registering an existing
// name fully replaces the previous policy: the old executor and breaker are
// discarded along with their counters and history. Unknown presets fail
// without touching the existing registration.
func (m *Manager) Register(name string, config PolicyConfig) error {
	entry := &policyEntry{
		name:         name,
		config:       config,
		registeredAt: time.Now(),
	}

	if config.RetryEnabled {
		retryConfig, err := m.resolveRetryConfig(name, config)
		if err != nil {
			return fmt.Errorf("register policy %q: %w", name, err)
		}
		entry.retry = newRetryExecutorFromConfig[any](retryConfig)
	}

	if config.BreakerEnabled {
		breakerConfig, err := m.resolveBreakerConfig(config)
		if err != nil {
			return fmt.Errorf("register policy %q: %w", name, err)
		}
		entry.breaker = newCircuitBreakerFromConfig[any](name, breakerConfig)
	}

	m.mu.Lock()
	_, replaced := m.policies[name]
	m.policies[name] = entry
	m.mu.Unlock()

	m.logger.Info("policy registered",
		"policy", name,
		"replaced", replaced,
		"retry_enabled", config.RetryEnabled,
		"breaker_enabled", config.BreakerEnabled)

	return nil
}

func (m *Manager) resolveRetryConfig(name string, config PolicyConfig) (*RetryConfig, error) {
	var retryConfig *RetryConfig
	if config.Retry != nil {
		clone := *config.Retry
		retryConfig = &clone
	} else {
		preset, err := PresetRetryConfig(config.RetryPreset)
		if err != nil {
			return nil, err
		}
		retryConfig = preset
	}

	retryConfig.Name = name
	if retryConfig.Logger == nil {
		retryConfig.Logger = m.logger
	}
	if retryConfig.Reporter == nil {
		retryConfig.Reporter = m.reporter
	}

	return retryConfig, nil
}

func (m *Manager) resolveBreakerConfig(config PolicyConfig) (*CircuitBreakerConfig, error) {
	var breakerConfig *CircuitBreakerConfig
	if config.Breaker != nil {
		clone := *config.Breaker
		breakerConfig = &clone
	} else {
		preset, err := PresetCircuitBreakerConfig(config.BreakerPreset)
		if err != nil {
			return nil, err
		}
		breakerConfig = preset
	}

	if breakerConfig.Logger == nil {
		breakerConfig.Logger = m.logger
	}
	if breakerConfig.Reporter == nil {
		breakerConfig.Reporter = m.reporter
	}

	return breakerConfig, nil
}

// Unregister removes a policy, reporting whether it existed.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	_, existed := m.policies[name]
	delete(m.policies, name)
	m.mu.Unlock()

	if existed {
		m.logger.Info("policy unregistered", "policy", name)
	}

	return existed
}

// Policies returns the registered policy names.
func (m *Manager) Policies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.policies))
	for name := range m.policies {
		names = append(names, name)
	}

	return names
}

func (m *Manager) lookup(name string) (*policyEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.policies[name]

	return entry, ok
}

// ExecuteWithPolicy runs the operation under the named policy. The breaker
// is the inner layer and retry the outer one, so each retry attempt is
// independently subject to fail-fast rejection: a single logical call can
// fail fast without delay while the breaker is open, and still exhaust its
// retry budget once the breaker admits calls again. An unregistered name
// fails with ErrPolicyNotFound without invoking the operation; a policy with
// neither layer enabled runs the operation unguarded.
func ExecuteWithPolicy[T any](ctx context.Context, m *Manager, name string, op Operation[T]) (T, error) {
	var zero T

	entry, ok := m.lookup(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrPolicyNotFound, name)
	}

	guarded := func(ctx context.Context) (any, error) {
		return op(ctx)
	}

	if entry.breaker != nil {
		inner := guarded
		guarded = func(ctx context.Context) (any, error) {
			return entry.breaker.Execute(ctx, inner)
		}
	}

	var out any
	var err error
	if entry.retry != nil {
		result := entry.retry.Execute(ctx, guarded)
		out, err = result.Data, result.Err
	} else {
		out, err = guarded(ctx)
	}

	if err != nil {
		return zero, err
	}

	// out came from op, so the assertion only misses a typed nil.
	value, _ := out.(T)

	return value, nil
}

// Execute is the untyped convenience form of ExecuteWithPolicy.
func (m *Manager) Execute(ctx context.Context, name string, op Operation[any]) (any, error) {
	return ExecuteWithPolicy(ctx, m, name, op)
}

// PolicyMetrics is the read-only introspection snapshot of one policy.
type PolicyMetrics struct {
	// Policy is the policy name.
	Policy string

	// RegisteredAt is when the current instance was registered.
	RegisteredAt time.Time

	// Breaker is the breaker metrics snapshot, nil when the breaker layer is
	// disabled.
	Breaker *CircuitBreakerMetrics

	// Retry is the cumulative retry statistics, nil when the retry layer is
	// disabled.
	Retry *RetryStats
}

// PolicyMetrics returns the metrics snapshot for a named policy.
func (m *Manager) PolicyMetrics(name string) (PolicyMetrics, error) {
	entry, ok := m.lookup(name)
	if !ok {
		return PolicyMetrics{}, fmt.Errorf("%w: %q", ErrPolicyNotFound, name)
	}

	metrics := PolicyMetrics{
		Policy:       entry.name,
		RegisteredAt: entry.registeredAt,
	}
	if entry.breaker != nil {
		snapshot := entry.breaker.Metrics()
		metrics.Breaker = &snapshot
	}
	if entry.retry != nil {
		stats := entry.retry.Stats()
		metrics.Retry = &stats
	}

	return metrics, nil
}

// PolicyStatus summarizes one policy for health endpoints.
type PolicyStatus struct {
	// RetryEnabled reports whether the retry layer is wired.
	RetryEnabled bool `json:"retry_enabled"`

	// BreakerEnabled reports whether the breaker layer is wired.
	BreakerEnabled bool `json:"breaker_enabled"`

	// Health is the breaker health, nil when the breaker layer is disabled.
	Health *HealthStatus `json:"health,omitempty"`

	// Retry is the cumulative retry statistics, nil when the retry layer is
	// disabled.
	Retry *RetryStats `json:"retry,omitempty"`
}

// AllPoliciesStatus returns the status of every registered policy, keyed by
// name.
func (m *Manager) AllPoliciesStatus() map[string]PolicyStatus {
	m.mu.RLock()
	entries := make([]*policyEntry, 0, len(m.policies))
	for _, entry := range m.policies {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	status := make(map[string]PolicyStatus, len(entries))
	for _, entry := range entries {
		s := PolicyStatus{
			RetryEnabled:   entry.retry != nil,
			BreakerEnabled: entry.breaker != nil,
		}
		if entry.breaker != nil {
			health := entry.breaker.GetHealth()
			s.Health = &health
		}
		if entry.retry != nil {
			stats := entry.retry.Stats()
			s.Retry = &stats
		}
		status[entry.name] = s
	}

	return status
}

// ResetPolicy force-resets the named policy's breaker. Retry configuration
// and statistics are untouched. Policies without a breaker layer reset to a
// no-op.
func (m *Manager) ResetPolicy(name string) error {
	entry, ok := m.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrPolicyNotFound, name)
	}

	if entry.breaker != nil {
		entry.breaker.Reset()
	}

	return nil
}

// ResetAllPolicies force-resets every registered policy's breaker.
func (m *Manager) ResetAllPolicies() {
	m.mu.RLock()
	entries := make([]*policyEntry, 0, len(m.policies))
	for _, entry := range m.policies {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		if entry.breaker != nil {
			entry.breaker.Reset()
		}
	}
}

// MaintainAll runs the maintenance pass of every breaker registered at call
// time until the context is done. Policies registered afterwards rely on
// lazy pruning until the next MaintainAll.
func (m *Manager) MaintainAll(ctx context.Context) {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker[any], 0, len(m.policies))
	for _, entry := range m.policies {
		if entry.breaker != nil {
			breakers = append(breakers, entry.breaker)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, breaker := range breakers {
		wg.Add(1)
		go func(b *CircuitBreaker[any]) {
			defer wg.Done()
			b.Maintain(ctx)
		}(breaker)
	}
	wg.Wait()
}

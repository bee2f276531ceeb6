package policies_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	policies "github.com/JohnPlummer/jp-go-policies"
)

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		manager *policies.Manager
		calls   atomic.Int32
		failure error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		manager = policies.NewManager(policies.WithManagerLogger(quietLogger()))
		calls.Store(0)
		failure = errors.New("upstream failed")
	})

	AfterEach(func() {
		cancel()
	})

	failingOp := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", failure
	}

	succeedingOp := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	}

	retryOnly := func(maxRetries int) policies.PolicyConfig {
		return policies.PolicyConfig{
			RetryEnabled: true,
			Retry: &policies.RetryConfig{
				MaxRetries: maxRetries,
				BaseDelay:  time.Millisecond,
				MaxDelay:   10 * time.Millisecond,
			},
		}
	}

	breakerOnly := func(failureThreshold int) policies.PolicyConfig {
		return policies.PolicyConfig{
			BreakerEnabled: true,
			Breaker: &policies.CircuitBreakerConfig{
				FailureThreshold: failureThreshold,
				RecoveryTimeout:  time.Minute,
				VolumeThreshold:  1000,
			},
		}
	}

	Describe("Register", func() {
		It("registers policies and lists their names", func() {
			Expect(manager.Register("payments", retryOnly(2))).To(Succeed())
			Expect(manager.Register("search", breakerOnly(3))).To(Succeed())

			Expect(manager.Policies()).To(ConsistOf("payments", "search"))
		})

		It("rejects unknown presets without touching an existing registration", func() {
			Expect(manager.Register("payments", retryOnly(2))).To(Succeed())

			err := manager.Register("payments", policies.PolicyConfig{
				RetryEnabled: true,
				RetryPreset:  "turbo",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("turbo"))

			// The original policy still behaves as configured.
			result, execErr := policies.ExecuteWithPolicy(ctx, manager, "payments", succeedingOp)
			Expect(execErr).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok"))
		})

		It("accepts named presets", func() {
			Expect(manager.Register("fast", policies.PolicyConfig{
				RetryEnabled:   true,
				RetryPreset:    policies.PresetFast,
				BreakerEnabled: true,
				BreakerPreset:  policies.PresetAggressive,
			})).To(Succeed())

			Expect(manager.Register("defaulted", policies.PolicyConfig{
				RetryEnabled:   true,
				BreakerEnabled: true,
			})).To(Succeed())
		})

		It("discards counters and history when a policy is replaced", func() {
			Expect(manager.Register("search", breakerOnly(5))).To(Succeed())

			for range 3 {
				policies.ExecuteWithPolicy(ctx, manager, "search", failingOp)
			}

			Expect(manager.Register("search", breakerOnly(3))).To(Succeed())

			// The three earlier failures are gone: two fresh ones stay under
			// the new threshold, the third opens the breaker.
			policies.ExecuteWithPolicy(ctx, manager, "search", failingOp)
			policies.ExecuteWithPolicy(ctx, manager, "search", failingOp)

			metrics, err := manager.PolicyMetrics("search")
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.Breaker.State).To(Equal(policies.StateClosed))

			policies.ExecuteWithPolicy(ctx, manager, "search", failingOp)

			metrics, err = manager.PolicyMetrics("search")
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.Breaker.State).To(Equal(policies.StateOpen))
		})
	})

	Describe("ExecuteWithPolicy", func() {
		It("fails fast on an unregistered policy without invoking the operation", func() {
			_, err := policies.ExecuteWithPolicy(ctx, manager, "missing", succeedingOp)

			Expect(err).To(MatchError(policies.ErrPolicyNotFound))
			Expect(err.Error()).To(ContainSubstring("missing"))
			Expect(calls.Load()).To(Equal(int32(0)))
		})

		It("runs the operation unguarded when neither layer is enabled", func() {
			Expect(manager.Register("plain", policies.PolicyConfig{})).To(Succeed())

			_, err := policies.ExecuteWithPolicy(ctx, manager, "plain", failingOp)
			Expect(err).To(MatchError(failure))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("retries under a retry-only policy", func() {
			Expect(manager.Register("payments", retryOnly(2))).To(Succeed())

			_, err := policies.ExecuteWithPolicy(ctx, manager, "payments",
				func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", policies.NewStatusCodeError(503, errors.New("unavailable"))
				})

			Expect(err).To(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(3)))
		})

		It("fails fast under a breaker-only policy once open", func() {
			Expect(manager.Register("search", breakerOnly(1))).To(Succeed())

			_, err := policies.ExecuteWithPolicy(ctx, manager, "search", failingOp)
			Expect(err).To(MatchError(failure))

			_, err = policies.ExecuteWithPolicy(ctx, manager, "search", succeedingOp)
			Expect(policies.IsBreakerRejection(err)).To(BeTrue())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("preserves the operation's result type", func() {
			Expect(manager.Register("count", retryOnly(1))).To(Succeed())

			value, err := policies.ExecuteWithPolicy(ctx, manager, "count",
				func(ctx context.Context) (int, error) {
					return 42, nil
				})

			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(42))
		})

		It("exposes the untyped convenience form", func() {
			Expect(manager.Register("plain", policies.PolicyConfig{})).To(Succeed())

			value, err := manager.Execute(ctx, "plain", func(ctx context.Context) (any, error) {
				return "hello", nil
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("hello"))
		})
	})

	Describe("introspection", func() {
		It("returns breaker and retry snapshots for a policy", func() {
			config := retryOnly(1)
			config.BreakerEnabled = true
			config.Breaker = &policies.CircuitBreakerConfig{
				FailureThreshold: 5,
				VolumeThreshold:  1000,
			}
			Expect(manager.Register("payments", config)).To(Succeed())

			policies.ExecuteWithPolicy(ctx, manager, "payments", succeedingOp)

			metrics, err := manager.PolicyMetrics("payments")
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.Policy).To(Equal("payments"))
			Expect(metrics.RegisteredAt).NotTo(BeZero())
			Expect(metrics.Breaker).NotTo(BeNil())
			Expect(metrics.Breaker.TotalCalls).To(Equal(1))
			Expect(metrics.Retry).NotTo(BeNil())
			Expect(metrics.Retry.TotalAttempts).To(Equal(int64(1)))
			Expect(metrics.Retry.TotalSuccesses).To(Equal(int64(1)))
		})

		It("fails on an unregistered policy", func() {
			_, err := manager.PolicyMetrics("missing")
			Expect(err).To(MatchError(policies.ErrPolicyNotFound))
		})

		It("summarizes all policies with per-layer detail", func() {
			Expect(manager.Register("payments", retryOnly(1))).To(Succeed())
			Expect(manager.Register("search", breakerOnly(3))).To(Succeed())

			status := manager.AllPoliciesStatus()
			Expect(status).To(HaveLen(2))

			Expect(status["payments"].RetryEnabled).To(BeTrue())
			Expect(status["payments"].BreakerEnabled).To(BeFalse())
			Expect(status["payments"].Health).To(BeNil())
			Expect(status["payments"].Retry).NotTo(BeNil())

			Expect(status["search"].BreakerEnabled).To(BeTrue())
			Expect(status["search"].Health).NotTo(BeNil())
			Expect(status["search"].Health.Status).To(Equal("closed"))
			Expect(status["search"].Retry).To(BeNil())
		})
	})

	Describe("reset", func() {
		It("reopens a tripped policy for traffic", func() {
			Expect(manager.Register("search", breakerOnly(1))).To(Succeed())

			policies.ExecuteWithPolicy(ctx, manager, "search", failingOp)
			_, err := policies.ExecuteWithPolicy(ctx, manager, "search", succeedingOp)
			Expect(policies.IsBreakerRejection(err)).To(BeTrue())

			Expect(manager.ResetPolicy("search")).To(Succeed())

			result, err := policies.ExecuteWithPolicy(ctx, manager, "search", succeedingOp)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok"))
		})

		It("fails to reset an unregistered policy", func() {
			Expect(manager.ResetPolicy("missing")).To(MatchError(policies.ErrPolicyNotFound))
		})

		It("resets every registered breaker", func() {
			Expect(manager.Register("a", breakerOnly(1))).To(Succeed())
			Expect(manager.Register("b", breakerOnly(1))).To(Succeed())
			Expect(manager.Register("c", retryOnly(1))).To(Succeed())

			policies.ExecuteWithPolicy(ctx, manager, "a", failingOp)
			policies.ExecuteWithPolicy(ctx, manager, "b", failingOp)

			manager.ResetAllPolicies()

			for _, name := range []string{"a", "b"} {
				metrics, err := manager.PolicyMetrics(name)
				Expect(err).NotTo(HaveOccurred())
				Expect(metrics.Breaker.State).To(Equal(policies.StateClosed))
			}
		})
	})

	Describe("Unregister", func() {
		It("removes the policy and reports whether it existed", func() {
			Expect(manager.Register("payments", retryOnly(1))).To(Succeed())

			Expect(manager.Unregister("payments")).To(BeTrue())
			Expect(manager.Unregister("payments")).To(BeFalse())

			_, err := policies.ExecuteWithPolicy(ctx, manager, "payments", succeedingOp)
			Expect(err).To(MatchError(policies.ErrPolicyNotFound))
		})
	})

	Describe("MaintainAll", func() {
		It("returns once the context is cancelled", func() {
			Expect(manager.Register("a", breakerOnly(3))).To(Succeed())
			Expect(manager.Register("b", breakerOnly(3))).To(Succeed())

			maintCtx, maintCancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				manager.MaintainAll(maintCtx)
			}()

			maintCancel()
			Eventually(done).Should(BeClosed())
		})
	})
})

package policies_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	policies "github.com/JohnPlummer/jp-go-policies"
)

var _ = Describe("IsTransient", func() {
	It("treats connection resets and refusals as transient", func() {
		Expect(policies.IsTransient(fmt.Errorf("write: %w", syscall.ECONNRESET))).To(BeTrue())
		Expect(policies.IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED))).To(BeTrue())
	})

	It("treats DNS failures as transient", func() {
		err := &net.DNSError{Err: "no such host", Name: "example.invalid", IsNotFound: true}
		Expect(policies.IsTransient(err)).To(BeTrue())
	})

	It("treats network timeouts as transient", func() {
		err := &net.OpError{Op: "read", Err: &timeoutError{}}
		Expect(policies.IsTransient(err)).To(BeTrue())
	})

	It("treats 5xx and 429 status codes as transient", func() {
		Expect(policies.IsTransient(policies.NewStatusCodeError(500, errors.New("boom")))).To(BeTrue())
		Expect(policies.IsTransient(policies.NewStatusCodeError(503, errors.New("unavailable")))).To(BeTrue())
		Expect(policies.IsTransient(policies.NewStatusCodeError(429, errors.New("slow down")))).To(BeTrue())
	})

	It("treats 4xx status codes as non-transient", func() {
		Expect(policies.IsTransient(policies.NewStatusCodeError(400, errors.New("bad request")))).To(BeFalse())
		Expect(policies.IsTransient(policies.NewStatusCodeError(404, errors.New("missing")))).To(BeFalse())
	})

	It("never treats context errors as transient", func() {
		Expect(policies.IsTransient(context.Canceled)).To(BeFalse())
		Expect(policies.IsTransient(context.DeadlineExceeded)).To(BeFalse())
		Expect(policies.IsTransient(fmt.Errorf("op: %w", context.DeadlineExceeded))).To(BeFalse())
	})

	It("treats plain application errors as non-transient", func() {
		Expect(policies.IsTransient(errors.New("validation failed"))).To(BeFalse())
		Expect(policies.IsTransient(nil)).To(BeFalse())
	})
})

var _ = Describe("DefaultRetryCondition", func() {
	It("retries breaker rejections", func() {
		condition := policies.DefaultRetryCondition()
		open := &policies.BreakerOpenError{Policy: "p", RemainingCooldown: time.Second}
		limit := &policies.HalfOpenLimitError{Policy: "p", MaxCalls: 3}

		Expect(condition(open, 0)).To(BeTrue())
		Expect(condition(limit, 0)).To(BeTrue())
	})

	It("enforces its internal attempt ceiling regardless of the error", func() {
		condition := policies.DefaultRetryCondition()
		transient := policies.NewStatusCodeError(503, errors.New("unavailable"))

		Expect(condition(transient, 8)).To(BeTrue())
		Expect(condition(transient, 9)).To(BeFalse())
		Expect(condition(transient, 50)).To(BeFalse())
	})
})

var _ = Describe("breaker errors", func() {
	It("identifies fail-fast rejections", func() {
		open := fmt.Errorf("wrapped: %w", &policies.BreakerOpenError{Policy: "p"})
		limit := fmt.Errorf("wrapped: %w", &policies.HalfOpenLimitError{Policy: "p", MaxCalls: 1})

		Expect(policies.IsBreakerRejection(open)).To(BeTrue())
		Expect(policies.IsBreakerRejection(limit)).To(BeTrue())
		Expect(policies.IsBreakerRejection(errors.New("other"))).To(BeFalse())
	})

	It("describes the open rejection with its cooldown estimate", func() {
		err := &policies.BreakerOpenError{Policy: "payments", RemainingCooldown: 3 * time.Second}
		Expect(err.Error()).To(ContainSubstring("payments"))
		Expect(err.Error()).To(ContainSubstring("3s"))
	})
})

var _ = Describe("StatusCodeError", func() {
	It("unwraps to the underlying error", func() {
		cause := errors.New("boom")
		err := policies.NewStatusCodeError(502, cause)

		Expect(errors.Is(err, cause)).To(BeTrue())

		var httpErr policies.HTTPError
		Expect(errors.As(err, &httpErr)).To(BeTrue())
		Expect(httpErr.StatusCode()).To(Equal(502))
	})
})

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

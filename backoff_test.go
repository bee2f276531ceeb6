package policies_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	policies "github.com/JohnPlummer/jp-go-policies"
)

var _ = Describe("BackoffCalculator", func() {
	Context("with jitter disabled", func() {
		It("grows exponentially until it saturates at the cap", func() {
			calc := policies.NewBackoffCalculator(100*time.Millisecond, time.Second, 2.0, false)

			Expect(calc.Delay(1)).To(Equal(100 * time.Millisecond))
			Expect(calc.Delay(2)).To(Equal(200 * time.Millisecond))
			Expect(calc.Delay(3)).To(Equal(400 * time.Millisecond))
			Expect(calc.Delay(4)).To(Equal(800 * time.Millisecond))
			Expect(calc.Delay(5)).To(Equal(time.Second))
			Expect(calc.Delay(6)).To(Equal(time.Second))
		})

		It("is non-decreasing and never exceeds the cap", func() {
			calc := policies.NewBackoffCalculator(50*time.Millisecond, 2*time.Second, 1.7, false)

			previous := time.Duration(0)
			for attempt := 1; attempt <= 20; attempt++ {
				delay := calc.Delay(attempt)
				Expect(delay).To(BeNumerically(">=", previous))
				Expect(delay).To(BeNumerically("<=", 2*time.Second))
				previous = delay
			}
		})

		It("respects a custom growth factor", func() {
			calc := policies.NewBackoffCalculator(time.Second, time.Hour, 3.0, false)

			Expect(calc.Delay(1)).To(Equal(time.Second))
			Expect(calc.Delay(2)).To(Equal(3 * time.Second))
			Expect(calc.Delay(3)).To(Equal(9 * time.Second))
		})

		It("survives attempts large enough to overflow the exponent", func() {
			calc := policies.NewBackoffCalculator(time.Second, 30*time.Second, 2.0, false)

			Expect(calc.Delay(500)).To(Equal(30 * time.Second))
		})
	})

	Context("with jitter enabled", func() {
		It("stays within [0, min(base*factor^(n-1), cap)]", func() {
			calc := policies.NewBackoffCalculator(100*time.Millisecond, time.Second, 2.0, true)

			for attempt := 1; attempt <= 10; attempt++ {
				expected := 100 * time.Millisecond << (attempt - 1)
				if expected > time.Second {
					expected = time.Second
				}

				for range 50 {
					delay := calc.Delay(attempt)
					Expect(delay).To(BeNumerically(">=", time.Duration(0)))
					Expect(delay).To(BeNumerically("<=", expected))
				}
			}
		})

		It("produces varying delays", func() {
			calc := policies.NewBackoffCalculator(time.Second, time.Minute, 2.0, true)

			seen := map[time.Duration]bool{}
			for range 20 {
				seen[calc.Delay(3)] = true
			}
			Expect(len(seen)).To(BeNumerically(">", 1))
		})
	})

	Context("edge cases", func() {
		It("returns zero for the initial attempt and negative attempts", func() {
			calc := policies.NewBackoffCalculator(time.Second, time.Minute, 2.0, false)

			Expect(calc.Delay(0)).To(BeZero())
			Expect(calc.Delay(-1)).To(BeZero())
		})

		It("returns zero when the base delay is zero", func() {
			calc := policies.NewBackoffCalculator(0, time.Minute, 2.0, false)

			Expect(calc.Delay(1)).To(BeZero())
		})

		It("falls back to doubling for a non-positive factor", func() {
			calc := policies.NewBackoffCalculator(time.Second, time.Minute, 0, false)

			Expect(calc.Delay(2)).To(Equal(2 * time.Second))
		})
	})
})

// Package policies provides a composable resilience control layer: adaptive
// retry with bounded, jittered exponential backoff, a circuit breaker driven
// by a rolling window of call outcomes, and a policy manager that binds the
// two under a name. Operations are plain functions, making the package
// suitable for HTTP clients, gRPC clients, database queries, or any other
// fallible work. It integrates with jp-go-errors for standardized
// transient-error detection.
package policies

import (
	"context"
)

// Operation is a guarded unit of work. The context controls timeouts and
// cancellation between attempts; the resilience layer never cancels an
// operation once it has started, so in-flight timeout handling belongs to
// the operation itself or an outer wrapper.
//
// Example:
//
//	fetchUser := func(ctx context.Context) (*User, error) {
//	    return userClient.Get(ctx, id)
//	}
//	user, err := policies.ExecuteWithPolicy(ctx, manager, "user-service", fetchUser)
type Operation[T any] func(ctx context.Context) (T, error)

// Package reliability provides the retry policies used around transient
// broker failures: fixed delay for bounded publish retries and exponential
// backoff with jitter for consumer reconnection loops.
//
// All policies are safe for concurrent use. Error classification is
// delegated to the errors themselves through an optional IsRetryable()
// method; unknown errors are treated as retryable.
package reliability

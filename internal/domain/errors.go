package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCircuitOpen is returned when a circuit breaker rejects a call
	// without invoking the dependency. Callers can tell "locally
	// unavailable" apart from "dependency returned an error".
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrCapacityExceeded is returned when a rate-limiter request asks for
	// more tokens than the bucket can ever hold. Caller error, not transient.
	ErrCapacityExceeded = errors.New("requested tokens exceed bucket capacity")

	// ErrDuplicatePosition is returned when opening a symbol that already
	// has an OPEN position.
	ErrDuplicatePosition = errors.New("open position already exists for symbol")

	// ErrNoOpenPosition is returned when closing a symbol with no OPEN position.
	ErrNoOpenPosition = errors.New("no open position for symbol")

	// ErrPriceUnavailable is returned when neither the stream nor the
	// point-query fallback can produce a price.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// StatusError carries the HTTP status the venue answered with, so breaker
// classification can separate server-side failures from request errors.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("venue returned status %d: %s", e.Status, e.Body)
}

// IsTripWorthy classifies an error for circuit-breaker accounting.
// Server-side failures (5xx), rate-limit/ban statuses (429, 418) and
// connection/timeout errors count against the breaker; client-side 4xx
// responses and caller-side cancellation do not, since neither says
// anything about the dependency's health.
func IsTripWorthy(err error) bool {
	if err == nil {
		return false
	}

	// The caller aborting its own request is not a venue failure.
	// Deadline expiry stays trip-worthy: a timeout is how a hung
	// dependency presents itself.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == 429 || se.Status == 418
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	// Unclassified transport-level failures (connection refused, EOF from a
	// dropped connection) arrive as plain errors from the http client.
	return true
}

// Package proxy drives the end-to-end proxying of a single HTTP exchange:
// outbound request construction, concurrent body copies, protocol upgrades,
// and the mapping of failures onto status codes and recovery behaviour.
package proxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/stream"
)

// Kind classifies the ways a proxied exchange can fail.
type Kind int

const (
	// KindNone indicates the exchange did not fail.
	KindNone Kind = iota

	// KindRequest indicates the outbound send failed before a response was
	// produced.
	KindRequest

	// KindRequestTimedOut indicates the outbound send exceeded the
	// configured timeout.
	KindRequestTimedOut

	// KindRequestCanceled indicates the inbound request was aborted during
	// the outbound send.
	KindRequestCanceled

	// KindRequestBodyCanceled indicates the request body copy was aborted.
	KindRequestBodyCanceled

	// KindRequestBodyClient indicates a read from the inbound request body
	// failed.
	KindRequestBodyClient

	// KindRequestBodyDestination indicates a write of the request body to
	// the destination failed.
	KindRequestBodyDestination

	// KindResponseBodyCanceled indicates the response body copy was
	// aborted.
	KindResponseBodyCanceled

	// KindResponseBodyClient indicates a write of the response body to the
	// inbound client failed.
	KindResponseBodyClient

	// KindResponseBodyDestination indicates a read of the response body
	// from the destination failed.
	KindResponseBodyDestination

	// KindUpgradeRequestCanceled indicates the client-to-destination
	// direction of a tunnel was aborted.
	KindUpgradeRequestCanceled

	// KindUpgradeRequestClient indicates a read from the inbound side of a
	// tunnel failed.
	KindUpgradeRequestClient

	// KindUpgradeRequestDestination indicates a write to the destination
	// side of a tunnel failed.
	KindUpgradeRequestDestination

	// KindUpgradeResponseCanceled indicates the destination-to-client
	// direction of a tunnel was aborted.
	KindUpgradeResponseCanceled

	// KindUpgradeResponseClient indicates a write to the inbound side of a
	// tunnel failed, or the inbound runtime refused to surrender it.
	KindUpgradeResponseClient

	// KindUpgradeResponseDestination indicates a read from the destination
	// side of a tunnel failed.
	KindUpgradeResponseDestination

	// KindNoAvailableDestinations indicates routing found no destination.
	// It is reported by the router, never by this package.
	KindNoAvailableDestinations
)

// String returns the well-known name of the kind.
func (kind Kind) String() string {
	switch kind {
	case KindNone:
		return "none"
	case KindRequest:
		return "request"
	case KindRequestTimedOut:
		return "request-timed-out"
	case KindRequestCanceled:
		return "request-canceled"
	case KindRequestBodyCanceled:
		return "request-body-canceled"
	case KindRequestBodyClient:
		return "request-body-client"
	case KindRequestBodyDestination:
		return "request-body-destination"
	case KindResponseBodyCanceled:
		return "response-body-canceled"
	case KindResponseBodyClient:
		return "response-body-client"
	case KindResponseBodyDestination:
		return "response-body-destination"
	case KindUpgradeRequestCanceled:
		return "upgrade-request-canceled"
	case KindUpgradeRequestClient:
		return "upgrade-request-client"
	case KindUpgradeRequestDestination:
		return "upgrade-request-destination"
	case KindUpgradeResponseCanceled:
		return "upgrade-response-canceled"
	case KindUpgradeResponseClient:
		return "upgrade-response-client"
	case KindUpgradeResponseDestination:
		return "upgrade-response-destination"
	case KindNoAvailableDestinations:
		return "no-available-destinations"
	default:
		return "unknown"
	}
}

// StatusCode returns the status to send when the failure occurs before any
// part of the response has been sent.
func (kind Kind) StatusCode() int {
	switch kind {
	case KindRequestTimedOut:
		return http.StatusGatewayTimeout
	case KindRequestBodyClient:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// IsCancellation returns true for kinds caused by cancellation rather than
// stream failure.
func (kind Kind) IsCancellation() bool {
	switch kind {
	case KindRequestCanceled,
		KindRequestBodyCanceled,
		KindResponseBodyCanceled,
		KindUpgradeRequestCanceled,
		KindUpgradeResponseCanceled:
		return true
	default:
		return false
	}
}

// Error is the terminal failure of a proxied exchange.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a description of the failure.
func (err *Error) Error() string {
	if err.Cause == nil {
		return fmt.Sprintf("proxy error: %s", err.Kind)
	}

	return fmt.Sprintf("proxy error: %s: %s", err.Kind, err.Cause)
}

// Unwrap returns the underlying cause.
func (err *Error) Unwrap() error {
	return err.Cause
}

// Stream-level reset codes signalled to the inbound runtime when a response
// can no longer be cleanly terminated. 2 reports a cancellation, 8 an
// internal error.
const (
	resetCodeCancel        uint32 = 2
	resetCodeInternalError uint32 = 8
)

// featureKey is the key under which the error feature is stored on the
// inbound context.
type featureKey struct{}

// ErrorFeature returns the failure recorded against the inbound exchange, or
// nil if it completed cleanly.
func ErrorFeature(ctx inbound.Context) *Error {
	if err, ok := ctx.Feature(featureKey{}).(*Error); ok {
		return err
	}

	return nil
}

// errInvalidArgument is the base of synchronous misuse failures.
var errInvalidArgument = errors.New("invalid argument")

// InvalidArgumentError reports misuse of the engine by its caller. It is
// returned synchronously and never recorded as an error feature.
type InvalidArgumentError struct {
	Reason string
}

// Error returns a description of the misuse.
func (err *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", errInvalidArgument, err.Reason)
}

// Unwrap returns the invalid-argument sentinel.
func (err *InvalidArgumentError) Unwrap() error {
	return errInvalidArgument
}

// requestBodyKind maps a request body copy result to its failure kind.
func requestBodyKind(result stream.Result) Kind {
	switch result {
	case stream.ResultInputError:
		return KindRequestBodyClient
	case stream.ResultOutputError:
		return KindRequestBodyDestination
	default:
		return KindRequestBodyCanceled
	}
}

// responseBodyKind maps a response body copy result to its failure kind.
func responseBodyKind(result stream.Result) Kind {
	switch result {
	case stream.ResultInputError:
		return KindResponseBodyDestination
	case stream.ResultOutputError:
		return KindResponseBodyClient
	default:
		return KindResponseBodyCanceled
	}
}

// upgradeKind maps a tunnel copy result to its failure kind, by direction.
func upgradeKind(isRequestDirection bool, result stream.Result) Kind {
	if isRequestDirection {
		switch result {
		case stream.ResultInputError:
			return KindUpgradeRequestClient
		case stream.ResultOutputError:
			return KindUpgradeRequestDestination
		default:
			return KindUpgradeRequestCanceled
		}
	}

	switch result {
	case stream.ResultInputError:
		return KindUpgradeResponseDestination
	case stream.ResultOutputError:
		return KindUpgradeResponseClient
	default:
		return KindUpgradeResponseCanceled
	}
}

// Package inbound defines the facade through which the proxy engine sees a
// single in-flight request on the hosting HTTP runtime.
package inbound

import (
	"context"
	"io"
	"net/http"
)

// Context exposes one inbound request/response exchange to the proxy engine.
//
// The request side is read-only; the response side is owned by the engine
// until proxying completes. Optional runtime capabilities are discovered by
// type assertion against the optional feature interfaces in this package.
type Context interface {
	// Method returns the request method verbatim.
	Method() string

	// Protocol returns the major and minor HTTP version of the request.
	Protocol() (major, minor int)

	// Scheme returns "http" or "https".
	Scheme() string

	// Host returns the authority the client addressed, including any port.
	Host() string

	// Path returns the request path, beginning with "/".
	Path() string

	// PathBase returns the portion of the path consumed by routing, or "".
	PathBase() string

	// RawQuery returns the query string without the leading "?".
	RawQuery() string

	// Header returns the request headers. Lookup is case-insensitive via
	// the usual canonicalised keys; values are multi-valued.
	Header() http.Header

	// HeaderOrder returns the request header names in insertion order,
	// where the runtime preserves it.
	HeaderOrder() []string

	// Body returns the request body stream. It is owned by the runtime and
	// must not be closed by the engine.
	Body() io.Reader

	// RemoteAddr returns the network address of the client.
	RemoteAddr() string

	// StatusCode returns the response status code, or zero if none has been
	// set.
	StatusCode() int

	// SetStatus sets the response status code and reason phrase. Runtimes
	// that cannot transmit a reason phrase may discard it.
	SetStatus(code int, reason string)

	// ResponseHeader returns the writable response headers.
	ResponseHeader() http.Header

	// ResponseBody returns the response body sink. The first write sends
	// the response headers.
	ResponseBody() io.Writer

	// HasStarted returns true once any part of the response has been sent.
	HasStarted() bool

	// Clear discards the pending response status and headers. It fails if
	// the response has started.
	Clear() error

	// Complete flushes any pending response headers, body and trailers.
	Complete() error

	// AbortContext returns a context that is cancelled when the client
	// disconnects or the exchange is aborted.
	AbortContext() context.Context

	// Abort terminates the exchange at the transport layer.
	Abort()

	// SetFeature attaches a per-request value for later middleware to
	// observe.
	SetFeature(key, value interface{})

	// Feature returns the value attached under key, or nil.
	Feature(key interface{}) interface{}
}

// Upgrader is an optional feature of a Context whose runtime can surrender
// the raw byte stream of the connection for protocol upgrades.
type Upgrader interface {
	// IsUpgradable returns true if the runtime permits this request to be
	// upgraded. Some runtimes report every request as upgradable.
	IsUpgradable() bool

	// Upgrade takes over the connection, returning the raw duplex stream.
	// The response headers, including the 101 status, are sent first.
	Upgrade() (io.ReadWriteCloser, error)
}

// BodyDetector is an optional feature of a Context whose runtime knows
// definitively whether the request carries a body.
type BodyDetector interface {
	// CanHaveBody returns the runtime's answer, and whether it has one.
	CanHaveBody() (canHave, known bool)
}

// Resetter is an optional feature of a Context whose runtime can signal a
// stream-level error code to the client, as HTTP/2 can.
type Resetter interface {
	// Reset terminates the stream with the given error code.
	Reset(code uint32)
}

// MinRequestBodyDataRate is an optional feature controlling the minimum
// inbound transfer rate enforced by the runtime.
type MinRequestBodyDataRate interface {
	// DisableMinRequestBodyDataRate removes the rate floor for the rest of
	// the request.
	DisableMinRequestBodyDataRate()
}

// MaxRequestBodySize is an optional feature controlling the request body
// size limit enforced by the runtime.
type MaxRequestBodySize interface {
	// DisableMaxRequestBodySize removes the size limit for the rest of the
	// request. It fails if the limit is read-only because the body has
	// already begun to arrive.
	DisableMaxRequestBodySize() error
}

// TrailerWriter is an optional feature of a Context whose runtime can send
// response trailers.
type TrailerWriter interface {
	// Trailer returns the writable response trailer headers and whether
	// they can still be modified.
	Trailer() (trailer http.Header, writable bool)
}

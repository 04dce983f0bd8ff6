package proxy

import (
	"context"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
)

// Transforms customises the requests and responses that flow through the
// engine. It is consulted at fixed points; it never changes the order of
// operations.
//
// A nil hook means "skip". Hooks may mutate the passed objects freely. The
// engine checks and awaits the body producer it originally constructed,
// since that producer is its only tie to the inbound body stream; if
// OnRequest replaces the producer, the original is never pulled and the
// exchange fails as a client that never consumed the request body.
type Transforms struct {
	// CopyRequestHeaders copies the inbound request headers onto the
	// outbound request before OnRequest runs.
	CopyRequestHeaders bool

	// OnRequest runs after the outbound request is constructed and before
	// it is sent. If it leaves the URL nil the engine fills in the default
	// destination URI.
	OnRequest func(ctx context.Context, in inbound.Context, request *outbound.Request, destinationPrefix string) error

	// CopyResponseHeaders copies the destination's response headers onto
	// the inbound response before OnResponse runs.
	CopyResponseHeaders bool

	// OnResponse runs after response headers are copied and before the
	// response body is forwarded.
	OnResponse func(ctx context.Context, in inbound.Context, response *outbound.Response) error

	// CopyResponseTrailers copies the destination's response trailers onto
	// the inbound response before OnResponseTrailers runs.
	CopyResponseTrailers bool

	// OnResponseTrailers runs after the response body has been forwarded,
	// when the inbound runtime supports trailers.
	OnResponseTrailers func(ctx context.Context, in inbound.Context, response *outbound.Response) error
}

// DefaultTransforms returns the identity pipeline: every header and trailer
// is copied and no hooks run.
func DefaultTransforms() *Transforms {
	return &Transforms{
		CopyRequestHeaders:   true,
		CopyResponseHeaders:  true,
		CopyResponseTrailers: true,
	}
}

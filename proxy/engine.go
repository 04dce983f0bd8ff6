package proxy

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/gddo/httputil/header"
	"go.uber.org/multierr"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
	"github.com/icecave/relay/stream"
	"github.com/icecave/relay/telemetry"
)

// errBodyNeverStarted reports an outbound client that returned from Send
// without ever pulling the request body it was given.
var errBodyNeverStarted = errors.New("the outbound client completed the send without consuming the request body")

// Engine proxies a single inbound exchange to a destination.
//
// An Engine is stateless and may be shared by any number of concurrent
// exchanges. Failures are recorded against the inbound context (see
// ErrorFeature) and returned; Proxy never panics across its boundary.
type Engine struct {
	// Telemetry receives lifecycle events. If it is nil no events are
	// emitted.
	Telemetry telemetry.Listener

	// Logger receives warnings and debug messages. If it is nil they are
	// discarded.
	Logger *log.Logger
}

// Proxy drives one request/response exchange against the destination.
//
// The inbound request is rebuilt as an outbound request on the destination
// prefix, sent through the client, and the response is forwarded back. The
// request body, when present, flows concurrently with response reception. A
// 101 response switches to a bidirectional tunnel.
//
// The returned error is an *Error describing the terminal failure, an
// *InvalidArgumentError for caller misuse, or nil. Operational failures are
// translated into status codes, or into a stream reset when the response
// has already started; they are never allowed to escape as panics.
func (engine *Engine) Proxy(
	in inbound.Context,
	destinationPrefix string,
	client outbound.Client,
	transforms *Transforms,
	options Options,
) error {
	if in == nil {
		return &InvalidArgumentError{Reason: "the inbound context must not be nil"}
	}

	if destinationPrefix == "" {
		return &InvalidArgumentError{Reason: "the destination prefix must not be empty"}
	}

	if client == nil {
		return &InvalidArgumentError{Reason: "the outbound client must not be nil"}
	}

	if buffering, ok := client.(outbound.ResponseBuffering); ok && buffering.BuffersResponses() {
		return &InvalidArgumentError{Reason: "the outbound client must not buffer responses"}
	}

	if transforms == nil {
		transforms = DefaultTransforms()
	}

	events := engine.telemetry()
	events.ProxyStart(destinationPrefix)
	defer func() {
		events.ProxyStop(in.StatusCode())
	}()

	abort := in.AbortContext()

	major, _ := in.Protocol()
	isClientHTTP2 := major == 2
	isStreaming := isClientHTTP2 && isGRPCRequest(in)

	metrics := &Metrics{}
	in.SetFeature(metricsKey{}, metrics)

	builder := &RequestBuilder{
		Telemetry: events,
		Logger:    engine.Logger,
		Metrics:   &metrics.RequestBody,
	}

	request, content, err := builder.Build(
		abort,
		in,
		destinationPrefix,
		transforms,
		options,
		isStreaming,
	)
	if err != nil {
		var invalid *InvalidArgumentError
		if errors.As(err, &invalid) {
			return err
		}

		return engine.fail(in, &Error{Kind: KindRequest, Cause: err})
	}

	sendCtx, timedOut, stopTimer := sendContext(abort, options.timeout())
	defer stopTimer()

	events.ProxyStage(telemetry.StageSendAsyncStart)

	response, err := client.Send(sendCtx, request)
	if err != nil {
		return engine.handleSendFailure(in, abort, sendCtx, timedOut, content, err)
	}

	stopTimer()
	events.ProxyStage(telemetry.StageSendAsyncStop)

	if content != nil && !content.HasStarted() {
		response.Body.Close()
		return engine.fail(in, &Error{Kind: KindRequest, Cause: errBodyNeverStarted})
	}

	if isClientHTTP2 && response.Version.Major() < 2 && engine.Logger != nil {
		engine.Logger.Printf(
			"proxy: the destination downgraded the exchange to %s",
			response.Version,
		)
	}

	in.SetStatus(response.StatusCode, response.Reason)

	if transforms.CopyResponseHeaders {
		copyResponseHeaders(response.Header, in.ResponseHeader())
	}

	if transforms.OnResponse != nil {
		if err := transforms.OnResponse(abort, in, response); err != nil {
			response.Body.Close()
			return engine.fail(in, &Error{Kind: KindRequest, Cause: err})
		}
	}

	if response.StatusCode == http.StatusSwitchingProtocols {
		if failure := engine.proxyUpgrade(abort, in, response, metrics); failure != nil {
			engine.report(in, failure)
			engine.terminate(in, failure.Kind)
			return failure
		}

		return nil
	}

	copier := &stream.Copier{
		Telemetry: events,
		AutoFlush: isStreaming,
		Metrics:   &metrics.ResponseBody,
	}

	_, result, copyErr := copier.Copy(abort, false, response.Body, in.ResponseBody())
	response.Body.Close()

	if result != stream.ResultSuccess {
		return engine.handleResponseBodyFailure(in, content, result, copyErr)
	}

	if trailers, ok := in.(inbound.TrailerWriter); ok {
		if trailer, writable := trailers.Trailer(); writable {
			if transforms.CopyResponseTrailers {
				copyResponseTrailers(response.Trailer, trailer)
			}

			if transforms.OnResponseTrailers != nil {
				if err := transforms.OnResponseTrailers(abort, in, response); err != nil {
					failure := &Error{Kind: KindRequest, Cause: err}
					engine.report(in, failure)
					return failure
				}
			}
		}
	}

	if isStreaming {
		in.Complete()
	}

	// The response is fully delivered; a request body that fails from here
	// on is reported, but cannot change the outcome the client already saw.
	if content != nil {
		<-content.Done()

		if result, err := content.Outcome(); result != stream.ResultSuccess {
			failure := &Error{Kind: requestBodyKind(result), Cause: err}
			engine.report(in, failure)
			return failure
		}
	}

	return nil
}

// handleSendFailure classifies a failed outbound send.
//
// A request body copy that has already failed is the root cause of the send
// failure; it wins the classification and both errors are reported as an
// aggregate.
func (engine *Engine) handleSendFailure(
	in inbound.Context,
	abort context.Context,
	sendCtx context.Context,
	timedOut func() bool,
	content *stream.Content,
	err error,
) error {
	if sendCtx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		kind := KindRequestCanceled
		if abort.Err() == nil && timedOut() {
			kind = KindRequestTimedOut
		}

		return engine.fail(in, &Error{Kind: kind, Cause: err})
	}

	if content != nil && content.Consumed() {
		if result, bodyErr := content.Outcome(); result != stream.ResultSuccess {
			return engine.fail(in, &Error{
				Kind:  requestBodyKind(result),
				Cause: multierr.Append(err, bodyErr),
			})
		}
	}

	return engine.fail(in, &Error{Kind: KindRequest, Cause: err})
}

// handleResponseBodyFailure classifies a failed response body copy.
func (engine *Engine) handleResponseBodyFailure(
	in inbound.Context,
	content *stream.Content,
	result stream.Result,
	err error,
) error {
	if content != nil && content.Consumed() {
		if bodyResult, bodyErr := content.Outcome(); bodyResult != stream.ResultSuccess {
			return engine.fail(in, &Error{
				Kind:  requestBodyKind(bodyResult),
				Cause: multierr.Append(err, bodyErr),
			})
		}
	}

	return engine.fail(in, &Error{Kind: responseBodyKind(result), Cause: err})
}

// report records the failure against the exchange and emits telemetry.
func (engine *Engine) report(in inbound.Context, failure *Error) {
	in.SetFeature(featureKey{}, failure)
	engine.telemetry().ProxyFailed(failure.Kind.String(), failure.Cause)
}

// fail reports the failure and terminates the response: with a status code
// if nothing has been sent, otherwise by resetting the stream.
func (engine *Engine) fail(in inbound.Context, failure *Error) error {
	engine.report(in, failure)

	if !in.HasStarted() {
		in.Clear()
		code := failure.Kind.StatusCode()
		in.SetStatus(code, http.StatusText(code))
	} else {
		engine.terminate(in, failure.Kind)
	}

	return failure
}

// terminate tears down a partially-sent response.
func (engine *Engine) terminate(in inbound.Context, kind Kind) {
	if resetter, ok := in.(inbound.Resetter); ok {
		if kind.IsCancellation() {
			resetter.Reset(resetCodeCancel)
		} else {
			resetter.Reset(resetCodeInternalError)
		}

		return
	}

	in.Abort()
}

func (engine *Engine) telemetry() telemetry.Listener {
	if engine.Telemetry == nil {
		return telemetry.Nop()
	}

	return engine.Telemetry
}

// isGRPCRequest returns true if the request's content type marks it as a
// gRPC exchange.
func isGRPCRequest(in inbound.Context) bool {
	contentType, _ := header.ParseValueAndParams(in.Header(), "Content-Type")

	return contentType == "application/grpc" ||
		strings.HasPrefix(contentType, "application/grpc+")
}

// copyResponseTrailers copies response trailers verbatim.
func copyResponseTrailers(source, destination http.Header) {
	for name, values := range source {
		copied := make([]string, len(values))
		copy(copied, values)
		destination[name] = copied
	}
}

// sendContext bounds the outbound send with a timeout layered over the
// inbound abort context.
//
// The timer is stopped once the send completes so that a long-lived
// response or request body stream is not torn down when it fires; the
// returned context remains live, bound only to the abort context.
func sendContext(
	abort context.Context,
	timeout time.Duration,
) (ctx context.Context, timedOut func() bool, stopTimer func()) {
	ctx, cancel := context.WithCancel(abort)

	var fired int32

	timer := time.AfterFunc(timeout, func() {
		atomic.StoreInt32(&fired, 1)
		cancel()
	})

	return ctx,
		func() bool { return atomic.LoadInt32(&fired) == 1 },
		func() { timer.Stop() }
}

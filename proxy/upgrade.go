package proxy

import (
	"context"
	"errors"

	"go.uber.org/multierr"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
	"github.com/icecave/relay/stream"
	"github.com/icecave/relay/telemetry"
)

// tunnelOutcome is the terminal state of one direction of an upgraded
// connection.
type tunnelOutcome struct {
	isRequestDirection bool
	result             stream.Result
	err                error
}

// proxyUpgrade tunnels an upgraded connection after the destination has
// responded 101.
//
// The response headers have already been emitted to the inbound side, so
// failures here can no longer change the status code; they are reported and
// the connection is torn down.
func (engine *Engine) proxyUpgrade(
	ctx context.Context,
	in inbound.Context,
	response *outbound.Response,
	metrics *Metrics,
) *Error {
	engine.telemetry().ProxyStage(telemetry.StageResponseUpgrade)

	upgrader, ok := in.(inbound.Upgrader)
	if !ok {
		return &Error{
			Kind:  KindUpgradeResponseClient,
			Cause: errors.New("the inbound runtime cannot surrender the connection"),
		}
	}

	clientStream, err := upgrader.Upgrade()
	if err != nil {
		return &Error{Kind: KindUpgradeResponseClient, Cause: err}
	}

	destinationStream, ok := response.TunnelStream()
	if !ok {
		clientStream.Close()

		return &Error{
			Kind:  KindUpgradeResponseDestination,
			Cause: errors.New("the destination response does not expose a tunnel stream"),
		}
	}

	linked, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan tunnelOutcome, 2)

	requestCopier := &stream.Copier{Metrics: &metrics.RequestBody}
	responseCopier := &stream.Copier{Metrics: &metrics.ResponseBody}

	go func() {
		_, result, err := requestCopier.Copy(linked, false, clientStream, destinationStream)
		outcomes <- tunnelOutcome{isRequestDirection: true, result: result, err: err}
	}()

	go func() {
		_, result, err := responseCopier.Copy(linked, false, destinationStream, clientStream)
		outcomes <- tunnelOutcome{isRequestDirection: false, result: result, err: err}
	}()

	first := <-outcomes

	if first.result != stream.ResultSuccess {
		// Tear down the healthy direction; a blocked read only returns once
		// its stream is closed.
		cancel()
		clientStream.Close()
		response.Body.Close()

		second := <-outcomes

		return &Error{
			Kind:  upgradeKind(first.isRequestDirection, first.result),
			Cause: multierr.Append(first.err, second.err),
		}
	}

	// One direction reached EOF; drain the other before closing.
	second := <-outcomes

	clientStream.Close()
	response.Body.Close()

	if second.result != stream.ResultSuccess {
		return &Error{
			Kind:  upgradeKind(second.isRequestDirection, second.result),
			Cause: second.err,
		}
	}

	return nil
}

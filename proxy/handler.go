package proxy

import (
	"log"
	"net/http"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
	"github.com/icecave/relay/telemetry"
)

// Handler is an http.Handler that proxies every request it receives to a
// single destination prefix.
//
// It is the net/http glue around Engine: routing has already happened by
// the time a Handler is chosen, so the destination is fixed.
type Handler struct {
	// DestinationPrefix is the absolute URL requests are forwarded to.
	DestinationPrefix string

	// Client sends the outbound requests. It must not buffer responses.
	Client outbound.Client

	// Engine drives each exchange. If it is nil a zero engine is used.
	Engine *Engine

	// Transforms customises each exchange. If it is nil the identity
	// pipeline is used.
	Transforms *Transforms

	// Options configures each exchange.
	Options Options

	// Logger receives one access log line per request. If it is nil no
	// access log is written.
	Logger *log.Logger
}

// ServeHTTP proxies the request to the destination.
func (handler *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	in := inbound.NewHTTPContext(writer, request)

	entry := telemetry.NewAccessLog(handler.Logger, request)
	entry.DestinationPrefix = handler.DestinationPrefix
	entry.IsUpgrade = isUpgradeRequest(in)

	engine := handler.Engine
	if engine == nil {
		engine = &Engine{}
	}

	err := engine.Proxy(
		in,
		handler.DestinationPrefix,
		handler.Client,
		handler.Transforms,
		handler.Options,
	)

	in.Complete()

	entry.StatusCode = in.StatusCode()

	if metrics := MetricsFeature(in); metrics != nil {
		entry.BytesIn = metrics.RequestBody.Bytes
		entry.BytesOut = metrics.ResponseBody.Bytes
	}

	entry.Log(err)
}

package proxy

import (
	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/stream"
)

// Metrics stores the measurements taken for one proxied exchange, one entry
// per copy direction. In the tunnel branch of an upgraded exchange the
// request entry covers the client-to-destination direction and the response
// entry the reverse.
type Metrics struct {
	// RequestBody measures the request body copy.
	RequestBody stream.Metrics

	// ResponseBody measures the response body copy.
	ResponseBody stream.Metrics
}

// metricsKey is the key under which the metrics are stored on the inbound
// context.
type metricsKey struct{}

// MetricsFeature returns the metrics recorded against the inbound exchange,
// or nil if proxying never began.
//
// The request body copy runs concurrently with the exchange; its entry is
// settled only once Proxy has returned.
func MetricsFeature(ctx inbound.Context) *Metrics {
	if metrics, ok := ctx.Feature(metricsKey{}).(*Metrics); ok {
		return metrics
	}

	return nil
}

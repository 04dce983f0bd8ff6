package telemetry

import (
	"fmt"

	"github.com/quipo/statsd"
)

// NewStatsDListener returns a listener that publishes counters for each event
// to a statsd server.
func NewStatsDListener(client statsd.Statsd) Listener {
	return &statsDListener{client: client}
}

type statsDListener struct {
	client statsd.Statsd
}

func (l *statsDListener) ProxyStart(string) {
	l.client.Incr("proxy.requests", 1)
}

func (l *statsDListener) ProxyStage(stage Stage) {
	l.client.Incr("proxy.stages."+stage.String(), 1)
}

func (l *statsDListener) ProxyFailed(kind string, _ error) {
	l.client.Incr("proxy.errors."+kind, 1)
}

func (l *statsDListener) ProxyStop(statusCode int) {
	l.client.Incr(fmt.Sprintf("proxy.responses.%d", statusCode), 1)
}

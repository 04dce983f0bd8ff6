package telemetry

import (
	"sync"
	"time"
)

// Event is a single recorded telemetry event.
type Event struct {
	Name              string
	DestinationPrefix string
	Stage             Stage
	Kind              string
	Err               error
	StatusCode        int
	At                time.Time
}

// Recorder is a listener that captures events in memory for inspection.
type Recorder struct {
	mutex  sync.Mutex
	events []Event
}

// ProxyStart records a start event.
func (r *Recorder) ProxyStart(destinationPrefix string) {
	r.record(Event{Name: "ProxyStart", DestinationPrefix: destinationPrefix})
}

// ProxyStage records a stage event.
func (r *Recorder) ProxyStage(stage Stage) {
	r.record(Event{Name: "ProxyStage", Stage: stage})
}

// ProxyFailed records a failure event.
func (r *Recorder) ProxyFailed(kind string, err error) {
	r.record(Event{Name: "ProxyFailed", Kind: kind, Err: err})
}

// ProxyStop records a stop event.
func (r *Recorder) ProxyStop(statusCode int) {
	r.record(Event{Name: "ProxyStop", StatusCode: statusCode})
}

// Events returns a copy of the events recorded so far, in order.
func (r *Recorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}

// Stages returns the stages recorded so far, in order.
func (r *Recorder) Stages() []Stage {
	var stages []Stage
	for _, event := range r.Events() {
		if event.Name == "ProxyStage" {
			stages = append(stages, event.Stage)
		}
	}

	return stages
}

// Named returns the recorded events with the given name, in order.
func (r *Recorder) Named(name string) []Event {
	var events []Event
	for _, event := range r.Events() {
		if event.Name == name {
			events = append(events, event)
		}
	}

	return events
}

func (r *Recorder) record(event Event) {
	event.At = time.Now()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.events = append(r.events, event)
}

package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrAlreadyConsumed is returned when a Content is pulled more than once.
var ErrAlreadyConsumed = errors.New("stream content has already been consumed")

// Content is a single-use outbound request body producer.
//
// When the outbound client pulls the body, Content pumps the inbound request
// body into the client's sink and publishes the terminal outcome of that
// copy. The outcome is observable through Done and Outcome, allowing the
// orchestrator to distinguish a request-body failure from the send failure it
// may have caused.
//
// The length of the content is never exposed; the outbound request is framed
// as chunked.
type Content struct {
	body   io.Reader
	copier Copier
	abort  context.Context

	mutex   sync.Mutex
	started bool

	done   chan struct{}
	result Result
	err    error
}

// NewContent creates a body producer that copies from body when pulled.
//
// The abort context bounds the copy for the lifetime of the inbound request;
// it applies in addition to any context supplied by the outbound client at
// pull time.
func NewContent(abort context.Context, body io.Reader, copier Copier) *Content {
	if abort == nil {
		abort = context.Background()
	}

	return &Content{
		body:   body,
		copier: copier,
		abort:  abort,
		done:   make(chan struct{}),
	}
}

// Length returns the content length. It is always unknown.
func (content *Content) Length() (int64, bool) {
	return 0, false
}

// CopyTo pumps the inbound body into sink until EOF, failure or
// cancellation, then publishes the terminal outcome.
//
// It must be called at most once; a second call returns ErrAlreadyConsumed
// without touching either stream.
func (content *Content) CopyTo(ctx context.Context, sink io.Writer) error {
	content.mutex.Lock()
	if content.started {
		content.mutex.Unlock()
		return ErrAlreadyConsumed
	}
	content.started = true
	content.mutex.Unlock()

	linked, cancel := linkContexts(content.abort, ctx)
	defer cancel()

	_, result, err := content.copier.Copy(linked, true, content.body, sink)

	content.result = result
	content.err = err
	close(content.done)

	if result == ResultSuccess {
		return nil
	}

	return err
}

// HasStarted returns true once the outbound client has begun pulling the
// body.
func (content *Content) HasStarted() bool {
	content.mutex.Lock()
	defer content.mutex.Unlock()

	return content.started
}

// Done returns a channel that is closed when the copy reaches its terminal
// outcome.
func (content *Content) Done() <-chan struct{} {
	return content.done
}

// Consumed returns true once the copy has reached its terminal outcome.
func (content *Content) Consumed() bool {
	select {
	case <-content.done:
		return true
	default:
		return false
	}
}

// Outcome returns the terminal result of the copy and its error, if any. It
// may only be called after Done is closed.
func (content *Content) Outcome() (Result, error) {
	return content.result, content.err
}

// linkContexts derives a context from parent that is additionally cancelled
// when other is cancelled.
func linkContexts(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	if other == nil || other == parent {
		return ctx, cancel
	}

	if other.Err() != nil {
		cancel()
		return ctx, cancel
	}

	stop := make(chan struct{})

	go func() {
		select {
		case <-other.Done():
			cancel()
		case <-stop:
		}
	}()

	return ctx, func() {
		close(stop)
		cancel()
	}
}

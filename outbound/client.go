package outbound

import (
	"bytes"
	"context"
	"io/ioutil"
)

// Client sends outbound requests to a destination.
type Client interface {
	// Send transmits the request and returns once response headers are
	// available. The request's body producer, if any, is pulled during
	// Send; for streamed exchanges it may still be producing when Send
	// returns.
	Send(ctx context.Context, request *Request) (*Response, error)
}

// ResponseBuffering is implemented by clients that read the entire response
// into memory before returning it. Such clients defeat streaming and are
// rejected by the proxy engine.
type ResponseBuffering interface {
	// BuffersResponses returns true if responses are buffered in full
	// before Send returns.
	BuffersResponses() bool
}

// BufferingClient wraps a client so that the full response body is read into
// memory before Send returns. It exists for callers that genuinely need
// rewindable responses outside the proxy path; the proxy engine refuses it.
type BufferingClient struct {
	Inner Client
}

// BuffersResponses returns true.
func (client *BufferingClient) BuffersResponses() bool {
	return true
}

// Send transmits the request and buffers the entire response body.
func (client *BufferingClient) Send(ctx context.Context, request *Request) (*Response, error) {
	response, err := client.Inner.Send(ctx, request)
	if err != nil {
		return nil, err
	}

	defer response.Body.Close()

	body, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	response.Body = ioutil.NopCloser(bytes.NewReader(body))

	return response, nil
}

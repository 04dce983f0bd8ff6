package outbound

import (
	"io"
	"net/http"
)

// Response is the destination's response to an outbound request.
type Response struct {
	// StatusCode is the response status.
	StatusCode int

	// Reason is the reason phrase, without the status code.
	Reason string

	// Version is the protocol version the destination responded with.
	Version Version

	// Header holds the response headers.
	Header http.Header

	// Trailer holds the response trailers. For streamed responses the
	// client populates it only once Body reaches EOF.
	Trailer http.Header

	// Body is the response body stream. On a 101 response it is the raw
	// duplex stream of the tunnel and additionally implements io.Writer.
	Body io.ReadCloser
}

// TunnelStream returns the duplex stream underlying a 101 response, if the
// body exposes one.
func (response *Response) TunnelStream() (io.ReadWriter, bool) {
	stream, ok := response.Body.(io.ReadWriter)
	return stream, ok
}

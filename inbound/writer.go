package inbound

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// errWriterClosed is returned from writes after the exchange is aborted.
var errWriterClosed = errors.New("the response writer is closed")

// responseWriter wraps an http.ResponseWriter, deferring the status line
// until the first body write and tracking what has been sent.
type responseWriter struct {
	inner       http.ResponseWriter
	statusCode  int
	pendingCode int
	bytesOut    int64
}

// Write forwards to the inner writer, sending the pending status line first
// if it has not been sent.
func (writer *responseWriter) Write(data []byte) (int, error) {
	if writer.inner == nil {
		return 0, errWriterClosed
	}

	if writer.statusCode == 0 {
		code := writer.pendingCode
		if code == 0 {
			code = http.StatusOK
		}

		writer.WriteHeader(code)
	}

	size, err := writer.inner.Write(data)
	writer.bytesOut += int64(size)

	return size, err
}

// WriteHeader forwards to the inner writer and records the sent status.
func (writer *responseWriter) WriteHeader(statusCode int) {
	if writer.inner == nil || writer.statusCode != 0 {
		return
	}

	writer.statusCode = statusCode
	writer.inner.WriteHeader(statusCode)
}

// Flush forwards to the inner writer if it implements http.Flusher,
// otherwise it does nothing.
func (writer *responseWriter) Flush() {
	if writer.inner == nil {
		return
	}

	if flusher, ok := writer.inner.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the inner writer if it implements http.Hijacker.
func (writer *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if writer.inner == nil {
		return nil, nil, errWriterClosed
	}

	hijacker, ok := writer.inner.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("the inner response writer does not implement http.Hijacker")
	}

	return hijacker.Hijack()
}

// hasStarted returns true once the status line has been sent or the
// connection hijacked.
func (writer *responseWriter) hasStarted() bool {
	return writer.inner == nil || writer.statusCode != 0
}

// close mutes the writer.
func (writer *responseWriter) close() {
	writer.inner = nil
}

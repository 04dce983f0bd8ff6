package inbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http/httpguts"
)

// HTTPContext adapts a net/http request/response pair to the Context
// interface.
//
// It implements the Upgrader, Resetter and TrailerWriter features. The
// reason phrase passed to SetStatus is discarded on ordinary responses, as
// net/http cannot transmit one; Upgrade writes it on the raw status line.
type HTTPContext struct {
	request *http.Request
	writer  *responseWriter

	header http.Header
	order  []string

	pendingReason string
	trailer       http.Header
	features      map[interface{}]interface{}
	aborted       bool
}

var _ Context = (*HTTPContext)(nil)
var _ Upgrader = (*HTTPContext)(nil)
var _ Resetter = (*HTTPContext)(nil)
var _ TrailerWriter = (*HTTPContext)(nil)

// NewHTTPContext creates a Context for the given net/http exchange.
func NewHTTPContext(writer http.ResponseWriter, request *http.Request) *HTTPContext {
	// net/http moves the authority out of the header set; restore it so the
	// header pipeline sees the request as it arrived on the wire.
	header := make(http.Header, len(request.Header)+1)
	order := make([]string, 0, len(request.Header)+1)

	header["Host"] = []string{request.Host}
	order = append(order, "Host")

	names := make([]string, 0, len(request.Header))
	for name := range request.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		header[name] = request.Header[name]
		order = append(order, name)
	}

	return &HTTPContext{
		request: request,
		writer:  &responseWriter{inner: writer},
		header:  header,
		order:   order,
		trailer: http.Header{},
	}
}

// Method returns the request method verbatim.
func (ctx *HTTPContext) Method() string {
	return ctx.request.Method
}

// Protocol returns the major and minor HTTP version of the request.
func (ctx *HTTPContext) Protocol() (int, int) {
	return ctx.request.ProtoMajor, ctx.request.ProtoMinor
}

// Scheme returns "https" if the request arrived over TLS, otherwise "http".
func (ctx *HTTPContext) Scheme() string {
	if ctx.request.TLS != nil {
		return "https"
	}

	return "http"
}

// Host returns the authority the client addressed.
func (ctx *HTTPContext) Host() string {
	return ctx.request.Host
}

// Path returns the request path.
func (ctx *HTTPContext) Path() string {
	return ctx.request.URL.Path
}

// PathBase returns "". net/http routing does not consume path segments.
func (ctx *HTTPContext) PathBase() string {
	return ""
}

// RawQuery returns the query string without the leading "?".
func (ctx *HTTPContext) RawQuery() string {
	return ctx.request.URL.RawQuery
}

// Header returns the request headers, including a synthesised Host entry.
func (ctx *HTTPContext) Header() http.Header {
	return ctx.header
}

// HeaderOrder returns the request header names. net/http does not preserve
// wire order, so names are returned sorted, with Host first.
func (ctx *HTTPContext) HeaderOrder() []string {
	return ctx.order
}

// Body returns the request body stream.
func (ctx *HTTPContext) Body() io.Reader {
	return ctx.request.Body
}

// RemoteAddr returns the network address of the client.
func (ctx *HTTPContext) RemoteAddr() string {
	return ctx.request.RemoteAddr
}

// StatusCode returns the response status code sent or pending, or zero.
func (ctx *HTTPContext) StatusCode() int {
	if ctx.writer.statusCode != 0 {
		return ctx.writer.statusCode
	}

	return ctx.writer.pendingCode
}

// SetStatus records the response status to send with the first body write.
func (ctx *HTTPContext) SetStatus(code int, reason string) {
	ctx.writer.pendingCode = code
	ctx.pendingReason = reason
}

// ResponseHeader returns the writable response headers.
func (ctx *HTTPContext) ResponseHeader() http.Header {
	if ctx.writer.inner == nil {
		return http.Header{}
	}

	return ctx.writer.inner.Header()
}

// ResponseBody returns the response body sink.
func (ctx *HTTPContext) ResponseBody() io.Writer {
	return ctx.writer
}

// HasStarted returns true once any part of the response has been sent.
func (ctx *HTTPContext) HasStarted() bool {
	return ctx.writer.hasStarted()
}

// Clear discards the pending response status and headers.
func (ctx *HTTPContext) Clear() error {
	if ctx.HasStarted() {
		return errors.New("the response has already started")
	}

	header := ctx.writer.inner.Header()
	for name := range header {
		delete(header, name)
	}

	ctx.writer.pendingCode = 0
	ctx.pendingReason = ""

	return nil
}

// Complete sends any pending status and trailers, then flushes the response.
func (ctx *HTTPContext) Complete() error {
	if ctx.writer.inner == nil {
		return nil
	}

	if !ctx.writer.hasStarted() {
		ctx.flushTrailers()

		code := ctx.writer.pendingCode
		if code == 0 {
			code = http.StatusOK
		}

		ctx.writer.WriteHeader(code)
	} else {
		ctx.flushTrailers()
	}

	ctx.writer.Flush()

	return nil
}

// flushTrailers publishes accumulated trailers to the underlying writer.
func (ctx *HTTPContext) flushTrailers() {
	if len(ctx.trailer) == 0 || ctx.writer.inner == nil {
		return
	}

	header := ctx.writer.inner.Header()
	for name, values := range ctx.trailer {
		header[http.TrailerPrefix+name] = values
	}
}

// AbortContext returns the request's context, which is cancelled when the
// client disconnects.
func (ctx *HTTPContext) AbortContext() context.Context {
	return ctx.request.Context()
}

// Abort terminates the exchange at the transport layer. If the connection
// cannot be hijacked the writer is muted instead, causing subsequent writes
// to fail.
func (ctx *HTTPContext) Abort() {
	ctx.aborted = true

	if conn, _, err := ctx.writer.Hijack(); err == nil {
		conn.Close()
	}

	ctx.writer.close()
}

// Aborted returns true if Abort or Reset was called.
func (ctx *HTTPContext) Aborted() bool {
	return ctx.aborted
}

// IsUpgradable returns true if the request carries upgrade semantics and the
// connection can be hijacked.
func (ctx *HTTPContext) IsUpgradable() bool {
	if _, ok := ctx.writer.inner.(http.Hijacker); !ok {
		return false
	}

	if websocket.IsWebSocketUpgrade(ctx.request) {
		return true
	}

	return httpguts.HeaderValuesContainsToken(
		ctx.request.Header["Connection"],
		"Upgrade",
	)
}

// Upgrade takes over the connection. The pending status line and response
// headers are written to the raw stream before it is returned.
func (ctx *HTTPContext) Upgrade() (io.ReadWriteCloser, error) {
	header := ctx.writer.inner.Header()

	conn, buffered, err := ctx.writer.Hijack()
	if err != nil {
		return nil, err
	}

	code := ctx.writer.pendingCode
	if code == 0 {
		code = http.StatusSwitchingProtocols
	}

	reason := ctx.pendingReason
	if reason == "" {
		reason = http.StatusText(code)
	}

	if _, err := fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n", code, reason); err != nil {
		conn.Close()
		return nil, err
	}

	if err := header.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := io.WriteString(conn, "\r\n"); err != nil {
		conn.Close()
		return nil, err
	}

	ctx.writer.statusCode = code
	ctx.writer.close()

	// Bytes read ahead of the hijack belong to the tunnel.
	var reader io.Reader = conn
	if n := buffered.Reader.Buffered(); n > 0 {
		reader = io.MultiReader(io.LimitReader(buffered.Reader, int64(n)), conn)
	}

	return &hijackedStream{reader: reader, conn: conn}, nil
}

// Reset terminates the stream. net/http exposes no per-stream error code,
// so every code degrades to an abort.
func (ctx *HTTPContext) Reset(uint32) {
	ctx.Abort()
}

// Trailer returns the response trailer headers. They are reported writable
// until the exchange is aborted or upgraded; Complete publishes them.
func (ctx *HTTPContext) Trailer() (http.Header, bool) {
	return ctx.trailer, ctx.writer.inner != nil
}

// SetFeature attaches a per-request value for later middleware to observe.
func (ctx *HTTPContext) SetFeature(key, value interface{}) {
	if ctx.features == nil {
		ctx.features = map[interface{}]interface{}{}
	}

	ctx.features[key] = value
}

// Feature returns the value attached under key, or nil.
func (ctx *HTTPContext) Feature(key interface{}) interface{} {
	return ctx.features[key]
}

// BytesOut returns the number of response body bytes written so far.
func (ctx *HTTPContext) BytesOut() int64 {
	return ctx.writer.bytesOut
}

// hijackedStream is the raw duplex stream of an upgraded connection.
type hijackedStream struct {
	reader io.Reader
	conn   net.Conn
}

func (stream *hijackedStream) Read(data []byte) (int, error) {
	return stream.reader.Read(data)
}

func (stream *hijackedStream) Write(data []byte) (int, error) {
	return stream.conn.Write(data)
}

func (stream *hijackedStream) Close() error {
	return stream.conn.Close()
}

package proxy_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
	. "github.com/onsi/gomega"
)

// parseURL parses a URL that is known to be valid.
func parseURL(raw string) *url.URL {
	parsed, err := url.Parse(raw)
	Expect(err).ShouldNot(HaveOccurred())

	return parsed
}

// fakeContext is an in-memory inbound.Context implementing every optional
// feature, with per-test toggles.
type fakeContext struct {
	method     string
	protoMajor int
	protoMinor int
	scheme     string
	host       string
	path       string
	pathBase   string
	rawQuery   string
	remoteAddr string
	header     http.Header
	order      []string
	body       io.Reader

	abortCtx    context.Context
	abortCancel context.CancelFunc

	mutex          sync.Mutex
	statusCode     int
	reason         string
	responseHeader http.Header
	responseBody   *fakeResponseBody
	cleared        bool
	completed      bool
	aborted        bool
	resetCalled    bool
	resetCode      uint32
	features       map[interface{}]interface{}

	upgradable    bool
	upgradeStream io.ReadWriteCloser
	upgradeErr    error

	bodyKnown   bool
	bodyAllowed bool

	trailer         http.Header
	trailerWritable bool

	minRateDisabled bool
	maxSizeDisabled bool
	maxSizeErr      error
}

func newFakeContext() *fakeContext {
	ctx, cancel := context.WithCancel(context.Background())

	return &fakeContext{
		method:          "GET",
		protoMajor:      1,
		protoMinor:      1,
		scheme:          "http",
		host:            "example.com:3456",
		path:            "/api/test",
		remoteAddr:      "192.0.2.1:4321",
		header:          http.Header{},
		body:            strings.NewReader(""),
		abortCtx:        ctx,
		abortCancel:     cancel,
		responseHeader:  http.Header{},
		responseBody:    &fakeResponseBody{},
		trailer:         http.Header{},
		trailerWritable: true,
	}
}

// addHeader appends a header value, maintaining insertion order.
func (ctx *fakeContext) addHeader(name string, values ...string) {
	if _, exists := ctx.header[name]; !exists {
		ctx.order = append(ctx.order, name)
	}

	ctx.header[name] = append(ctx.header[name], values...)
}

func (ctx *fakeContext) Method() string         { return ctx.method }
func (ctx *fakeContext) Protocol() (int, int)   { return ctx.protoMajor, ctx.protoMinor }
func (ctx *fakeContext) Scheme() string         { return ctx.scheme }
func (ctx *fakeContext) Host() string           { return ctx.host }
func (ctx *fakeContext) Path() string           { return ctx.path }
func (ctx *fakeContext) PathBase() string       { return ctx.pathBase }
func (ctx *fakeContext) RawQuery() string       { return ctx.rawQuery }
func (ctx *fakeContext) Header() http.Header    { return ctx.header }
func (ctx *fakeContext) HeaderOrder() []string  { return ctx.order }
func (ctx *fakeContext) Body() io.Reader        { return ctx.body }
func (ctx *fakeContext) RemoteAddr() string     { return ctx.remoteAddr }
func (ctx *fakeContext) StatusCode() int        { return ctx.statusCode }
func (ctx *fakeContext) ResponseHeader() http.Header { return ctx.responseHeader }
func (ctx *fakeContext) ResponseBody() io.Writer     { return ctx.responseBody }

func (ctx *fakeContext) SetStatus(code int, reason string) {
	ctx.statusCode = code
	ctx.reason = reason
}

func (ctx *fakeContext) HasStarted() bool {
	return ctx.responseBody.started()
}

func (ctx *fakeContext) Clear() error {
	if ctx.HasStarted() {
		return errors.New("the response has already started")
	}

	ctx.cleared = true
	ctx.statusCode = 0
	ctx.reason = ""
	ctx.responseHeader = http.Header{}

	return nil
}

func (ctx *fakeContext) Complete() error {
	ctx.completed = true
	return nil
}

func (ctx *fakeContext) AbortContext() context.Context { return ctx.abortCtx }

func (ctx *fakeContext) Abort() {
	ctx.aborted = true
	ctx.abortCancel()
}

func (ctx *fakeContext) SetFeature(key, value interface{}) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	if ctx.features == nil {
		ctx.features = map[interface{}]interface{}{}
	}

	ctx.features[key] = value
}

func (ctx *fakeContext) Feature(key interface{}) interface{} {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	return ctx.features[key]
}

func (ctx *fakeContext) IsUpgradable() bool { return ctx.upgradable }

func (ctx *fakeContext) Upgrade() (io.ReadWriteCloser, error) {
	if ctx.upgradeErr != nil {
		return nil, ctx.upgradeErr
	}

	ctx.responseBody.markStarted()

	return ctx.upgradeStream, nil
}

func (ctx *fakeContext) CanHaveBody() (bool, bool) {
	return ctx.bodyAllowed, ctx.bodyKnown
}

func (ctx *fakeContext) Reset(code uint32) {
	ctx.resetCalled = true
	ctx.resetCode = code
	ctx.abortCancel()
}

func (ctx *fakeContext) DisableMinRequestBodyDataRate() {
	ctx.minRateDisabled = true
}

func (ctx *fakeContext) DisableMaxRequestBodySize() error {
	if ctx.maxSizeErr != nil {
		return ctx.maxSizeErr
	}

	ctx.maxSizeDisabled = true

	return nil
}

func (ctx *fakeContext) Trailer() (http.Header, bool) {
	return ctx.trailer, ctx.trailerWritable
}

// fakeResponseBody is an in-memory response sink that can be rigged to fail
// once failAfter bytes have been accepted.
type fakeResponseBody struct {
	mutex      sync.Mutex
	buffer     bytes.Buffer
	hasStarted bool
	writeErr   error
	failAfter  int
}

func (body *fakeResponseBody) Write(data []byte) (int, error) {
	body.mutex.Lock()
	defer body.mutex.Unlock()

	if body.writeErr != nil && body.buffer.Len() >= body.failAfter {
		return 0, body.writeErr
	}

	body.hasStarted = true

	return body.buffer.Write(data)
}

func (body *fakeResponseBody) started() bool {
	body.mutex.Lock()
	defer body.mutex.Unlock()

	return body.hasStarted
}

func (body *fakeResponseBody) markStarted() {
	body.mutex.Lock()
	defer body.mutex.Unlock()

	body.hasStarted = true
}

func (body *fakeResponseBody) String() string {
	body.mutex.Lock()
	defer body.mutex.Unlock()

	return body.buffer.String()
}

// coreContext narrows a fakeContext to the bare Context interface so that
// feature probes fail.
type coreContext struct {
	inner *fakeContext
}

func (ctx *coreContext) Method() string                    { return ctx.inner.Method() }
func (ctx *coreContext) Protocol() (int, int)              { return ctx.inner.Protocol() }
func (ctx *coreContext) Scheme() string                    { return ctx.inner.Scheme() }
func (ctx *coreContext) Host() string                      { return ctx.inner.Host() }
func (ctx *coreContext) Path() string                      { return ctx.inner.Path() }
func (ctx *coreContext) PathBase() string                  { return ctx.inner.PathBase() }
func (ctx *coreContext) RawQuery() string                  { return ctx.inner.RawQuery() }
func (ctx *coreContext) Header() http.Header               { return ctx.inner.Header() }
func (ctx *coreContext) HeaderOrder() []string             { return ctx.inner.HeaderOrder() }
func (ctx *coreContext) Body() io.Reader                   { return ctx.inner.Body() }
func (ctx *coreContext) RemoteAddr() string                { return ctx.inner.RemoteAddr() }
func (ctx *coreContext) StatusCode() int                   { return ctx.inner.StatusCode() }
func (ctx *coreContext) SetStatus(code int, reason string) { ctx.inner.SetStatus(code, reason) }
func (ctx *coreContext) ResponseHeader() http.Header       { return ctx.inner.ResponseHeader() }
func (ctx *coreContext) ResponseBody() io.Writer           { return ctx.inner.ResponseBody() }
func (ctx *coreContext) HasStarted() bool                  { return ctx.inner.HasStarted() }
func (ctx *coreContext) Clear() error                      { return ctx.inner.Clear() }
func (ctx *coreContext) Complete() error                   { return ctx.inner.Complete() }
func (ctx *coreContext) AbortContext() context.Context     { return ctx.inner.AbortContext() }
func (ctx *coreContext) Abort()                            { ctx.inner.Abort() }
func (ctx *coreContext) SetFeature(key, value interface{}) { ctx.inner.SetFeature(key, value) }
func (ctx *coreContext) Feature(key interface{}) interface{} {
	return ctx.inner.Feature(key)
}

var _ inbound.Context = (*fakeContext)(nil)
var _ inbound.Upgrader = (*fakeContext)(nil)
var _ inbound.BodyDetector = (*fakeContext)(nil)
var _ inbound.Resetter = (*fakeContext)(nil)
var _ inbound.MinRequestBodyDataRate = (*fakeContext)(nil)
var _ inbound.MaxRequestBodySize = (*fakeContext)(nil)
var _ inbound.TrailerWriter = (*fakeContext)(nil)
var _ inbound.Context = (*coreContext)(nil)

// clientFunc adapts a function to outbound.Client.
type clientFunc func(ctx context.Context, request *outbound.Request) (*outbound.Response, error)

func (fn clientFunc) Send(ctx context.Context, request *outbound.Request) (*outbound.Response, error) {
	return fn(ctx, request)
}

// pullRequestBody drains the request's body producer, as a conforming
// client does during Send.
func pullRequestBody(ctx context.Context, request *outbound.Request) (*bytes.Buffer, error) {
	buffer := &bytes.Buffer{}

	if request.Body == nil {
		return buffer, nil
	}

	err := request.Body.CopyTo(ctx, buffer)

	return buffer, err
}

// duplexStream is an in-memory io.ReadWriteCloser for tunnel tests.
type duplexStream struct {
	reader  io.Reader
	writes  bytes.Buffer
	mutex   sync.Mutex
	closed  bool
	closeCh chan struct{}
}

func newDuplexStream(content string) *duplexStream {
	return &duplexStream{
		reader:  strings.NewReader(content),
		closeCh: make(chan struct{}),
	}
}

func (stream *duplexStream) Read(data []byte) (int, error) {
	return stream.reader.Read(data)
}

func (stream *duplexStream) Write(data []byte) (int, error) {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	return stream.writes.Write(data)
}

func (stream *duplexStream) Close() error {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	if !stream.closed {
		stream.closed = true
		close(stream.closeCh)
	}

	return nil
}

// blockUntilClosed makes reads from the stream block until it is closed, as
// reads from an idle connection do.
func (stream *duplexStream) blockUntilClosed() {
	stream.reader = &closeBlockedReader{stream: stream}
}

type closeBlockedReader struct {
	stream *duplexStream
}

func (r *closeBlockedReader) Read([]byte) (int, error) {
	<-r.stream.closeCh
	return 0, io.ErrClosedPipe
}

func (stream *duplexStream) Written() string {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	return stream.writes.String()
}

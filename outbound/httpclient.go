package outbound

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http2"
)

// HTTPClient is a Client backed by net/http transports.
//
// Responses are streamed, never buffered; the request body producer is
// pulled by the transport during Send, satisfying the engine's
// body-started invariant.
type HTTPClient struct {
	// Transport performs the exchange. If it is nil a shared transport
	// with HTTP/2 support is used.
	Transport http.RoundTripper

	// TLSConfig is applied to the default transport. It is ignored when
	// Transport is set.
	TLSConfig *tls.Config

	initialize sync.Once
	standard   http.RoundTripper
	h2c        http.RoundTripper
}

// Send transmits the request and returns once response headers are
// available.
func (client *HTTPClient) Send(ctx context.Context, request *Request) (*Response, error) {
	httpRequest := &http.Request{
		Method:     request.Method,
		URL:        request.URL,
		Proto:      request.Version.String(),
		ProtoMajor: request.Version.Major(),
		ProtoMinor: request.Version.Minor(),
		Header:     mergeHeaders(request.Header, request.ContentHeader),
		Host:       request.Host,
	}

	if len(request.Trailer) != 0 {
		httpRequest.Trailer = request.Trailer
	}

	if request.Body != nil {
		httpRequest.Body = newPullBody(ctx, request.Body)

		if length, known := request.Body.Length(); known {
			httpRequest.ContentLength = length
		} else {
			httpRequest.ContentLength = -1
		}
	}

	httpRequest = httpRequest.WithContext(ctx)

	httpResponse, err := client.transport(request).RoundTrip(httpRequest)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResponse.StatusCode,
		Reason:     reasonPhrase(httpResponse),
		Version:    Version(httpResponse.ProtoMajor*10 + httpResponse.ProtoMinor),
		Header:     httpResponse.Header,
		Trailer:    httpResponse.Trailer,
		Body:       httpResponse.Body,
	}, nil
}

// transport selects the round-tripper for the request's version demands.
func (client *HTTPClient) transport(request *Request) http.RoundTripper {
	if client.Transport != nil {
		return client.Transport
	}

	client.initialize.Do(func() {
		client.standard = &http.Transport{
			ForceAttemptHTTP2: true,
			TLSClientConfig:   client.TLSConfig,
		}

		// Cleartext destinations cannot negotiate HTTP/2; when the caller
		// demands it exactly, speak h2c.
		client.h2c = &http2.Transport{
			AllowHTTP: true,
			DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
				return net.Dial(network, addr)
			},
		}
	})

	if request.Version == Version20 &&
		request.Policy == RequestVersionExact &&
		request.URL != nil &&
		request.URL.Scheme == "http" {
		return client.h2c
	}

	return client.standard
}

// mergeHeaders combines the general and content header bags into the single
// set net/http transmits.
func mergeHeaders(bags ...http.Header) http.Header {
	merged := http.Header{}

	for _, bag := range bags {
		for name, values := range bag {
			merged[name] = append(merged[name], values...)
		}
	}

	return merged
}

// reasonPhrase extracts the reason phrase from a net/http status line.
func reasonPhrase(response *http.Response) string {
	prefix := strconv.Itoa(response.StatusCode)
	return strings.TrimSpace(strings.TrimPrefix(response.Status, prefix))
}

// pullBody adapts a BodyProducer to the io.ReadCloser the transport
// consumes. The producer runs only once the transport begins reading, so
// the pull is observable before Send returns.
type pullBody struct {
	ctx      context.Context
	producer BodyProducer

	once   sync.Once
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newPullBody(ctx context.Context, producer BodyProducer) *pullBody {
	reader, writer := io.Pipe()

	return &pullBody{
		ctx:      ctx,
		producer: producer,
		reader:   reader,
		writer:   writer,
	}
}

func (body *pullBody) Read(data []byte) (int, error) {
	body.once.Do(func() {
		go func() {
			err := body.producer.CopyTo(body.ctx, body.writer)
			body.writer.CloseWithError(err)
		}()
	})

	return body.reader.Read(data)
}

func (body *pullBody) Close() error {
	return body.reader.Close()
}

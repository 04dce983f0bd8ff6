package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
	"github.com/icecave/relay/stream"
	"github.com/icecave/relay/telemetry"
)

// minimumPrefixLength is the shortest possible absolute destination prefix,
// "http://a".
const minimumPrefixLength = 8

// RequestBuilder constructs the outbound request for a proxied exchange.
type RequestBuilder struct {
	// Telemetry receives lifecycle events for the request body copy.
	Telemetry telemetry.Listener

	// Logger receives warnings. If it is nil warnings are discarded.
	Logger *log.Logger

	// Metrics, if non-nil, accumulates byte counts and timings for the
	// request body copy.
	Metrics *stream.Metrics
}

// Build produces the outbound request for the given inbound exchange, and
// the body producer that will feed it, if the request carries a body.
//
// The request's URL is left nil while the OnRequest hook runs, then
// defaulted from the destination prefix if the hook did not assign one.
func (builder *RequestBuilder) Build(
	ctx context.Context,
	in inbound.Context,
	destinationPrefix string,
	transforms *Transforms,
	options Options,
	isStreaming bool,
) (*outbound.Request, *stream.Content, error) {
	prefix, err := parseDestinationPrefix(destinationPrefix)
	if err != nil {
		return nil, nil, err
	}

	request := outbound.NewRequest()
	request.Method = in.Method()

	if isUpgradeRequest(in) {
		request.Version = outbound.Version11
		request.Policy = outbound.RequestVersionOrLower
	} else {
		request.Version = options.version()
		request.Policy = options.Policy
	}

	var content *stream.Content

	if requestCanHaveBody(in) {
		content = stream.NewContent(
			in.AbortContext(),
			in.Body(),
			stream.Copier{
				Telemetry: builder.Telemetry,
				AutoFlush: isStreaming,
				Metrics:   builder.Metrics,
			},
		)

		request.Body = content

		if isStreaming {
			builder.disableRequestLimits(in)
		}
	}

	if transforms.CopyRequestHeaders {
		copyRequestHeaders(in, request)
	}

	defaultURL := destinationURL(prefix, in)

	if transforms.OnRequest != nil {
		if err := transforms.OnRequest(ctx, in, request, destinationPrefix); err != nil {
			return nil, nil, err
		}
	}

	if request.URL == nil {
		request.URL = defaultURL
	}

	return request, content, nil
}

// parseDestinationPrefix validates the destination prefix as an absolute
// URL.
func parseDestinationPrefix(destinationPrefix string) (*url.URL, error) {
	if len(destinationPrefix) < minimumPrefixLength {
		return nil, &InvalidArgumentError{
			Reason: fmt.Sprintf("destination prefix %q is too short to be an absolute URL", destinationPrefix),
		}
	}

	prefix, err := url.Parse(destinationPrefix)
	if err != nil || !prefix.IsAbs() || prefix.Host == "" {
		return nil, &InvalidArgumentError{
			Reason: fmt.Sprintf("destination prefix %q is not an absolute URL", destinationPrefix),
		}
	}

	return prefix, nil
}

// isUpgradeRequest returns true if the inbound runtime permits an upgrade
// AND the Upgrade header names a protocol this engine tunnels. The header
// check is required because some runtimes mark every request as upgradable.
func isUpgradeRequest(in inbound.Context) bool {
	upgrader, ok := in.(inbound.Upgrader)
	if !ok || !upgrader.IsUpgradable() {
		return false
	}

	for _, value := range in.Header()["Upgrade"] {
		if strings.EqualFold(value, "WebSocket") {
			return true
		}

		if len(value) >= 5 && strings.EqualFold(value[:5], "SPDY/") {
			return true
		}
	}

	return false
}

// requestCanHaveBody decides whether the outbound request carries a body.
// Rules are ordered; the first match wins.
func requestCanHaveBody(in inbound.Context) bool {
	if detector, ok := in.(inbound.BodyDetector); ok {
		if canHave, known := detector.CanHaveBody(); known {
			return canHave
		}
	}

	transferEncoding := in.Header()["Transfer-Encoding"]
	if len(transferEncoding) == 1 && strings.EqualFold(transferEncoding[0], "chunked") {
		return true
	}

	if contentLength := in.Header().Get("Content-Length"); contentLength != "" {
		length, err := strconv.ParseInt(contentLength, 10, 64)
		return err == nil && length > 0
	}

	major, _ := in.Protocol()
	if major < 2 {
		return false
	}

	// HTTP/2 requests have no framing cue; fall back to method semantics.
	switch in.Method() {
	case http.MethodGet,
		http.MethodHead,
		http.MethodDelete,
		http.MethodConnect,
		http.MethodTrace:
		return false
	default:
		return true
	}
}

// destinationURL joins the destination prefix with the inbound path and
// query.
func destinationURL(prefix *url.URL, in inbound.Context) *url.URL {
	base := strings.TrimSuffix(prefix.Path, "/")

	path := in.Path()
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &url.URL{
		Scheme:   prefix.Scheme,
		Host:     prefix.Host,
		Path:     base + path,
		RawQuery: strings.TrimPrefix(in.RawQuery(), "?"),
	}
}

// disableRequestLimits removes inbound transfer limits that would stall a
// long-lived streaming exchange.
func (builder *RequestBuilder) disableRequestLimits(in inbound.Context) {
	if rate, ok := in.(inbound.MinRequestBodyDataRate); ok {
		rate.DisableMinRequestBodyDataRate()
	}

	if size, ok := in.(inbound.MaxRequestBodySize); ok {
		if err := size.DisableMaxRequestBodySize(); err != nil && builder.Logger != nil {
			builder.Logger.Printf(
				"proxy: unable to disable the request body size limit: %s",
				err,
			)
		}
	}
}

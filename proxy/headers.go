package proxy

import (
	"net/http"
	"strings"

	"github.com/icecave/relay/inbound"
	"github.com/icecave/relay/outbound"
)

// contentHeaderNames are the request headers that describe the body rather
// than the request, and therefore travel in the outbound request's content
// header bag. Names are canonicalized with http.CanonicalHeaderKey().
var contentHeaderNames = map[string]bool{
	"Allow":               true,
	"Content-Disposition": true,
	"Content-Encoding":    true,
	"Content-Language":    true,
	"Content-Length":      true,
	"Content-Location":    true,
	"Content-Md5":         true,
	"Content-Range":       true,
	"Content-Type":        true,
	"Expires":             true,
	"Last-Modified":       true,
}

// copyRequestHeaders copies the inbound request headers onto the outbound
// request.
//
// Headers are visited in insertion order. Empty values and HTTP/2
// pseudo-headers are skipped. Multi-valued Cookie headers are folded into a
// single "; "-joined value; inbound runtimes split the cookie header per
// value even though the wire format permits only one. Each remaining header
// lands in exactly one of the request's two bags: content headers with the
// body, everything else on the request itself. The Host header becomes the
// outbound authority.
func copyRequestHeaders(in inbound.Context, request *outbound.Request) {
	headers := in.Header()

	for _, name := range in.HeaderOrder() {
		if strings.HasPrefix(name, ":") {
			continue
		}

		values := headers[name]
		if len(values) == 0 {
			continue
		}

		canonical := http.CanonicalHeaderKey(name)

		if canonical == "Cookie" && len(values) > 1 {
			cookies := make([]string, 0, len(values))
			for _, value := range values {
				if value != "" {
					cookies = append(cookies, value)
				}
			}

			if len(cookies) != 0 {
				addRequestHeader(request, canonical, strings.Join(cookies, "; "))
			}
			continue
		}

		if canonical == "Host" {
			if values[0] != "" {
				request.Host = values[0]
			}
			continue
		}

		for _, value := range values {
			if value == "" {
				continue
			}

			addRequestHeader(request, canonical, value)
		}
	}
}

// addRequestHeader routes a header to the request's general bag, or to the
// content bag for body-describing names.
func addRequestHeader(request *outbound.Request, name, value string) {
	if contentHeaderNames[name] {
		request.ContentHeader[name] = append(request.ContentHeader[name], value)
		return
	}

	request.Header[name] = append(request.Header[name], value)
}

// copyResponseHeaders copies response headers from the destination onto the
// inbound response, preserving multi-value structure.
//
// Transfer-Encoding is skipped; the inbound runtime manages its own framing.
func copyResponseHeaders(source, destination http.Header) {
	for name, values := range source {
		if http.CanonicalHeaderKey(name) == "Transfer-Encoding" {
			continue
		}

		copied := make([]string, len(values))
		copy(copied, values)
		destination[name] = copied
	}
}

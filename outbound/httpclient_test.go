package outbound_test

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/icecave/relay/outbound"
	"github.com/icecave/relay/stream"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func parseURL(raw string) *url.URL {
	parsed, err := url.Parse(raw)
	Expect(err).ShouldNot(HaveOccurred())

	return parsed
}

var _ = Describe("HTTPClient", func() {
	var subject *outbound.HTTPClient

	BeforeEach(func() {
		subject = &outbound.HTTPClient{}
	})

	It("transmits the request line, headers and authority", func() {
		var (
			method, path, query, host, header string
		)

		server := httptest.NewServer(http.HandlerFunc(
			func(writer http.ResponseWriter, request *http.Request) {
				method = request.Method
				path = request.URL.Path
				query = request.URL.RawQuery
				host = request.Host
				header = request.Header.Get("X-Request-Test")
			},
		))
		defer server.Close()

		request := outbound.NewRequest()
		request.Method = "POST"
		request.URL = parseURL(server.URL + "/api/test?a=b&c=d")
		request.Host = "example.com:3456"
		request.Header.Set("X-Request-Test", "request")

		_, err := subject.Send(context.Background(), request)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(method).To(Equal("POST"))
		Expect(path).To(Equal("/api/test"))
		Expect(query).To(Equal("a=b&c=d"))
		Expect(host).To(Equal("example.com:3456"))
		Expect(header).To(Equal("request"))
	})

	It("merges content headers into the transmitted header set", func() {
		var language string

		server := httptest.NewServer(http.HandlerFunc(
			func(writer http.ResponseWriter, request *http.Request) {
				language = request.Header.Get("Content-Language")
			},
		))
		defer server.Close()

		request := outbound.NewRequest()
		request.Method = "POST"
		request.URL = parseURL(server.URL)
		request.ContentHeader.Set("Content-Language", "requestLanguage")

		_, err := subject.Send(context.Background(), request)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(language).To(Equal("requestLanguage"))
	})

	It("pulls the body producer before the send completes", func() {
		var received string

		server := httptest.NewServer(http.HandlerFunc(
			func(writer http.ResponseWriter, request *http.Request) {
				body, _ := ioutil.ReadAll(request.Body)
				received = string(body)
			},
		))
		defer server.Close()

		content := stream.NewContent(
			context.Background(),
			strings.NewReader("request content"),
			stream.Copier{},
		)

		request := outbound.NewRequest()
		request.Method = "POST"
		request.URL = parseURL(server.URL)
		request.Body = content

		_, err := subject.Send(context.Background(), request)

		Expect(err).ShouldNot(HaveOccurred())
		Expect(content.HasStarted()).To(BeTrue())
		Expect(received).To(Equal("request content"))
	})

	It("exposes the response status, reason and body", func() {
		server := httptest.NewServer(http.HandlerFunc(
			func(writer http.ResponseWriter, request *http.Request) {
				writer.Header().Set("X-Response-Test", "response")
				writer.WriteHeader(234)
				writer.Write([]byte("response content"))
			},
		))
		defer server.Close()

		request := outbound.NewRequest()
		request.Method = "GET"
		request.URL = parseURL(server.URL)

		response, err := subject.Send(context.Background(), request)

		Expect(err).ShouldNot(HaveOccurred())
		defer response.Body.Close()

		Expect(response.StatusCode).To(Equal(234))
		Expect(response.Header.Get("X-Response-Test")).To(Equal("response"))

		body, err := ioutil.ReadAll(response.Body)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(string(body)).To(Equal("response content"))
	})
})

var _ = Describe("BufferingClient", func() {
	It("identifies itself as buffering", func() {
		subject := &outbound.BufferingClient{Inner: &outbound.HTTPClient{}}

		var buffering outbound.ResponseBuffering = subject
		Expect(buffering.BuffersResponses()).To(BeTrue())
	})
})

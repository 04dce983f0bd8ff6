package inbound_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/icecave/relay/inbound"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("HTTPContext", func() {
	var (
		recorder *httptest.ResponseRecorder
		request  *http.Request
		subject  *inbound.HTTPContext
	)

	BeforeEach(func() {
		recorder = httptest.NewRecorder()
		request = httptest.NewRequest(
			"POST",
			"http://example.com:3456/api/test?a=b&c=d",
			nil,
		)
		request.Header.Set("X-Request-Test", "request")

		subject = inbound.NewHTTPContext(recorder, request)
	})

	Describe("request side", func() {
		It("exposes the request line", func() {
			Expect(subject.Method()).To(Equal("POST"))
			Expect(subject.Host()).To(Equal("example.com:3456"))
			Expect(subject.Path()).To(Equal("/api/test"))
			Expect(subject.RawQuery()).To(Equal("a=b&c=d"))

			major, minor := subject.Protocol()
			Expect(major).To(Equal(1))
			Expect(minor).To(Equal(1))
		})

		It("synthesises a Host header, ordered first", func() {
			Expect(subject.HeaderOrder()[0]).To(Equal("Host"))
			Expect(subject.Header().Get("Host")).To(Equal("example.com:3456"))
			Expect(subject.Header().Get("X-Request-Test")).To(Equal("request"))
		})
	})

	Describe("response side", func() {
		It("defers the status line until the first body write", func() {
			subject.SetStatus(234, "Test Reason Phrase")
			Expect(subject.HasStarted()).To(BeFalse())
			Expect(subject.StatusCode()).To(Equal(234))

			subject.ResponseBody().Write([]byte("<body>"))

			Expect(subject.HasStarted()).To(BeTrue())
			Expect(recorder.Code).To(Equal(234))
			Expect(recorder.Body.String()).To(Equal("<body>"))
		})

		It("clears pending status and headers", func() {
			subject.SetStatus(234, "")
			subject.ResponseHeader().Set("X-Response-Test", "response")

			Expect(subject.Clear()).To(Succeed())
			Expect(subject.StatusCode()).To(BeZero())
			Expect(subject.ResponseHeader()).To(BeEmpty())
		})

		It("refuses to clear a started response", func() {
			subject.ResponseBody().Write([]byte("<body>"))
			Expect(subject.Clear()).ShouldNot(Succeed())
		})

		It("sends the pending status on Complete", func() {
			subject.SetStatus(502, "")
			Expect(subject.Complete()).To(Succeed())
			Expect(recorder.Code).To(Equal(502))
		})

		It("publishes trailers on Complete", func() {
			trailer, writable := subject.Trailer()
			Expect(writable).To(BeTrue())

			trailer.Set("X-Trailer-Test", "trailer")
			subject.ResponseBody().Write([]byte("<body>"))
			Expect(subject.Complete()).To(Succeed())

			Expect(recorder.Header().Get(http.TrailerPrefix + "X-Trailer-Test")).To(Equal("trailer"))
		})

		It("counts bytes written", func() {
			subject.ResponseBody().Write([]byte("<body>"))
			Expect(subject.BytesOut()).To(BeEquivalentTo(6))
		})
	})

	Describe("features", func() {
		It("stores per-request features", func() {
			type key struct{}

			Expect(subject.Feature(key{})).To(BeNil())
			subject.SetFeature(key{}, "<value>")
			Expect(subject.Feature(key{})).To(Equal("<value>"))
		})

		It("is not upgradable without a hijackable writer", func() {
			request.Header.Set("Connection", "Upgrade")
			request.Header.Set("Upgrade", "websocket")

			subject = inbound.NewHTTPContext(recorder, request)
			Expect(subject.IsUpgradable()).To(BeFalse())
		})
	})

	Describe("Abort", func() {
		It("mutes the writer when the connection cannot be hijacked", func() {
			subject.Abort()
			Expect(subject.Aborted()).To(BeTrue())

			_, err := subject.ResponseBody().Write([]byte("<body>"))
			Expect(err).To(HaveOccurred())
		})
	})
})

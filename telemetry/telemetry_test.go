package telemetry_test

import (
	"bytes"
	"errors"
	"log"

	"github.com/icecave/relay/telemetry"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Recorder", func() {
	It("captures events in order with timestamps", func() {
		subject := &telemetry.Recorder{}

		subject.ProxyStart("https://destination/")
		subject.ProxyStage(telemetry.StageSendAsyncStart)
		subject.ProxyFailed("request", errors.New("<error>"))
		subject.ProxyStop(502)

		events := subject.Events()
		Expect(events).To(HaveLen(4))
		Expect(events[0].Name).To(Equal("ProxyStart"))
		Expect(events[0].DestinationPrefix).To(Equal("https://destination/"))
		Expect(events[1].Stage).To(Equal(telemetry.StageSendAsyncStart))
		Expect(events[2].Kind).To(Equal("request"))
		Expect(events[3].StatusCode).To(Equal(502))

		for i := 1; i < len(events); i++ {
			Expect(events[i].At.Before(events[i-1].At)).To(BeFalse())
		}
	})
})

var _ = Describe("LogListener", func() {
	It("writes one line per event", func() {
		buffer := &bytes.Buffer{}
		subject := telemetry.NewLogListener(log.New(buffer, "", 0))

		subject.ProxyStart("https://destination/")
		subject.ProxyStop(234)

		Expect(buffer.String()).To(Equal(
			"PROXY/START https://destination/\nPROXY/STOP 234\n",
		))
	})

	It("quotes fields containing spaces", func() {
		buffer := &bytes.Buffer{}
		subject := telemetry.NewLogListener(log.New(buffer, "", 0))

		subject.ProxyFailed("request", errors.New("send failed"))

		Expect(buffer.String()).To(Equal(
			"PROXY/FAILED request \"send failed\"\n",
		))
	})
})

var _ = Describe("Combine", func() {
	It("forwards events to every listener", func() {
		first := &telemetry.Recorder{}
		second := &telemetry.Recorder{}

		subject := telemetry.Combine(first, second)
		subject.ProxyStart("https://destination/")

		Expect(first.Events()).To(HaveLen(1))
		Expect(second.Events()).To(HaveLen(1))
	})
})

var _ = Describe("Stage", func() {
	It("names each stage", func() {
		Expect(telemetry.StageSendAsyncStart.String()).To(Equal("send-async-start"))
		Expect(telemetry.StageSendAsyncStop.String()).To(Equal("send-async-stop"))
		Expect(telemetry.StageRequestContentTransferStart.String()).To(Equal("request-content-transfer-start"))
		Expect(telemetry.StageResponseUpgrade.String()).To(Equal("response-upgrade"))
	})
})

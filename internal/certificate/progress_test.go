package certificate

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/taxcert/internal/pipeline"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

var _ = Describe("ProgressHub", func() {
	var hub *ProgressHub

	progress := func(id string, pct int) Event {
		return Event{CertificateID: id, Percent: pct, Stage: pipeline.Recognizing, Status: StatusProcessing}
	}
	done := func(id string) Event {
		return Event{CertificateID: id, Percent: 100, Stage: pipeline.Done, Status: StatusDone}
	}

	When("events are not throttled", func() {
		BeforeEach(func() {
			hub = NewProgressHub(0)
		})

		It("should deliver events to every subscriber of the certificate", func() {
			a, _ := hub.Subscribe("c1")
			b, _ := hub.Subscribe("c1")
			hub.Publish(progress("c1", 10))
			hub.Publish(done("c1"))

			Expect(drain(a)).To(HaveLen(2))
			Expect(drain(b)).To(HaveLen(2))
		})

		It("should not deliver events for other certificates", func() {
			a, cancel := hub.Subscribe("c1")
			hub.Publish(progress("c2", 10))
			cancel()
			Expect(drain(a)).To(BeEmpty())
		})

		It("should close subscriptions after a terminal event", func() {
			_, _ = hub.Subscribe("c1")
			hub.Publish(done("c1"))
			Expect(hub.Subscribers("c1")).To(Equal(0))
		})

		It("should tolerate cancelling twice and after the terminal event", func() {
			ch, cancel := hub.Subscribe("c1")
			hub.Publish(done("c1"))
			Expect(drain(ch)).To(HaveLen(1))
			cancel()
			cancel()
		})

		It("should deliver the terminal event to a full subscriber", func() {
			ch, _ := hub.Subscribe("c1")
			for i := 0; i < subscriberBuffer+5; i++ {
				hub.Publish(progress("c1", i))
			}
			hub.Publish(done("c1"))

			events := drain(ch)
			Expect(events).To(HaveLen(subscriberBuffer))
			Expect(events[len(events)-1].Terminal()).To(BeTrue())
		})
	})

	When("events are throttled", func() {
		BeforeEach(func() {
			hub = NewProgressHub(time.Hour)
		})

		It("should drop intermediate events inside the interval but keep the terminal one", func() {
			ch, _ := hub.Subscribe("c1")
			hub.Publish(progress("c1", 10))
			hub.Publish(progress("c1", 20))
			hub.Publish(progress("c1", 30))
			hub.Publish(done("c1"))

			events := drain(ch)
			Expect(events).To(HaveLen(2))
			Expect(events[0].Percent).To(Equal(10))
			Expect(events[1].Status).To(Equal(StatusDone))
		})

		It("should throttle each certificate separately", func() {
			a, cancelA := hub.Subscribe("c1")
			b, cancelB := hub.Subscribe("c2")
			hub.Publish(progress("c1", 10))
			hub.Publish(progress("c2", 10))
			cancelA()
			cancelB()
			Expect(drain(a)).To(HaveLen(1))
			Expect(drain(b)).To(HaveLen(1))
		})
	})
})

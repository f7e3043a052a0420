package certificate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zombor/taxcert/internal/pipeline"
)

// Event is one progress update for a certificate
type Event struct {
	CertificateID string         `json:"certificate_id"`
	Percent       int            `json:"percent"`
	Stage         pipeline.Stage `json:"stage"`
	Message       string         `json:"message"`
	Status        Status         `json:"status"`
	FailureKind   pipeline.Kind  `json:"failure_kind,omitempty"`
}

// Terminal reports whether no further events follow
func (e Event) Terminal() bool {
	return e.Status == StatusDone || e.Status == StatusFailed
}

const subscriberBuffer = 16

type subscriber struct {
	ch chan Event
}

// ProgressHub fans progress events out to per-certificate subscribers.
// Intermediate events are throttled per certificate; terminal events are
// always delivered and close every subscription for that certificate.
type ProgressHub struct {
	mu       sync.Mutex
	subs     map[string]map[*subscriber]struct{}
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewProgressHub creates a hub passing at most one intermediate event per interval
func NewProgressHub(interval time.Duration) *ProgressHub {
	return &ProgressHub{
		subs:     make(map[string]map[*subscriber]struct{}),
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Subscribe registers for events about id. The channel is closed after a
// terminal event or when cancel is called.
func (h *ProgressHub) Subscribe(id string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*subscriber]struct{})
	}
	h.subs[id][sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(id, sub) }
}

func (h *ProgressHub) unsubscribe(id string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id][sub]; !ok {
		return
	}
	delete(h.subs[id], sub)
	close(sub.ch)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
}

// Subscribers returns the number of open subscriptions for id
func (h *ProgressHub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

// Publish delivers ev to subscribers of ev.CertificateID without blocking
func (h *ProgressHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	terminal := ev.Terminal()
	if !terminal && !h.limiter(ev.CertificateID).Allow() {
		return
	}

	for sub := range h.subs[ev.CertificateID] {
		select {
		case sub.ch <- ev:
		default:
			if !terminal {
				continue
			}
			// drop the oldest queued update to make room
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- ev
		}
	}

	if terminal {
		for sub := range h.subs[ev.CertificateID] {
			close(sub.ch)
		}
		delete(h.subs, ev.CertificateID)
		delete(h.limiters, ev.CertificateID)
	}
}

func (h *ProgressHub) limiter(id string) *rate.Limiter {
	l, ok := h.limiters[id]
	if !ok {
		limit := rate.Inf
		if h.interval > 0 {
			limit = rate.Every(h.interval)
		}
		l = rate.NewLimiter(limit, 1)
		h.limiters[id] = l
	}
	return l
}

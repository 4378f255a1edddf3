package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// EventHub fans domain events out to Server-Sent Events subscribers. It
// implements domain.EventSink. A subscriber that falls behind loses
// events rather than stalling the publisher.
type EventHub struct {
	mu      sync.RWMutex
	subs    map[chan domain.Event]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewEventHub creates a hub whose subscribers buffer up to buffer events.
func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventHub{subs: make(map[chan domain.Event]struct{}), buffer: buffer}
}

// Publish implements domain.EventSink.
func (h *EventHub) Publish(e domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned function removes it.
func (h *EventHub) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of connected subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *EventHub) Dropped() uint64 { return h.dropped.Load() }

// eventFilter selects events by user and type. Zero value matches all.
type eventFilter struct {
	user  *common.Address
	types map[domain.EventType]bool
}

// parseFilter reads ?user= (one address) and ?type= (comma-separated).
func parseFilter(r *http.Request) (eventFilter, error) {
	var f eventFilter
	if v := r.URL.Query().Get("user"); v != "" {
		if !common.IsHexAddress(v) {
			return f, fmt.Errorf("%w: %q", domain.ErrInvalidUser, v)
		}
		addr := common.HexToAddress(v)
		f.user = &addr
	}
	if v := r.URL.Query().Get("type"); v != "" {
		f.types = make(map[domain.EventType]bool)
		for _, t := range strings.Split(v, ",") {
			f.types[domain.EventType(strings.TrimSpace(t))] = true
		}
	}
	return f, nil
}

func (f eventFilter) match(e domain.Event) bool {
	if f.user != nil && e.User != *f.user {
		return false
	}
	return len(f.types) == 0 || f.types[e.Type]
}

// HandleSSE streams events as Server-Sent Events.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "error", "streaming not supported")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	events, cancel := h.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if !filter.match(e) {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("[api] marshal event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

package transport

import (
	"sync"

	"github.com/luma/conduit/protocol"
)

// subscriber is a connection that receives published messages.
type subscriber interface {
	push(kind string, elems ...protocol.Value)
}

type patternSubs struct {
	pattern *Pattern
	subs    map[subscriber]struct{}
}

// Hub routes published messages to the connections subscribed to the
// channel or to a matching pattern. It is shared by every listener.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[subscriber]struct{}
	patterns map[string]*patternSubs
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[subscriber]struct{}),
		patterns: make(map[string]*patternSubs),
	}
}

func (h *Hub) subscribe(s subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) unsubscribe(s subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.channels[channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) psubscribe(s subscriber, pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ps, ok := h.patterns[pattern]
	if !ok {
		ps = &patternSubs{pattern: ParsePattern(pattern), subs: make(map[subscriber]struct{})}
		h.patterns[pattern] = ps
	}
	ps.subs[s] = struct{}{}
}

func (h *Hub) punsubscribe(s subscriber, pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ps, ok := h.patterns[pattern]; ok {
		delete(ps.subs, s)
		if len(ps.subs) == 0 {
			delete(h.patterns, pattern)
		}
	}
}

// Publish delivers payload to the subscribers of channel and returns how
// many received it.
func (h *Hub) Publish(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for s := range h.channels[channel] {
		s.push(protocol.PushMessage, protocol.NewBulkString(channel), protocol.NewBulk(payload))
		n++
	}

	for name, ps := range h.patterns {
		if !ps.pattern.Matches(channel) {
			continue
		}
		for s := range ps.subs {
			s.push(protocol.PushPMessage, protocol.NewBulkString(name), protocol.NewBulkString(channel), protocol.NewBulk(payload))
			n++
		}
	}

	return n
}

// Channels lists the channels with at least one subscriber, optionally
// filtered by a pattern.
func (h *Hub) Channels(pattern string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var match *Pattern
	if pattern != "" {
		match = ParsePattern(pattern)
	}

	out := make([]string, 0, len(h.channels))
	for name := range h.channels {
		if match == nil || match.Matches(name) {
			out = append(out, name)
		}
	}
	return out
}

func (h *Hub) NumSub(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.channels[channel])
}

// NumPat counts pattern subscriptions over all connections.
func (h *Hub) NumPat() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, ps := range h.patterns {
		n += len(ps.subs)
	}
	return n
}

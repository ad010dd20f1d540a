package client

import (
	"sync"

	"github.com/luma/conduit/protocol"
	"go.uber.org/zap"
)

// Message is a pub/sub message delivered to a listener.
type Message struct {
	// Kind is message, pmessage or smessage.
	Kind string
	// Pattern is set for pmessage only.
	Pattern string
	Channel string
	Payload []byte
}

// Listener receives the messages of the channels and patterns it is
// subscribed to. Receive runs on the connection's read goroutine and must
// not block.
type Listener interface {
	Receive(msg *Message)
}

type listenerFunc struct {
	fn func(msg *Message)
}

func (l *listenerFunc) Receive(msg *Message) {
	l.fn(msg)
}

// NewListener wraps fn. Keep the returned listener to unsubscribe it later.
func NewListener(fn func(msg *Message)) Listener {
	return &listenerFunc{fn: fn}
}

// PushFunc handles pushes that are not pub/sub messages, e.g. invalidate.
type PushFunc func(v protocol.Value)

type subscription struct {
	name      string
	pattern   bool
	listeners []Listener
}

// registry tracks the subscriptions of a client so they survive reconnects,
// and routes pushes to listeners.
type registry struct {
	mu       sync.RWMutex
	ordered  []*subscription
	channels map[string]*subscription
	patterns map[string]*subscription
	handlers map[string][]PushFunc

	log     *zap.Logger
	metrics *Metrics
}

func newRegistry(log *zap.Logger, metrics *Metrics) *registry {
	return &registry{
		channels: make(map[string]*subscription),
		patterns: make(map[string]*subscription),
		handlers: make(map[string][]PushFunc),
		log:      log,
		metrics:  metrics,
	}
}

func (r *registry) index(pattern bool) map[string]*subscription {
	if pattern {
		return r.patterns
	}
	return r.channels
}

// add subscribes l to names and returns the names that had no listener yet.
func (r *registry) add(pattern bool, l Listener, names []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(pattern)

	var added []string
	for _, name := range names {
		sub, ok := idx[name]
		if !ok {
			sub = &subscription{name: name, pattern: pattern}
			idx[name] = sub
			r.ordered = append(r.ordered, sub)
			added = append(added, name)
		}

		if !containsListener(sub.listeners, l) {
			sub.listeners = append(sub.listeners, l)
		}
	}

	return added
}

// remove unsubscribes l from names, or from everything it listens to when
// names is empty. It returns the names left without a listener.
func (r *registry) remove(pattern bool, l Listener, names []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(pattern)

	if len(names) == 0 {
		for _, sub := range r.ordered {
			if sub.pattern == pattern && containsListener(sub.listeners, l) {
				names = append(names, sub.name)
			}
		}
	}

	var emptied []string
	for _, name := range names {
		sub, ok := idx[name]
		if !ok {
			continue
		}

		sub.listeners = removeListener(sub.listeners, l)
		if len(sub.listeners) > 0 {
			continue
		}

		delete(idx, name)
		for i, s := range r.ordered {
			if s == sub {
				r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
				break
			}
		}
		emptied = append(emptied, name)
	}

	return emptied
}

func (r *registry) onPush(kind string, fn PushFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[kind] = append(r.handlers[kind], fn)
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ordered)
}

// replay returns the commands that restore every subscription, in the order
// they were first made. Consecutive channels (or patterns) share a command.
func (r *registry) replay(newOutput func() Output) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		cmds  []*Command
		names []string
		run   bool
	)

	emit := func() {
		if len(names) > 0 {
			cmds = append(cmds, subscribeCommand(run, names, newOutput()))
		}
		names = nil
	}

	for _, sub := range r.ordered {
		if len(names) > 0 && sub.pattern != run {
			emit()
		}
		run = sub.pattern
		names = append(names, sub.name)
	}
	emit()

	return cmds
}

func subscribeCommand(pattern bool, names []string, out Output) *Command {
	keyword, ack := protocol.SUBSCRIBE, protocol.PushSubscribe
	if pattern {
		keyword, ack = protocol.PSUBSCRIBE, protocol.PushPSubscribe
	}

	cmd := NewCommand(keyword, NewArgs().AddStrings(names...), out)
	cmd.ack = ack
	cmd.acks = len(names)
	return cmd
}

func unsubscribeCommand(pattern bool, names []string, out Output) *Command {
	keyword, ack := protocol.UNSUBSCRIBE, protocol.PushUnsubscribe
	if pattern {
		keyword, ack = protocol.PUNSUBSCRIBE, protocol.PushPUnsubscribe
	}

	cmd := NewCommand(keyword, NewArgs().AddStrings(names...), out)
	cmd.ack = ack
	cmd.acks = len(names)
	return cmd
}

// route handles a push frame read from cn.
func (r *registry) route(cn *channel, v protocol.Value) {
	if len(v.Elems) == 0 {
		r.log.Debug("Dropping empty push")
		return
	}

	kind := v.Elems[0].Text()
	r.metrics.pushReceived(kind)

	switch kind {
	case protocol.PushMessage, protocol.PushSMessage:
		if len(v.Elems) < 3 {
			break
		}
		msg := &Message{Kind: kind, Channel: v.Elems[1].Text(), Payload: v.Elems[2].Str}
		r.deliver(r.listenersOf(false, msg.Channel), msg)
		return

	case protocol.PushPMessage:
		if len(v.Elems) < 4 {
			break
		}
		msg := &Message{Kind: kind, Pattern: v.Elems[1].Text(), Channel: v.Elems[2].Text(), Payload: v.Elems[3].Str}
		r.deliver(r.listenersOf(true, msg.Pattern), msg)
		return

	case protocol.PushSubscribe, protocol.PushPSubscribe, protocol.PushUnsubscribe, protocol.PushPUnsubscribe:
		var count int64
		if len(v.Elems) > 2 {
			count = v.Elems[2].Int
		}
		if !cn.ack(kind, count) {
			r.log.Debug("Unsolicited subscription confirmation", zap.String("kind", kind))
		}
		return

	default:
		r.mu.RLock()
		handlers := append([]PushFunc(nil), r.handlers[kind]...)
		r.mu.RUnlock()

		if len(handlers) > 0 {
			for _, fn := range handlers {
				r.invoke(kind, func() { fn(v) })
			}
			return
		}
	}

	r.log.Debug("Dropping unhandled push", zap.String("kind", kind), zap.Int("len", len(v.Elems)))
}

func (r *registry) listenersOf(pattern bool, name string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.index(pattern)[name]
	if !ok {
		return nil
	}
	return append([]Listener(nil), sub.listeners...)
}

func (r *registry) deliver(listeners []Listener, msg *Message) {
	if len(listeners) == 0 {
		r.log.Debug("Dropping message without listener", zap.String("channel", msg.Channel))
		return
	}

	for _, l := range listeners {
		r.invoke(msg.Kind, func() { l.Receive(msg) })
	}
}

func (r *registry) invoke(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Push listener panicked", zap.String("kind", kind), zap.Any("panic", p))
		}
	}()

	fn()
}

func containsListener(ls []Listener, l Listener) bool {
	for _, x := range ls {
		if x == l {
			return true
		}
	}
	return false
}

func removeListener(ls []Listener, l Listener) []Listener {
	for i, x := range ls {
		if x == l {
			return append(ls[:i], ls[i+1:]...)
		}
	}
	return ls
}

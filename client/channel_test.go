package client

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/conduit/protocol"
)

type recordingRouter struct {
	pushes []protocol.Value
}

func (r *recordingRouter) route(cn *channel, v protocol.Value) {
	r.pushes = append(r.pushes, v)
}

// detachedChannel has no connection or read loop, specs feed the decoder
// directly.
func detachedChannel(resp3 bool) (*channel, *recordingRouter) {
	router := &recordingRouter{}

	return &channel{
		resp3:  resp3,
		queue:  newQueue(nil),
		dec:    protocol.NewDecoder(),
		router: router,
		log:    zap.NewNop(),
	}, router
}

func (c *channel) feed(raw string) error {
	c.dec.Feed([]byte(raw))
	return c.decodeReplies()
}

var _ = Describe("client / channel", func() {
	It("drops a reply that arrives with nothing pending", func() {
		cn, _ := detachedChannel(false)

		Expect(cn.feed(":1\r\n")).To(Succeed())

		cmd, f := pingCommand()
		cn.queue.enqueue(cmd)
		Expect(cn.feed("+PONG\r\n")).To(Succeed())

		Expect(f.Get()).To(Equal("PONG"))
	})

	It("waits for the rest of a split reply", func() {
		cn, _ := detachedChannel(false)

		cmd := NewCommand(protocol.ECHO, NewArgs("hello"), NewFuture(Bytes))
		cn.queue.enqueue(cmd)

		for _, b := range []byte("$5\r\nhello\r\n") {
			Expect(cmd.IsDone()).To(BeFalse())
			Expect(cn.feed(string(b))).To(Succeed())
		}

		Expect(cmd.IsDone()).To(BeTrue())
		Expect(cmd.Output.(*Future[[]byte]).Get()).To(Equal([]byte("hello")))
	})

	It("reports bytes that are not RESP", func() {
		cn, _ := detachedChannel(false)

		err := cn.feed("?what\r\n")
		Expect(errors.Is(err, ErrProtocol)).To(BeTrue())
	})

	It("skips attributes in front of a reply", func() {
		cn, _ := detachedChannel(true)

		cmd, f := pingCommand()
		cn.queue.enqueue(cmd)
		Expect(cn.feed("|1\r\n+ttl\r\n:10\r\n+OK\r\n")).To(Succeed())

		Expect(f.Get()).To(Equal("OK"))
	})

	Describe("push classification", func() {
		message := "*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$2\r\nhi\r\n"

		It("treats RESP2 arrays as replies outside subscribed mode", func() {
			cn, router := detachedChannel(false)

			cmd := NewCommand(protocol.SMEMBERS, NewArgs("key"), NewStream(String))
			cn.queue.enqueue(cmd)
			Expect(cn.feed(message)).To(Succeed())

			Expect(cmd.IsDone()).To(BeTrue())
			Expect(router.pushes).To(BeEmpty())
		})

		It("routes RESP2 messages in subscribed mode", func() {
			cn, router := detachedChannel(false)
			cn.subscribed.Store(true)

			Expect(cn.feed(message)).To(Succeed())
			Expect(router.pushes).To(HaveLen(1))
			Expect(router.pushes[0].Elems[2].Text()).To(Equal("hi"))
		})

		It("always routes RESP3 push frames", func() {
			cn, router := detachedChannel(true)

			Expect(cn.feed(">2\r\n$10\r\ninvalidate\r\n_\r\n")).To(Succeed())
			Expect(router.pushes).To(HaveLen(1))
		})

		It("does not take RESP3 arrays for pushes", func() {
			cn, router := detachedChannel(true)
			cn.subscribed.Store(true)

			cmd := NewCommand(protocol.SMEMBERS, NewArgs("key"), NewStream(String))
			cn.queue.enqueue(cmd)
			Expect(cn.feed(message)).To(Succeed())

			Expect(cmd.IsDone()).To(BeTrue())
			Expect(router.pushes).To(BeEmpty())
		})
	})

	Describe("ack()", func() {
		It("completes a subscribe once every channel is confirmed", func() {
			cn, _ := detachedChannel(false)

			f := NewFuture(Int64)
			cmd := subscribeCommand(false, []string{"a", "b"}, f)
			cn.pendingAcks.Add(1)
			cn.subscribed.Store(true)
			cn.queue.enqueue(cmd)

			Expect(cn.ack(protocol.PushSubscribe, 1)).To(BeTrue())
			Expect(cmd.IsDone()).To(BeFalse())

			Expect(cn.ack(protocol.PushSubscribe, 2)).To(BeTrue())
			Expect(f.Get()).To(Equal(int64(2)))
			Expect(cn.queue.len()).To(BeZero())
			Expect(cn.subscribed.Load()).To(BeTrue())
		})

		It("ignores confirmations nobody waits for", func() {
			cn, _ := detachedChannel(false)

			cmd, _ := pingCommand()
			cn.queue.enqueue(cmd)

			Expect(cn.ack(protocol.PushSubscribe, 1)).To(BeFalse())
			Expect(cn.queue.len()).To(Equal(1))
		})

		It("never counts a confirmation against a command queued after Reset()", func() {
			cn, _ := detachedChannel(false)

			sub := subscribeCommand(false, []string{"a"}, NewFuture(Int64))
			cn.pendingAcks.Add(1)
			cn.subscribed.Store(true)
			cn.queue.enqueue(sub)

			// Reset and a new dispatch land before the confirmation is read
			cn.reset()
			f := NewFuture(Bytes)
			get := NewCommand(protocol.GET, NewArgs("k"), f)
			cn.queue.enqueue(get)

			Expect(cn.ack(protocol.PushSubscribe, 1)).To(BeFalse())
			Expect(get.IsDone()).To(BeFalse())
			Expect(cn.queue.len()).To(Equal(1))

			Expect(cn.feed("$1\r\nv\r\n")).To(Succeed())
			Expect(f.Get()).To(Equal([]byte("v")))
		})

		It("leaves subscribed mode when a subscribe is refused", func() {
			cn, _ := detachedChannel(false)

			f := NewFuture(Int64)
			cn.queue.enqueue(subscribeCommand(false, []string{"a"}, f))
			cn.pendingAcks.Add(1)
			cn.subscribed.Store(true)

			Expect(cn.feed("-NOAUTH Authentication required.\r\n")).To(Succeed())
			_, err := f.Get()
			Expect(err).To(MatchError(ContainSubstring("NOAUTH")))
			Expect(cn.pendingAcks.Load()).To(BeZero())
			Expect(cn.subscribed.Load()).To(BeFalse())

			// Arrays are replies again
			cmd := NewCommand(protocol.SMEMBERS, NewArgs("key"), NewStream(String))
			cn.queue.enqueue(cmd)
			Expect(cn.feed("*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$2\r\nhi\r\n")).To(Succeed())
			Expect(cmd.IsDone()).To(BeTrue())
		})

		It("stays in subscribed mode when a refused subscribe leaves others active", func() {
			cn, _ := detachedChannel(false)

			first := subscribeCommand(false, []string{"a"}, NewFuture(Int64))
			cn.pendingAcks.Add(1)
			cn.subscribed.Store(true)
			cn.queue.enqueue(first)
			Expect(cn.ack(protocol.PushSubscribe, 1)).To(BeTrue())

			cn.queue.enqueue(subscribeCommand(false, []string{"b"}, NewFuture(Int64)))
			cn.pendingAcks.Add(1)

			Expect(cn.feed("-ERR refused\r\n")).To(Succeed())
			Expect(cn.subscribed.Load()).To(BeTrue())
		})

		It("leaves subscribed mode when the last subscription goes", func() {
			cn, _ := detachedChannel(false)

			cmd := unsubscribeCommand(false, []string{"a"}, NewFuture(Int64))
			cn.pendingAcks.Add(1)
			cn.subscribed.Store(true)
			cn.queue.enqueue(cmd)

			Expect(cn.ack(protocol.PushUnsubscribe, 0)).To(BeTrue())
			Expect(cn.subscribed.Load()).To(BeFalse())
		})
	})
})

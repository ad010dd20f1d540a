package client_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/conduit/client"
	"github.com/luma/conduit/protocol"
)

type dialResult struct {
	client *client.Client
	err    error
}

var _ = Describe("client / Client", func() {
	var (
		ctx    context.Context
		dialer *pipeDialer
		opts   client.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		dialer = newPipeDialer()

		opts = client.DefaultOptions("fake:6379")
		opts.Dialer = dialer
		opts.ReconnectMinDelay = 10 * time.Millisecond
		opts.ReconnectMaxDelay = 50 * time.Millisecond
	})

	connect := func() (*client.Client, *fakeServer) {
		c, err := client.Dial(ctx, opts)
		Expect(err).NotTo(HaveOccurred())
		return c, dialer.next()
	}

	// dialAsync runs Dial in the background so the test can answer the
	// handshake.
	dialAsync := func() chan dialResult {
		done := make(chan dialResult, 1)
		go func() {
			c, err := client.Dial(ctx, opts)
			done <- dialResult{client: c, err: err}
		}()
		return done
	}

	Describe("pipelining", func() {
		It("writes SADD and SCARD in a single frame and resolves both", func() {
			c, server := connect()
			defer c.Close()

			c.SetAutoFlush(false)

			added := c.SAdd("key", "member")
			card := c.SCard("key")

			Consistently(server.commands, 50*time.Millisecond).ShouldNot(Receive())
			Expect(server.client.writes.Load()).To(BeZero())

			Expect(c.Flush()).To(Succeed())

			Expect(server.expect()).To(Equal([]string{"SADD", "key", "member"}))
			Expect(server.expect()).To(Equal([]string{"SCARD", "key"}))
			Expect(server.client.writes.Load()).To(Equal(int32(1)))
			Expect(string(server.received())).To(Equal(
				"*3\r\n$4\r\nSADD\r\n$3\r\nkey\r\n$6\r\nmember\r\n" +
					"*2\r\n$5\r\nSCARD\r\n$3\r\nkey\r\n"))

			server.reply(":1\r\n:1\r\n")

			Expect(added.Get()).To(Equal(int64(1)))
			Expect(card.Get()).To(Equal(int64(1)))
		})

		It("flushes what was buffered when auto flush is turned back on", func() {
			c, server := connect()
			defer c.Close()

			c.SetAutoFlush(false)
			f := c.Ping()
			c.SetAutoFlush(true)

			Expect(server.expect()).To(Equal([]string{"PING"}))
			server.reply("+PONG\r\n")
			Expect(f.Get()).To(Equal("PONG"))
		})

		It("matches replies to commands from many goroutines in order", func() {
			c, server := connect()
			defer c.Close()

			const n = 50

			var wg sync.WaitGroup
			results := make([]*client.Future[[]byte], n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					results[i] = c.Echo([]byte(fmt.Sprintf("msg-%d", i)))
				}(i)
			}

			for i := 0; i < n; i++ {
				cmd := server.expect()
				Expect(cmd[0]).To(Equal("ECHO"))
				server.push(protocol.NewBulkString(cmd[1]))
			}

			wg.Wait()
			for i, f := range results {
				Expect(f.Get()).To(Equal([]byte(fmt.Sprintf("msg-%d", i))))
			}
		})

		It("resolves error replies without affecting the next command", func() {
			c, server := connect()
			defer c.Close()

			bad := c.Get("set-key")
			good := c.Ping()

			server.expect()
			server.expect()
			server.reply("-WRONGTYPE Operation against a key holding the wrong kind of value\r\n+PONG\r\n")

			_, err := bad.Get()
			var cmdErr *client.CommandError
			Expect(errors.As(err, &cmdErr)).To(BeTrue())
			Expect(cmdErr.Prefix()).To(Equal("WRONGTYPE"))

			Expect(good.Get()).To(Equal("PONG"))
		})

		It("streams aggregate replies", func() {
			c, server := connect()
			defer c.Close()

			members := c.SMembers("key")
			server.expect()
			server.reply("*3\r\n$7\r\nmessage\r\n$1\r\nx\r\n$1\r\ny\r\n")

			Expect(client.Collect[string](ctx, members)).To(Equal([]string{"message", "x", "y"}))
		})
	})

	Describe("dispatch", func() {
		It("fails commands on a closed client with ErrClosed", func() {
			c, _ := connect()
			Expect(c.Close()).To(Succeed())
			Expect(c.Close()).To(Succeed())

			_, err := c.Ping().Get()
			Expect(err).To(MatchError(client.ErrClosed))
			Expect(c.State()).To(Equal(client.Closed))
		})

		It("fails pending commands with ErrClosed on Close", func() {
			c, server := connect()

			f := c.Ping()
			server.expect()

			Expect(c.Close()).To(Succeed())

			_, err := f.Get()
			Expect(err).To(MatchError(client.ErrClosed))
		})

		It("fails with a connection error when not connected and not reconnecting", func() {
			opts.AutoReconnect = false
			c := client.New(opts)
			defer c.Close()

			_, err := c.Ping().Get()
			Expect(client.IsConnectionError(err)).To(BeTrue())
		})

		It("holds commands until Connect", func() {
			c := client.New(opts)
			defer c.Close()

			f := c.Ping()
			Expect(c.State()).To(Equal(client.Disconnected))

			Expect(c.Connect(ctx)).To(Succeed())
			Expect(c.IsOpen()).To(BeTrue())

			server := dialer.next()
			Expect(server.expect()).To(Equal([]string{"PING"}))
			server.reply("+PONG\r\n")

			Expect(f.Get()).To(Equal("PONG"))
		})

		It("rejects commands beyond the request queue size", func() {
			opts.RequestQueueSize = 2
			c := client.New(opts)
			defer c.Close()

			first := c.Ping()
			second := c.Ping()
			third := c.Ping()

			_, err := third.Get()
			Expect(err).To(MatchError(client.ErrQueueOverflow))
			Expect(first.Err()).NotTo(HaveOccurred())
			Expect(second.Err()).NotTo(HaveOccurred())
		})

		It("times out commands without a reply", func() {
			opts.CommandTimeout = 50 * time.Millisecond
			c, server := connect()
			defer c.Close()

			f := c.Ping()
			server.expect()

			_, err := f.Get()
			Expect(err).To(MatchError(client.ErrTimeout))
		})

		It("lets callers detach from a command", func() {
			c, server := connect()
			defer c.Close()

			f := c.Ping()
			Expect(f.Cancel()).To(BeTrue())
			Expect(f.Cancel()).To(BeFalse())

			server.expect()
			server.reply("+PONG\r\n")

			_, err := f.Get()
			Expect(err).To(MatchError(client.ErrCancelled))

			next := c.Echo([]byte("hi"))
			server.expect()
			server.reply("$2\r\nhi\r\n")
			Expect(next.Get()).To(Equal([]byte("hi")))
		})
	})

	Describe("Reset()", func() {
		It("cancels every pending command and can be repeated", func() {
			c, server := connect()
			defer c.Close()

			a := c.Ping()
			b := c.Ping()
			server.expect()
			server.expect()

			c.Reset()
			c.Reset()

			_, err := a.Get()
			Expect(err).To(MatchError(client.ErrCancelled))
			_, err = b.Get()
			Expect(err).To(MatchError(client.ErrCancelled))

			f := c.Echo([]byte("hi"))
			server.expect()
			server.reply("$2\r\nhi\r\n")
			Expect(f.Get()).To(Equal([]byte("hi")))
		})

		It("drops buffered commands", func() {
			c, server := connect()
			defer c.Close()

			c.SetAutoFlush(false)
			a := c.Ping()
			c.Reset()
			Expect(c.Flush()).To(Succeed())

			_, err := a.Get()
			Expect(err).To(MatchError(client.ErrCancelled))
			Consistently(server.commands, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("is a no-op on a fresh client", func() {
			c := client.New(opts)
			defer c.Close()

			Expect(c.Reset).NotTo(Panic())
		})
	})

	Describe("protocol errors", func() {
		It("fails every queued command and reconnects", func() {
			c, server := connect()
			defer c.Close()

			a := c.Ping()
			b := c.Echo([]byte("x"))
			server.expect()
			server.expect()

			server.reply("?oops\r\n")

			_, err := a.Get()
			Expect(errors.Is(err, client.ErrProtocol)).To(BeTrue())
			_, err = b.Get()
			Expect(errors.Is(err, client.ErrProtocol)).To(BeTrue())

			next := dialer.next()
			Eventually(c.IsOpen).Should(BeTrue())

			f := c.Ping()
			next.expect()
			next.reply("+PONG\r\n")
			Expect(f.Get()).To(Equal("PONG"))
		})
	})

	Describe("reconnects", func() {
		It("replays unsent commands in order on the new connection", func() {
			c, server := connect()
			defer c.Close()

			dialer.refuse.Store(true)

			c.SetAutoFlush(false)
			a := c.Echo([]byte("a"))
			b := c.Echo([]byte("b"))

			server.close()
			Eventually(c.IsOpen).Should(BeFalse())

			cf := c.Echo([]byte("c"))

			dialer.refuse.Store(false)
			next := dialer.next()
			Eventually(c.IsOpen).Should(BeTrue())

			Expect(next.expect()).To(Equal([]string{"ECHO", "a"}))
			Expect(next.expect()).To(Equal([]string{"ECHO", "b"}))
			Expect(next.expect()).To(Equal([]string{"ECHO", "c"}))
			next.reply("$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n")

			Expect(a.Get()).To(Equal([]byte("a")))
			Expect(b.Get()).To(Equal([]byte("b")))
			Expect(cf.Get()).To(Equal([]byte("c")))
		})

		It("fails unsent commands without RetryUnsent", func() {
			opts.RetryUnsent = false
			c, server := connect()
			defer c.Close()

			c.SetAutoFlush(false)
			f := c.Ping()
			server.close()

			_, err := f.Get()
			Expect(client.IsConnectionError(err)).To(BeTrue())
		})

		It("fails commands that were sent", func() {
			c, server := connect()
			defer c.Close()

			f := c.Ping()
			server.expect()
			server.close()

			_, err := f.Get()
			Expect(client.IsConnectionError(err)).To(BeTrue())

			dialer.next()
			Eventually(c.IsOpen).Should(BeTrue())
		})

		It("resends sent commands with RetrySent", func() {
			opts.RetrySent = true
			c, server := connect()
			defer c.Close()

			f := c.Ping()
			server.expect()
			server.close()

			next := dialer.next()
			Expect(next.expect()).To(Equal([]string{"PING"}))
			next.reply("+PONG\r\n")

			Expect(f.Get()).To(Equal("PONG"))
		})

		It("stays down without AutoReconnect", func() {
			opts.AutoReconnect = false
			c, server := connect()
			defer c.Close()

			f := c.Ping()
			server.expect()
			server.close()

			_, err := f.Get()
			Expect(client.IsConnectionError(err)).To(BeTrue())

			Eventually(c.State).Should(Equal(client.Disconnected))
			Consistently(dialer.dials.Load, 50*time.Millisecond).Should(Equal(int32(1)))

			_, err = c.Ping().Get()
			Expect(client.IsConnectionError(err)).To(BeTrue())
		})

		It("keeps retrying with backoff while the server is away", func() {
			c, server := connect()
			defer c.Close()

			dialer.refuse.Store(true)
			server.close()

			Eventually(dialer.dials.Load).Should(BeNumerically(">=", 3))
			Expect(c.IsOpen()).To(BeFalse())

			dialer.refuse.Store(false)
			dialer.next()
			Eventually(c.IsOpen).Should(BeTrue())
		})

		It("stops reconnecting once closed", func() {
			c, server := connect()

			dialer.refuse.Store(true)
			server.close()
			Eventually(dialer.dials.Load).Should(BeNumerically(">=", 2))

			Expect(c.Close()).To(Succeed())
			dials := dialer.dials.Load()
			Consistently(dialer.dials.Load, 100*time.Millisecond).Should(Equal(dials))
		})
	})

	Describe("handshake", func() {
		It("authenticates, names the connection and selects the database in one write", func() {
			opts.Password = "secret"
			opts.ClientName = "worker"
			opts.DB = 2

			done := dialAsync()
			server := dialer.next()

			Expect(server.expect()).To(Equal([]string{"AUTH", "secret"}))
			Expect(server.expect()).To(Equal([]string{"CLIENT", "SETNAME", "worker"}))
			Expect(server.expect()).To(Equal([]string{"SELECT", "2"}))
			Expect(server.client.writes.Load()).To(Equal(int32(1)))

			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
			server.reply("+OK\r\n+OK\r\n+OK\r\n")

			var res dialResult
			Eventually(done).Should(Receive(&res))
			Expect(res.err).NotTo(HaveOccurred())
			defer res.client.Close()

			Expect(res.client.IsOpen()).To(BeTrue())
		})

		It("sends HELLO for RESP3", func() {
			opts.Protocol = 3
			opts.Username = "app"
			opts.Password = "secret"
			opts.ClientName = "worker"

			done := dialAsync()
			server := dialer.next()

			Expect(server.expect()).To(Equal([]string{"HELLO", "3", "AUTH", "app", "secret", "SETNAME", "worker"}))
			server.reply("%1\r\n+server\r\n+conduit\r\n")

			var res dialResult
			Eventually(done).Should(Receive(&res))
			Expect(res.err).NotTo(HaveOccurred())
			res.client.Close()
		})

		It("fails Dial when the server rejects the credentials", func() {
			opts.Password = "wrong"

			done := dialAsync()
			server := dialer.next()

			server.expect()
			server.reply("-WRONGPASS invalid username-password pair\r\n")

			var res dialResult
			Eventually(done).Should(Receive(&res))

			var cmdErr *client.CommandError
			Expect(errors.As(res.err, &cmdErr)).To(BeTrue())
			Expect(cmdErr.Prefix()).To(Equal("WRONGPASS"))
		})

		It("restores the selected database after a reconnect", func() {
			c, server := connect()
			defer c.Close()

			sel := c.Select(4)
			server.expect()
			server.reply("+OK\r\n")
			Expect(sel.Get()).To(Equal("OK"))

			server.close()

			next := dialer.next()
			Expect(next.expect()).To(Equal([]string{"SELECT", "4"}))
			next.reply("+OK\r\n")

			Eventually(c.IsOpen).Should(BeTrue())
		})
	})

	Describe("pub/sub", func() {
		var (
			mu       sync.Mutex
			messages []client.Message
			listener client.Listener
		)

		received := func() []client.Message {
			mu.Lock()
			defer mu.Unlock()
			return append([]client.Message(nil), messages...)
		}

		BeforeEach(func() {
			messages = nil
			listener = client.NewListener(func(msg *client.Message) {
				mu.Lock()
				defer mu.Unlock()
				messages = append(messages, *msg)
			})
		})

		ack := func(kind, name string, count int64) protocol.Value {
			return protocol.NewArray(protocol.NewBulkString(kind), protocol.NewBulkString(name), protocol.NewInteger(count))
		}

		It("resolves a subscribe once every channel is confirmed", func() {
			c, server := connect()
			defer c.Close()

			f := c.Subscribe(listener, "news", "sport")
			Expect(server.expect()).To(Equal([]string{"SUBSCRIBE", "news", "sport"}))

			server.push(ack("subscribe", "news", 1))
			Consistently(f.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

			server.push(ack("subscribe", "sport", 2))
			Expect(f.Get()).To(Equal(int64(2)))

			server.push(protocol.NewArray(
				protocol.NewBulkString("message"), protocol.NewBulkString("news"), protocol.NewBulkString("hello")))

			Eventually(received).Should(ConsistOf(client.Message{
				Kind:    "message",
				Channel: "news",
				Payload: []byte("hello"),
			}))
		})

		It("only sends SUBSCRIBE for channels without a listener", func() {
			c, server := connect()
			defer c.Close()

			first := c.Subscribe(listener, "news")
			server.expect()
			server.push(ack("subscribe", "news", 1))
			Expect(first.Get()).To(Equal(int64(1)))

			other := client.NewListener(func(*client.Message) {})
			again := c.Subscribe(other, "news")
			Expect(again.Get()).To(Equal(int64(1)))
			Consistently(server.commands, 50*time.Millisecond).ShouldNot(Receive())

			// news still has a listener
			gone := c.Unsubscribe(listener)
			Expect(gone.Get()).To(Equal(int64(1)))

			last := c.Unsubscribe(other, "news")
			Expect(server.expect()).To(Equal([]string{"UNSUBSCRIBE", "news"}))
			server.push(ack("unsubscribe", "news", 0))
			Expect(last.Get()).To(Equal(int64(0)))
		})

		It("treats message shaped replies as replies outside subscribed mode", func() {
			c, server := connect()
			defer c.Close()

			sub := c.Subscribe(listener, "news")
			server.expect()
			server.push(ack("subscribe", "news", 1))
			Expect(sub.Get()).To(Equal(int64(1)))

			unsub := c.Unsubscribe(listener, "news")
			server.expect()
			server.push(ack("unsubscribe", "news", 0))
			Expect(unsub.Get()).To(Equal(int64(0)))

			members := c.SMembers("key")
			server.expect()
			server.reply("*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$1\r\nx\r\n")

			Expect(client.Collect[string](ctx, members)).To(Equal([]string{"message", "news", "x"}))
			Expect(received()).To(BeEmpty())
		})

		It("routes pattern messages to pattern listeners", func() {
			c, server := connect()
			defer c.Close()

			f := c.PSubscribe(listener, "news.*")
			Expect(server.expect()).To(Equal([]string{"PSUBSCRIBE", "news.*"}))
			server.push(ack("psubscribe", "news.*", 1))
			Expect(f.Get()).To(Equal(int64(1)))

			server.push(protocol.NewArray(
				protocol.NewBulkString("pmessage"), protocol.NewBulkString("news.*"),
				protocol.NewBulkString("news.tech"), protocol.NewBulkString("chips")))

			Eventually(received).Should(ConsistOf(client.Message{
				Kind:    "pmessage",
				Pattern: "news.*",
				Channel: "news.tech",
				Payload: []byte("chips"),
			}))
		})

		It("resubscribes after a reconnect", func() {
			c, server := connect()
			defer c.Close()

			sub := c.Subscribe(listener, "news", "sport")
			server.expect()
			server.push(ack("subscribe", "news", 1))
			server.push(ack("subscribe", "sport", 2))
			Expect(sub.Get()).To(Equal(int64(2)))

			psub := c.PSubscribe(listener, "n*")
			server.expect()
			server.push(ack("psubscribe", "n*", 3))
			Expect(psub.Get()).To(Equal(int64(3)))

			server.close()

			next := dialer.next()
			Expect(next.expect()).To(Equal([]string{"SUBSCRIBE", "news", "sport"}))
			Expect(next.expect()).To(Equal([]string{"PSUBSCRIBE", "n*"}))
			next.push(ack("subscribe", "news", 1))
			next.push(ack("subscribe", "sport", 2))
			next.push(ack("psubscribe", "n*", 3))

			Eventually(c.IsOpen).Should(BeTrue())

			next.push(protocol.NewArray(
				protocol.NewBulkString("message"), protocol.NewBulkString("sport"), protocol.NewBulkString("goal")))

			Eventually(received).Should(ContainElement(client.Message{
				Kind:    "message",
				Channel: "sport",
				Payload: []byte("goal"),
			}))
		})

		It("handles RESP3 push frames between replies", func() {
			opts.Protocol = 3

			done := dialAsync()
			server := dialer.next()
			server.expect()
			server.reply("%0\r\n")

			var res dialResult
			Eventually(done).Should(Receive(&res))
			Expect(res.err).NotTo(HaveOccurred())
			c := res.client
			defer c.Close()

			invalidated := make(chan protocol.Value, 1)
			c.OnPush("invalidate", func(v protocol.Value) {
				invalidated <- v
			})

			sub := c.Subscribe(listener, "news")
			server.expect()
			server.push(protocol.NewPush(protocol.NewBulkString("subscribe"), protocol.NewBulkString("news"), protocol.NewInteger(1)))
			Expect(sub.Get()).To(Equal(int64(1)))

			f := c.Get("key")
			server.expect()
			server.push(protocol.NewPush(protocol.NewBulkString("message"), protocol.NewBulkString("news"), protocol.NewBulkString("hi")))
			server.push(protocol.NewPush(protocol.NewBulkString("invalidate"), protocol.NewArray(protocol.NewBulkString("key"))))
			server.reply("$5\r\nvalue\r\n")

			Expect(f.Get()).To(Equal([]byte("value")))
			Eventually(received).Should(HaveLen(1))

			var v protocol.Value
			Eventually(invalidated).Should(Receive(&v))
			Expect(v.Elems[1].Elems[0].Text()).To(Equal("key"))
		})

		It("survives a panicking listener", func() {
			c, server := connect()
			defer c.Close()

			bad := client.NewListener(func(*client.Message) { panic("boom") })
			sub := c.Subscribe(bad, "news")
			server.expect()
			server.push(ack("subscribe", "news", 1))
			Expect(sub.Get()).To(Equal(int64(1)))

			server.push(protocol.NewArray(
				protocol.NewBulkString("message"), protocol.NewBulkString("news"), protocol.NewBulkString("hi")))

			f := c.Ping()
			server.expect()
			server.reply("+PONG\r\n")
			Expect(f.Get()).To(Equal("PONG"))
		})
	})
})

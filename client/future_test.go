package client_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/conduit/client"
	"github.com/luma/conduit/protocol"
)

var _ = Describe("client / Future", func() {
	It("resolves once", func() {
		f := client.NewFuture(client.String)

		f.Complete(protocol.NewSimpleString("first"))
		f.Complete(protocol.NewSimpleString("second"))
		f.Fail(errors.New("late"))

		Expect(f.Get()).To(Equal("first"))
		Expect(f.Cancel()).To(BeFalse())
	})

	It("turns error replies into a CommandError", func() {
		f := client.NewFuture(client.Int64)
		f.Complete(protocol.NewError("ERR unknown command 'FOO'"))

		_, err := f.Get()
		Expect(err).To(MatchError("ERR unknown command 'FOO'"))

		var cmdErr *client.CommandError
		Expect(errors.As(err, &cmdErr)).To(BeTrue())
		Expect(cmdErr.Prefix()).To(Equal("ERR"))
	})

	It("gives up waiting when the context is done", func() {
		f := client.NewFuture(client.String)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := f.Wait(ctx)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(f.Err()).NotTo(HaveOccurred())
		Expect(f.Done()).NotTo(BeClosed())
	})
})

var _ = Describe("client / Stream", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("decodes elements as they are pulled", func() {
		s := client.NewStream(client.Int64)
		s.Complete(protocol.NewArray(protocol.NewInteger(1), protocol.NewInteger(2), protocol.NewInteger(3)))

		Expect(s.Len(ctx)).To(Equal(3))
		Expect(s.Next(ctx)).To(BeTrue())
		Expect(s.Value()).To(Equal(int64(1)))
		Expect(s.Len(ctx)).To(Equal(2))

		Expect(client.Collect[int64](ctx, s)).To(Equal([]int64{2, 3}))
	})

	It("yields nothing for a null array", func() {
		s := client.NewStream(client.String)
		s.Complete(protocol.NullArray())

		Expect(s.Next(ctx)).To(BeFalse())
		Expect(s.Err()).NotTo(HaveOccurred())
	})

	It("flattens maps", func() {
		s := client.NewStream(client.String)
		s.Complete(protocol.NewMap(protocol.NewBulkString("k"), protocol.NewBulkString("v")))

		Expect(client.Collect[string](ctx, s)).To(Equal([]string{"k", "v"}))
	})

	It("stops at an element that does not decode", func() {
		s := client.NewStream(client.Int64)
		s.Complete(protocol.NewArray(protocol.NewInteger(1), protocol.NewBulkString("x"), protocol.NewInteger(3)))

		out, err := client.Collect[int64](ctx, s)
		Expect(out).To(Equal([]int64{1}))
		Expect(err).To(MatchError(client.ErrUnexpectedReply))
	})

	It("reports error replies and scalars", func() {
		s := client.NewStream(client.String)
		s.Complete(protocol.NewError("WRONGTYPE nope"))
		Expect(s.Next(ctx)).To(BeFalse())
		Expect(s.Err()).To(MatchError("WRONGTYPE nope"))

		s = client.NewStream(client.String)
		s.Complete(protocol.NewInteger(1))
		Expect(s.Next(ctx)).To(BeFalse())
		Expect(s.Err()).To(MatchError(client.ErrUnexpectedReply))
	})

	It("is cancelled by Close before the reply arrives", func() {
		s := client.NewStream(client.String)
		s.Close()
		s.Complete(protocol.NewArray(protocol.NewBulkString("late")))

		Expect(s.Next(ctx)).To(BeFalse())
		Expect(s.Err()).To(MatchError(client.ErrCancelled))
	})

	Describe("ForEach()", func() {
		It("visits every element", func() {
			s := client.NewStream(client.String)
			s.Complete(protocol.NewArray(protocol.NewBulkString("a"), protocol.NewBulkString("b")))

			var seen []string
			n, err := client.ForEach[string](ctx, s, func(v string) error {
				seen = append(seen, v)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(seen).To(Equal([]string{"a", "b"}))
		})

		It("stops at the first callback error", func() {
			s := client.NewStream(client.String)
			s.Complete(protocol.NewArray(protocol.NewBulkString("a"), protocol.NewBulkString("b")))

			stop := errors.New("stop")
			n, err := client.ForEach[string](ctx, s, func(string) error { return stop })
			Expect(err).To(MatchError(stop))
			Expect(n).To(Equal(1))
		})
	})
})

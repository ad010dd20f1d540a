package cmd_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/conduit/cmd"
	"github.com/luma/conduit/transport"
)

var _ = Describe("cmd", func() {
	var (
		tcp *transport.TCP
		out *bytes.Buffer
	)

	run := func(args ...string) error {
		out.Reset()
		cmd.RootCmd.SetOut(out)
		cmd.RootCmd.SetArgs(args)
		return cmd.RootCmd.ExecuteContext(context.Background())
	}

	BeforeEach(func() {
		tcp = transport.NewTCP(transport.Options{Host: "127.0.0.1", Log: zap.NewNop()})
		Expect(tcp.Start(context.Background())).To(Succeed())

		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		Expect(tcp.Close()).To(Succeed())
	})

	It("prints the version", func() {
		Expect(run("version")).To(Succeed())
		Expect(out.String()).To(HavePrefix("conduit dev ("))
	})

	It("prints the version as JSON", func() {
		Expect(run("version", "--json")).To(Succeed())
		Expect(out.String()).To(ContainSubstring(`"version": "dev"`))

		// Flag values outlive a run, reset for the other specs
		Expect(run("version", "--json=false")).To(Succeed())
	})

	It("pings the server", func() {
		Expect(run("ping", "--addr", tcp.Addr(), "-n", "2")).To(Succeed())
		Expect(out.String()).To(MatchRegexp(`^PONG in \S+\nPONG in \S+\n$`))
	})

	It("publishes and prints the number of receivers", func() {
		Expect(run("publish", "news", "hello", "--addr", tcp.Addr())).To(Succeed())
		Expect(out.String()).To(Equal("0\n"))
	})

	It("runs a small benchmark", func() {
		Expect(run("bench", "--addr", tcp.Addr(), "-n", "500", "-P", "50")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("500 requests in"))

		// bench cleans up after itself
		Expect(tcp.Store().SCard(context.Background(), 0, "conduit:bench")).To(BeZero())
	})

	It("fails without a reachable server", func() {
		Expect(run("ping", "--addr", "127.0.0.1:1")).NotTo(Succeed())
	})

	It("generates man pages", func() {
		dir, err := os.MkdirTemp("", "conduit-man")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		Expect(run("gen", "man", "--dir", dir)).To(Succeed())
		Expect(filepath.Join(dir, "conduit.1")).To(BeAnExistingFile())
		Expect(filepath.Join(dir, "conduit-serve.1")).To(BeAnExistingFile())
	})
})

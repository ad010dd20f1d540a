package client_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/gomega"

	"github.com/luma/conduit/protocol"
)

// pipeDialer hands the client one end of a net.Pipe per dial and queues the
// other end as a scriptable fake server.
type pipeDialer struct {
	conns  chan *fakeServer
	refuse atomic.Bool
	dials  atomic.Int32
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan *fakeServer, 8)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.dials.Add(1)

	if d.refuse.Load() {
		return nil, errors.New("connection refused")
	}

	clientEnd, serverEnd := net.Pipe()
	counted := &countingConn{Conn: clientEnd}

	d.conns <- newFakeServer(serverEnd, counted)
	return counted, nil
}

// next returns the server side of the latest dial.
func (d *pipeDialer) next() *fakeServer {
	var s *fakeServer
	Eventually(d.conns, 2*time.Second).Should(Receive(&s))
	return s
}

// countingConn counts the Write calls made by the client.
type countingConn struct {
	net.Conn
	writes atomic.Int32
}

func (c *countingConn) Write(p []byte) (int, error) {
	c.writes.Add(1)
	return c.Conn.Write(p)
}

// fakeServer reads commands off the connection in the background, tests
// answer them with raw RESP.
type fakeServer struct {
	conn     net.Conn
	client   *countingConn
	commands chan []string

	mu  sync.Mutex
	raw []byte
}

func newFakeServer(conn net.Conn, client *countingConn) *fakeServer {
	s := &fakeServer{conn: conn, client: client, commands: make(chan []string, 128)}
	go s.readLoop()
	return s
}

func (s *fakeServer) readLoop() {
	defer close(s.commands)

	dec := protocol.NewDecoder()
	buf := make([]byte, 4096)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.raw = append(s.raw, buf[:n]...)
			s.mu.Unlock()

			dec.Feed(buf[:n])
			for {
				v, derr := dec.Next()
				if derr != nil {
					break
				}

				args := make([]string, 0, len(v.Elems))
				for _, elem := range v.Elems {
					args = append(args, elem.Text())
				}
				s.commands <- args
			}
		}

		if err != nil {
			return
		}
	}
}

// expect waits for the next command and returns its arguments, keyword
// first.
func (s *fakeServer) expect() []string {
	var cmd []string
	EventuallyWithOffset(1, s.commands, 2*time.Second).Should(Receive(&cmd))
	return cmd
}

// received returns every byte read from the client so far.
func (s *fakeServer) received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.raw...)
}

func (s *fakeServer) reply(raw string) {
	_, err := s.conn.Write([]byte(raw))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
}

func (s *fakeServer) push(v protocol.Value) {
	_, err := s.conn.Write(protocol.AppendValue(nil, v))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
}

func (s *fakeServer) close() {
	s.conn.Close()
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/conduit/protocol"
	"github.com/luma/conduit/storage"
)

const (
	// WriteQueueSize is the number of pending writes per connection
	WriteQueueSize = 127

	readBufferSize = 16 * 1024
)

// TCP is a RESP server over the Store, enough of Redis to develop and test
// clients against.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	store    storage.Store
	hub      *Hub
	password string
	options  Options
	metrics  *serverMetrics

	nextID atomic.Int64

	log   *zap.Logger
	trace bool
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if !options.Reuseport {
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	store := options.Store
	if store == nil {
		store = storage.NewInmemoryStore()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		store:        store,
		hub:          NewHub(),
		password:     options.Password,
		options:      options,
		trace:        options.Trace,
		log:          log,
	}
}

// Start binds every listener before returning, so Addr is usable right
// away.
func (t *TCP) Start(parentCtx context.Context) error {
	metrics, err := newServerMetrics(t.options.Registerer)
	if err != nil {
		return err
	}
	t.metrics = metrics

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	addr := t.addr
	for i := 0; i < t.numListeners; i++ {
		ln, err := t.listen(addr)
		if err != nil {
			return multierr.Append(fmt.Errorf("listen on %s: %w", addr, err), t.Close())
		}

		// Every other listener shares the port picked by the first
		addr = ln.Addr().String()

		t.startListener(ctx, ln)
	}

	return nil
}

func (t *TCP) listen(addr string) (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", addr)
	}
	return net.Listen("tcp", addr)
}

// Addr is the address the listeners are bound to.
func (t *TCP) Addr() string {
	if len(t.listeners) == 0 {
		return t.addr
	}
	return t.listeners[0].ln.Addr().String()
}

func (t *TCP) Store() storage.Store {
	return t.store
}

func (t *TCP) Hub() *Hub {
	return t.hub
}

func (t *TCP) startListener(ctx context.Context, ln net.Listener) {
	listener := NewTCPListener(
		ctx,
		ln,
		t,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)

	t.listeners = append(t.listeners, listener)

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			t.log.Error("Listener stopped", zap.Error(err))
		}
	}()
}

// Close immediately closes all active listeners and connections.
func (t *TCP) Close() (err error) {
	t.log.Info("Stopping TCP server")
	if t.cancel != nil {
		t.cancel()
	}

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	t.stopWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

type TCPListener struct {
	ctx context.Context

	ln     net.Listener
	server *TCP
	log    *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	loopWaiter  sync.WaitGroup
}

func NewTCPListener(ctx context.Context, ln net.Listener, server *TCP, log *zap.Logger) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		ln:          ln,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

// Close stops accepting and closes every connection of the listener.
func (t *TCPListener) Close() error {
	err := t.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	return err
}

func (t *TCPListener) Listen() error {
	defer func() {
		t.log.Debug("Waiting for Read/Write loops to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	go func() {
		<-t.ctx.Done()
		_ = t.ln.Close()
	}()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// Closed while we were waiting for new connections
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.log.Warn("Accept timed out", zap.Error(err))
				continue
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.server, t.log.Named("conn"))
		t.addConn(tcpConn)

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
	t.server.metrics.connOpened()
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.activeConns[conn]; ok {
		delete(t.activeConns, conn)
		t.server.metrics.connClosed()
	}
}

// TCPConn is one client connection. Its read loop executes commands in
// order, its write loop drains replies and pushes from the write queue.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	id     int64
	conn   net.Conn
	server *TCP

	writeMu    sync.Mutex
	closed     bool
	writeQueue chan []byte

	// Session state, owned by the read loop except resp which pushes read
	resp     atomic.Int32
	db       int
	authed   bool
	name     string
	quit     bool
	channels map[string]struct{}
	patterns map[string]struct{}

	log *zap.Logger
}

func NewTCPConn(parentCtx context.Context, conn net.Conn, server *TCP, log *zap.Logger) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	id := server.nextID.Add(1)

	c := &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		id:         id,
		conn:       conn,
		server:     server,
		writeQueue: make(chan []byte, WriteQueueSize),
		authed:     server.password == "",
		channels:   make(map[string]struct{}),
		patterns:   make(map[string]struct{}),
		log:        log.With(zap.Int64("client", id), zap.String("remote", conn.RemoteAddr().String())),
	}
	c.resp.Store(2)

	return c
}

// Close stops both loops and closes the connection.
func (t *TCPConn) Close() error {
	t.cancel()
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Start runs the read and write loops and returns once both exited.
func (t *TCPConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		defer t.closeWrites()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()

	t.unsubscribeAll()
	_ = t.Close()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")
	dec := protocol.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])

			var out []byte
			for !t.quit {
				v, derr := dec.Next()
				if errors.Is(derr, protocol.ErrIncomplete) {
					break
				}
				if derr != nil {
					log.Warn("Protocol error", zap.Error(derr))
					out = appendError(out, "ERR Protocol error: "+derr.Error())
					t.quit = true
					break
				}

				out = t.execute(v, out)
			}

			if len(out) > 0 {
				t.Write(out)
			}

			if t.quit {
				log.Debug("Client QUIT, exiting...")
				return
			}
		}

		if err != nil {
			if t.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Debug("Read failed", zap.Error(err))
			}
			return
		}
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-t.ctx.Done():
			return

		case data, ok := <-t.writeQueue:
			if !ok {
				// Our read loop has terminated and everything queued is out
				return
			}

			if _, err := t.conn.Write(data); err != nil {
				log.Debug("Failed to write from write queue", zap.Error(err))
				t.cancel()
				_ = t.conn.Close()
				return
			}
		}
	}
}

// Write queues data for the write loop. Writes after the connection closed
// are dropped.
func (t *TCPConn) Write(data []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed {
		return
	}

	select {
	case t.writeQueue <- data:
	case <-t.ctx.Done():
	}
}

func (t *TCPConn) closeWrites() {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.writeQueue)
	}
}

// push sends a pub/sub frame: a push for RESP3 clients, an array for RESP2.
func (t *TCPConn) push(kind string, elems ...protocol.Value) {
	t.Write(protocol.AppendValue(nil, t.pushValue(kind, elems...)))
}

func (t *TCPConn) pushValue(kind string, elems ...protocol.Value) protocol.Value {
	all := make([]protocol.Value, 0, len(elems)+1)
	all = append(all, protocol.NewBulkString(kind))
	all = append(all, elems...)

	if t.resp.Load() == 3 {
		return protocol.NewPush(all...)
	}
	return protocol.NewArray(all...)
}

func (t *TCPConn) subscriptions() int {
	return len(t.channels) + len(t.patterns)
}

func (t *TCPConn) unsubscribeAll() {
	for ch := range t.channels {
		t.server.hub.unsubscribe(t, ch)
	}
	for p := range t.patterns {
		t.server.hub.punsubscribe(t, p)
	}
}

// execute runs one request and appends its replies to out.
func (t *TCPConn) execute(v protocol.Value, out []byte) []byte {
	if v.Kind != protocol.Array || v.IsNull() || len(v.Elems) == 0 {
		t.quit = true
		return appendError(out, "ERR Protocol error: expected a command array")
	}

	args := make([][]byte, len(v.Elems))
	for i, elem := range v.Elems {
		if elem.Kind != protocol.BulkString || elem.IsNull() {
			t.quit = true
			return appendError(out, "ERR Protocol error: expected bulk string arguments")
		}
		args[i] = elem.Str
	}

	keyword := protocol.Normalize(args[0])
	if t.server.trace {
		t.log.Debug("Command", zap.String("keyword", string(keyword)), zap.Int("args", len(args)-1))
	}

	return t.server.dispatch(t, keyword, args, out)
}

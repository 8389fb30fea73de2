package netmux

import (
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rocinan/netmux/poller"
	"github.com/stretchr/testify/require"
)

type ioFailureEvent struct {
	hdl ConnectionHandle
	op  poller.Operation
}

type ackEvent struct {
	written   int
	remaining int
}

// testBroker records every callback on buffered channels so assertions can
// run off the loop goroutine.
type testBroker struct {
	mu        sync.Mutex
	scribes   map[ConnectionHandle]*Scribe
	doormen   map[AcceptHandle]*Doorman
	policy    ReceivePolicy
	ackWrites bool
	onConsume func(s *Scribe, data []byte)
	conns     chan ConnectionHandle
	consumed  chan []byte
	acks      chan ackEvent
	failures  chan ioFailureEvent
}

func newTestBroker(policy ReceivePolicy) *testBroker {
	return &testBroker{
		scribes:  make(map[ConnectionHandle]*Scribe),
		doormen:  make(map[AcceptHandle]*Doorman),
		policy:   policy,
		conns:    make(chan ConnectionHandle, 16),
		consumed: make(chan []byte, 64),
		acks:     make(chan ackEvent, 64),
		failures: make(chan ioFailureEvent, 16),
	}
}

func (b *testBroker) scribe(hdl ConnectionHandle) *Scribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scribes[hdl]
}

func (b *testBroker) AddScribe(s *Scribe) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scribes[s.Hdl()] = s
}

func (b *testBroker) AddDoorman(d *Doorman) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doormen[d.Hdl()] = d
}

func (b *testBroker) Consume(hdl ConnectionHandle, data []byte) {
	cp := append([]byte(nil), data...)
	b.consumed <- cp
	if b.onConsume != nil {
		b.onConsume(b.scribe(hdl), data)
	}
}

func (b *testBroker) DataTransferred(_ ConnectionHandle, written, remaining int) {
	b.acks <- ackEvent{written: written, remaining: remaining}
}

func (b *testBroker) IOFailure(hdl ConnectionHandle, op poller.Operation) {
	b.failures <- ioFailureEvent{hdl: hdl, op: op}
}

func (b *testBroker) NewConnection(_ AcceptHandle, conn ConnectionHandle) {
	s := b.scribe(conn)
	if b.ackWrites {
		s.AckWrites(true)
	}
	s.ConfigureRead(b.policy)
	b.conns <- conn
}

func newTestMux(t *testing.T) *Multiplexer {
	t.Helper()
	mx, err := NewMultiplexer(DefaultConfig())
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		mx.Run()
		close(done)
	}()
	t.Cleanup(func() {
		mx.MakeSupervisor().Close()
		select {
		case <-done:
		case <-time.After(time.Second * 5):
			t.Fatal("loop did not terminate")
		}
		mx.Close()
	})
	return mx
}

func recvTimeout[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for ", what)
		panic("unreachable")
	}
}

// openDoorman runs the factory on the loop goroutine and reports the bound
// port.
func openDoorman(t *testing.T, mx *Multiplexer, b *testBroker) uint16 {
	t.Helper()
	type result struct {
		port uint16
		err  error
	}
	ch := make(chan result, 1)
	mx.Loop().Dispatch(func(*poller.EventLoop) {
		_, port, err := mx.OpenTCPDoorman(b, 0, "127.0.0.1", true)
		ch <- result{port: port, err: err}
	})
	res := recvTimeout(t, ch, "doorman")
	require.NoError(t, res.err)
	require.NotZero(t, res.port)
	return res.port
}

func TestEcho(t *testing.T) {
	mx := newTestMux(t)
	b := newTestBroker(AtMost(1024))
	b.onConsume = func(s *Scribe, _ []byte) {
		s.Write([]byte("pong"))
		s.Flush()
	}
	port := openDoorman(t, mx, b)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	recvTimeout(t, b.conns, "new connection")
	require.Equal(t, []byte("ping"), recvTimeout(t, b.consumed, "consume"))

	reply := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), reply)
}

func TestExactlyPolicyFraming(t *testing.T) {
	mx := newTestMux(t)
	b := newTestBroker(Exactly(8))
	port := openDoorman(t, mx, b)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("abcd"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 150)
	_, err = conn.Write([]byte("efgh"))
	require.NoError(t, err)

	require.Equal(t, []byte("abcdefgh"), recvTimeout(t, b.consumed, "consume"))
	select {
	case data := <-b.consumed:
		t.Fatal("unexpected second delivery: ", data)
	case <-time.After(time.Millisecond * 200):
	}
}

func TestAckWrites(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	mx := newTestMux(t)
	b := newTestBroker(AtMost(1024))
	errCh := make(chan error, 1)
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	mx.Loop().Dispatch(func(*poller.EventLoop) {
		hdl, err := mx.ConnectTCPScribe(b, "127.0.0.1", port)
		if err != nil {
			errCh <- err
			return
		}
		s := b.scribe(hdl)
		s.AckWrites(true)
		s.ConfigureRead(AtMost(1024))
		s.Write(payload)
		s.Flush()
		errCh <- nil
	})
	require.NoError(t, recvTimeout(t, errCh, "scribe"))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	got := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	total := 0
	last := ackEvent{remaining: -1}
	for total < 16 {
		last = recvTimeout(t, b.acks, "ack")
		total += last.written
	}
	require.Equal(t, 16, total)
	require.Equal(t, 0, last.remaining)
}

func TestWriteOrderPreserved(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	mx := newTestMux(t)
	b := newTestBroker(AtMost(1024))
	errCh := make(chan error, 1)
	mx.Loop().Dispatch(func(*poller.EventLoop) {
		hdl, err := mx.ConnectTCPScribe(b, "127.0.0.1", port)
		if err != nil {
			errCh <- err
			return
		}
		s := b.scribe(hdl)
		s.ConfigureRead(AtMost(1024))
		s.Write([]byte("aaaa"))
		s.Write([]byte("bbbb"))
		s.Flush()
		// bytes appended mid-flush drain after the current buffer
		s.Write([]byte("cccc"))
		s.Flush()
		errCh <- nil
	})
	require.NoError(t, recvTimeout(t, errCh, "scribe"))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	got := make([]byte, 12)
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, []byte("aaaabbbbcccc"), got)
}

func TestOrderlyPeerClose(t *testing.T) {
	mx := newTestMux(t)
	b := newTestBroker(AtMost(1024))
	port := openDoorman(t, mx, b)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	recvTimeout(t, b.conns, "new connection")
	require.NoError(t, conn.Close())

	failure := recvTimeout(t, b.failures, "io failure")
	require.Equal(t, poller.OpRead, failure.op)
}

func TestAtLeastPolicyBufferSizing(t *testing.T) {
	loop, err := poller.Create()
	require.NoError(t, err)
	defer loop.Close()
	fd0, _ := tcpPair(t)

	s := NewStream(loop, fd0)
	s.ConfigureRead(AtLeast(1000))
	s.Start(nopManager{})
	require.Equal(t, 1100, len(s.rdBuf))
	require.Equal(t, 1000, s.readThreshold)

	s.ConfigureRead(AtLeast(50))
	s.readLoop()
	require.Equal(t, 150, len(s.rdBuf))
	require.Equal(t, 50, s.readThreshold)

	s.ConfigureRead(Exactly(64))
	s.readLoop()
	require.Equal(t, 64, len(s.rdBuf))
	require.Equal(t, 64, s.readThreshold)

	s.ConfigureRead(AtMost(256))
	s.readLoop()
	require.Equal(t, 256, len(s.rdBuf))
	require.Equal(t, 1, s.readThreshold)
}

func TestWriteBufferSwap(t *testing.T) {
	loop, err := poller.Create()
	require.NoError(t, err)
	defer loop.Close()
	fd0, _ := tcpPair(t)

	s := NewStream(loop, fd0)
	s.Write([]byte("aaaa"))
	s.Write([]byte("bbbb"))
	require.Equal(t, []byte("aaaabbbb"), s.wrOfflineBuf)
	require.False(t, s.writing)

	s.Flush(nopManager{})
	require.True(t, s.writing)
	require.Equal(t, []byte("aaaabbbb"), s.wrBuf)
	require.Empty(t, s.wrOfflineBuf)

	// new writes go offline while the flush drains
	s.Write([]byte("cccc"))
	require.Equal(t, []byte("aaaabbbb"), s.wrBuf)
	require.Equal(t, []byte("cccc"), s.wrOfflineBuf)

	s.HandleEvent(poller.OpWrite)
	require.Equal(t, []byte("cccc"), s.wrBuf)
	require.Empty(t, s.wrOfflineBuf)
	s.HandleEvent(poller.OpWrite)
	require.False(t, s.writing)
}

type nopManager struct{}

func (nopManager) Consume(*poller.EventLoop, []byte)           {}
func (nopManager) DataTransferred(*poller.EventLoop, int, int) {}
func (nopManager) IOFailure(*poller.EventLoop, poller.Operation) {
}

// tcpPair returns the fds of both halves of a loopback TCP connection. The
// fds stay open until the test ends.
func tcpPair(t *testing.T) (int, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)
	clientFile, err := client.(*net.TCPConn).File()
	require.NoError(t, err)
	serverFile, err := server.(*net.TCPConn).File()
	require.NoError(t, err)
	client.Close()
	server.Close()
	t.Cleanup(func() {
		clientFile.Close()
		serverFile.Close()
	})
	return int(clientFile.Fd()), int(serverFile.Fd())
}

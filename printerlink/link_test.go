// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package printerlink

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/printer-power-manager/pkg/errors"
)

// fakePort is a serial port whose output is fed by the test.
type fakePort struct {
	r *io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.r.Close()
}

func (p *fakePort) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type portFactory struct {
	mu      sync.Mutex
	ports   []*fakePort
	printer []*io.PipeWriter
	err     error
}

func (f *portFactory) open(string, int) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, w := io.Pipe()
	p := &fakePort{r: r}
	f.ports = append(f.ports, p)
	f.printer = append(f.printer, w)
	return p, nil
}

func (f *portFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ports)
}

func (f *portFactory) last() (*fakePort, *io.PipeWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[len(f.ports)-1], f.printer[len(f.printer)-1]
}

type mapInterceptor map[string]string

func (m mapInterceptor) Intercept(_ context.Context, line string) string {
	if r, ok := m[line]; ok {
		return r
	}
	return line
}

func startLink(t *testing.T, f *portFactory) *Link {
	t.Helper()
	l := newLink(Config{Port: "/dev/ttyFAKE", ListenAddr: "127.0.0.1:0"}, f.open)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func dial(t *testing.T, l *Link) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestLinesPassThroughInterceptor(t *testing.T) {
	f := &portFactory{}
	l := startLink(t, f)
	l.SetInterceptor(mapInterceptor{"M81": "G4 S0"})
	l.MarkOperational()
	port, _ := f.last()

	conn, _ := dial(t, l)
	_, err := io.WriteString(conn, "G28\r\nM81\n\nM105\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return port.sent() == "G28\nG4 S0\nM105\n"
	}, 2*time.Second, 5*time.Millisecond, "got %q", port.sent())
}

func TestPrinterOutputReachesClients(t *testing.T) {
	f := &portFactory{}
	l := startLink(t, f)
	l.MarkOperational()
	_, printer := f.last()

	a, ra := dial(t, l)
	b, rb := dial(t, l)
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.clients) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err := io.WriteString(printer, "ok T:21.0 /0.0\r\n")
	require.NoError(t, err)

	assert.Equal(t, "ok T:21.0 /0.0\n", readLine(t, a, ra))
	assert.Equal(t, "ok T:21.0 /0.0\n", readLine(t, b, rb))
}

func TestOfflineReply(t *testing.T) {
	f := &portFactory{}
	l := startLink(t, f)

	conn, r := dial(t, l)
	_, err := io.WriteString(conn, "G28\n")
	require.NoError(t, err)

	assert.Equal(t, OfflineReply+"\n", readLine(t, conn, r))
}

func TestResetAndReopen(t *testing.T) {
	f := &portFactory{}
	l := newLink(Config{Port: "/dev/ttyFAKE"}, f.open)
	defer l.Close()

	l.MarkOperational()
	l.MarkOperational()
	assert.Equal(t, 1, f.count(), "already open")
	assert.True(t, l.Connected())

	first, _ := f.last()
	l.ResetConnection()
	assert.False(t, l.Connected())
	assert.True(t, first.isClosed())
	l.ResetConnection()

	l.MarkOperational()
	assert.Equal(t, 2, f.count())
	assert.True(t, l.Connected())
}

func TestPrinterDisconnectClearsPort(t *testing.T) {
	f := &portFactory{}
	l := newLink(Config{Port: "/dev/ttyFAKE"}, f.open)
	defer l.Close()

	l.MarkOperational()
	_, printer := f.last()
	require.NoError(t, printer.Close())

	require.Eventually(t, func() bool { return !l.Connected() }, 2*time.Second, 5*time.Millisecond)
}

func TestMarkOperationalWithoutPort(t *testing.T) {
	f := &portFactory{}
	l := newLink(Config{}, f.open)
	defer l.Close()

	l.MarkOperational()
	assert.Zero(t, f.count())
	assert.False(t, l.Connected())
}

func TestOpenFailure(t *testing.T) {
	f := &portFactory{err: stderrors.New("no such device")}
	l := newLink(Config{Port: "/dev/ttyMISSING"}, f.open)
	defer l.Close()

	l.MarkOperational()
	assert.False(t, l.Connected())
}

func TestStartWithoutListener(t *testing.T) {
	l := newLink(Config{}, (&portFactory{}).open)
	defer l.Close()

	require.NoError(t, l.Start(context.Background()))
	assert.Nil(t, l.Addr())
}

func TestCloseDisconnectsEverything(t *testing.T) {
	f := &portFactory{}
	l := newLink(Config{Port: "/dev/ttyFAKE", ListenAddr: "127.0.0.1:0"}, f.open)
	require.NoError(t, l.Start(context.Background()))
	l.MarkOperational()
	port, _ := f.last()

	conn, r := dial(t, l)
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.True(t, port.isClosed())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := r.ReadString('\n')
	assert.Error(t, err)

	assert.ErrorIs(t, l.Start(context.Background()), errors.ErrConnectionClosed)
}

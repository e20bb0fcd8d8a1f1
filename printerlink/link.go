// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package printerlink owns the printer's serial connection and proxies G-code
// to it from TCP clients. Every outgoing line passes through an interceptor so
// power G-codes can be handled before they reach the printer.
package printerlink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

const (
	// DefaultBaudRate is used when Config.BaudRate is zero.
	DefaultBaudRate = 115200

	// OfflineReply is sent to clients when a line cannot reach the printer.
	OfflineReply = "// printer offline"

	maxLineLength = 1024
	clientBuffer  = 64
)

// Interceptor rewrites a G-code line before it is sent to the printer.
type Interceptor interface {
	Intercept(ctx context.Context, line string) string
}

// Config describes the serial port and the G-code listener.
type Config struct {
	Port       string
	BaudRate   int
	ListenAddr string
}

type opener func(name string, baud int) (io.ReadWriteCloser, error)

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return port, nil
}

type client struct {
	conn net.Conn
	send chan string
}

// Link is the printer connection. It implements interfaces.PrinterComm:
// ResetConnection closes the serial port, MarkOperational reopens it.
type Link struct {
	cfg  Config
	open opener
	log  zerolog.Logger

	mu          sync.Mutex
	interceptor Interceptor
	port        io.ReadWriteCloser
	generation  int
	clients     map[*client]struct{}
	listener    net.Listener
	closed      bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a Link. Nothing is opened until Start or MarkOperational.
func New(cfg Config) *Link {
	return newLink(cfg, openSerial)
}

func newLink(cfg Config, open opener) *Link {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	return &Link{
		cfg:     cfg,
		open:    open,
		clients: make(map[*client]struct{}),
		log:     logger.Component("printerlink"),
	}
}

// SetInterceptor sets the interceptor applied to every client line.
func (l *Link) SetInterceptor(i Interceptor) {
	l.mu.Lock()
	l.interceptor = i
	l.mu.Unlock()
}

// Start opens the G-code listener. It returns once the listener is bound.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.ListenAddr == "" {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.cfg.ListenAddr)
	if err != nil {
		return errors.NewNetworkError("listen", l.cfg.ListenAddr, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = ln.Close()
		return errors.ErrConnectionClosed
	}
	l.listener = ln
	l.mu.Unlock()

	l.log.Info().Str("addr", ln.Addr().String()).Str("serial", l.cfg.Port).Msg("G-code listener started")

	l.wg.Add(1)
	go l.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (l *Link) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Link) acceptLoop(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.log.Error().Err(err).Msg("Accept failed")
			}
			return
		}

		c := &client{conn: conn, send: make(chan string, clientBuffer)}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.clients[c] = struct{}{}
		l.mu.Unlock()

		l.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("G-code client connected")
		l.wg.Add(2)
		go l.writeClient(c)
		go l.readClient(ctx, c)
	}
}

// readClient forwards lines from a client to the printer.
func (l *Link) readClient(ctx context.Context, c *client) {
	defer l.wg.Done()
	defer l.dropClient(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, maxLineLength), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		l.mu.Lock()
		interceptor := l.interceptor
		l.mu.Unlock()
		if interceptor != nil {
			line = interceptor.Intercept(ctx, line)
		}

		if err := l.writeLine(line); err != nil {
			l.log.Debug().Err(err).Str("line", line).Msg("Line not sent")
			select {
			case c.send <- OfflineReply:
			default:
			}
		}
	}
}

func (l *Link) writeClient(c *client) {
	defer l.wg.Done()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.WriteString(c.conn, msg+"\n"); err != nil {
			_ = c.conn.Close()
			// Drain until dropClient closes the channel.
			for range c.send {
			}
			return
		}
	}
}

func (l *Link) dropClient(c *client) {
	l.mu.Lock()
	if _, ok := l.clients[c]; ok {
		delete(l.clients, c)
		close(c.send)
	}
	l.mu.Unlock()
	_ = c.conn.Close()
	l.log.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("G-code client disconnected")
}

func (l *Link) writeLine(line string) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return errors.ErrConnectionClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := io.WriteString(port, line+"\n")
	return err
}

// broadcast sends printer output to every client, dropping it for clients
// that are not keeping up.
func (l *Link) broadcast(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.clients {
		select {
		case c.send <- line:
		default:
		}
	}
}

// MarkOperational opens the serial port if it is not already open.
func (l *Link) MarkOperational() {
	if l.cfg.Port == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.port != nil {
		return
	}

	port, err := l.open(l.cfg.Port, l.cfg.BaudRate)
	if err != nil {
		l.log.Error().Err(err).Str("port", l.cfg.Port).Msg("Failed to open printer connection")
		return
	}
	l.port = port
	l.generation++
	gen := l.generation

	l.log.Info().Str("port", l.cfg.Port).Int("baud", l.cfg.BaudRate).Msg("Printer connection opened")
	l.wg.Add(1)
	go l.readPrinter(port, gen)
}

// readPrinter copies printer output to clients until the port is closed.
func (l *Link) readPrinter(port io.Reader, gen int) {
	defer l.wg.Done()

	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, maxLineLength), maxLineLength)
	for scanner.Scan() {
		l.broadcast(strings.TrimRight(scanner.Text(), "\r"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// A newer connection may already be open.
	if l.generation == gen && l.port != nil {
		_ = l.port.Close()
		l.port = nil
		l.log.Warn().Err(scanner.Err()).Msg("Printer connection lost")
	}
}

// ResetConnection closes the serial port.
func (l *Link) ResetConnection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return
	}
	_ = l.port.Close()
	l.port = nil
	l.generation++
	l.log.Info().Msg("Printer connection closed")
}

// Connected reports whether the serial port is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Close stops the listener, disconnects clients and closes the port.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.listener != nil {
		_ = l.listener.Close()
	}
	for c := range l.clients {
		_ = c.conn.Close()
	}
	if l.port != nil {
		_ = l.port.Close()
		l.port = nil
		l.generation++
	}
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}

var _ interfaces.PrinterComm = (*Link)(nil)

// Package transport runs the duplex websocket session behind a live tutor.
//
// A Conn owns exactly one socket. Inbound frames are decoded once at the
// boundary and handed to callbacks on the read goroutine, in arrival order.
// Outbound media is queued and written by a single writer goroutine, so frames
// leave in the order SendMedia accepted them.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/live/protocol"
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("live transport closed")
	// ErrBackpressure is returned when the outbound queue is full. The frame is dropped.
	ErrBackpressure = errors.New("live transport send queue full")
)

const (
	defaultQueueSize        = 64
	defaultHandshakeTimeout = 10 * time.Second
	defaultCloseGrace       = time.Second
)

// Callbacks receive connection lifecycle events. At most one of OnClose and
// OnError fires, and neither fires after a local Close.
type Callbacks struct {
	OnOpen    func()
	OnMessage func([]protocol.Event)
	OnClose   func(code int, reason string)
	OnError   func(error)
}

type Config struct {
	URL    string
	Header http.Header
	Setup  protocol.ClientSetup

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// CloseGrace bounds how long Close waits for the peer's close reply
	// before dropping the socket.
	CloseGrace time.Duration
	QueueSize  int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	cb     Callbacks
	logger *slog.Logger

	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	opened    atomic.Bool
	closing   atomic.Bool
	terminal  sync.Once
	closeOnce sync.Once

	readDone chan struct{}
	done     chan struct{}
}

// Dial performs the websocket handshake and sends the setup message. OnOpen
// fires once the server confirms setup. A rejected handshake is returned as a
// credential error for HTTP 400, 401 and 403 and as a transport error otherwise.
func Dial(ctx context.Context, cfg Config, cb Callbacks) (*Conn, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("live url is required", "url")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = cfg.HandshakeTimeout
		if d.HandshakeTimeout <= 0 {
			d.HandshakeTimeout = defaultHandshakeTimeout
		}
		dialer = &d
	}

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, classifyDialError(ctx, resp, err)
	}

	setup, err := json.Marshal(cfg.Setup)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("marshal live setup: %w", err)
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, setup); err != nil {
		_ = ws.Close()
		return nil, core.NewTransportError("send live setup", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		cfg:      cfg,
		cb:       cb,
		logger:   logger,
		queue:    make(chan []byte, cfg.QueueSize),
		ctx:      connCtx,
		cancel:   cancel,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()
	return c, nil
}

// SendMedia queues one realtime media blob.
func (c *Conn) SendMedia(blob audio.Blob) error {
	if c == nil || c.closing.Load() {
		return ErrClosed
	}
	payload, err := json.Marshal(protocol.NewMediaInput(blob))
	if err != nil {
		return fmt.Errorf("marshal realtime input: %w", err)
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.queue <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close requests a graceful close and returns without waiting for it.
// It is safe to call more than once and from callbacks.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		go func() {
			timer := time.NewTimer(c.cfg.CloseGrace)
			defer timer.Stop()
			select {
			case <-c.readDone:
			case <-timer.C:
			}
			_ = c.ws.Close()
		}()
	})
}

// Done is closed once both socket goroutines have exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer c.shutdown()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		events, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.fail(core.NewTransportError("undecodable live frame", err))
			return
		}
		if c.closing.Load() {
			return
		}

		rest := events[:0]
		for _, ev := range events {
			if _, ok := ev.(protocol.SetupComplete); ok {
				if c.opened.CompareAndSwap(false, true) && c.cb.OnOpen != nil {
					c.cb.OnOpen()
				}
				continue
			}
			rest = append(rest, ev)
		}
		if len(rest) > 0 && c.cb.OnMessage != nil {
			c.cb.OnMessage(rest)
		}
	}
}

func (c *Conn) writeLoop() {
	w := outboundWriter{ws: c.ws, ctx: c.ctx, cfg: c.cfg, queue: c.queue}
	if err := w.Run(); err != nil && !c.closing.Load() {
		c.fail(core.NewTransportError("live write failed", err))
		_ = c.ws.Close()
	}
}

func (c *Conn) handleReadError(err error) {
	if c.closing.Load() {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		reason := strings.TrimSpace(closeErr.Text)
		if core.LooksLikeCredentialFailure(reason) || (!c.opened.Load() && closeErr.Code == websocket.ClosePolicyViolation) {
			c.fail(core.NewCredentialError(closeReason(closeErr.Code, reason), err))
			return
		}
		c.logger.Debug("live transport closed by peer", "code", closeErr.Code, "reason", reason)
		c.terminal.Do(func() {
			if c.cb.OnClose != nil {
				c.cb.OnClose(closeErr.Code, reason)
			}
		})
		return
	}
	c.fail(core.NewTransportError("live connection lost", err))
}

func (c *Conn) fail(err error) {
	if c.closing.Load() {
		return
	}
	c.terminal.Do(func() {
		c.logger.Warn("live transport failed", "error", err)
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
	})
}

// shutdown stops the writer once the reader is gone.
func (c *Conn) shutdown() {
	c.cancel()
	if !c.closing.Load() {
		go func() {
			timer := time.NewTimer(c.cfg.CloseGrace)
			defer timer.Stop()
			select {
			case <-c.done:
			case <-timer.C:
			}
			_ = c.ws.Close()
		}()
	}
}

func closeReason(code int, reason string) string {
	if reason == "" {
		return fmt.Sprintf("live session closed (code %d)", code)
	}
	return fmt.Sprintf("live session closed (code %d): %s", code, reason)
}

func classifyDialError(ctx context.Context, resp *http.Response, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return core.NewTimeoutError("live connect timed out")
	}
	if resp == nil {
		return core.NewTransportError("live dial failed", err)
	}
	var body string
	if resp.Body != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		body = strings.TrimSpace(string(raw))
	}
	msg := fmt.Sprintf("live handshake rejected (status %d)", resp.StatusCode)
	if body != "" {
		msg += ": " + body
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return core.NewCredentialError(msg, err)
	}
	if core.LooksLikeCredentialFailure(body) {
		return core.NewCredentialError(msg, err)
	}
	return core.NewTransportError(msg, err)
}

package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	drepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
)

// PingPayload is the application-level heartbeat sent as a text frame.
const PingPayload = "ping"

// FrameHandler receives every inbound data frame.
type FrameHandler func(ctx context.Context, frame []byte)

// StatusObserver is notified on every connection status transition.
type StatusObserver func(models.ConnectionState)

// Client keeps a websocket to the dashboard stream open. On any error or
// close it waits a fixed delay and dials again, until its context ends.
type Client struct {
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	pingInterval   time.Duration
	reconnectDelay time.Duration
	liveness       time.Duration
	handler        FrameHandler
	log            *logger.Logger
	metrics        drepo.Metrics
	now            func() time.Time

	mu        sync.RWMutex
	state     models.ConnectionState
	observers []StatusObserver

	writeMu sync.Mutex
}

type Option func(*Client)

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithLivenessWindow sets how long the connection may stay silent before it
// is considered dead.
func WithLivenessWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.liveness = d
		}
	}
}

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

func WithMetrics(m drepo.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithObserver(fn StatusObserver) Option {
	return func(c *Client) { c.observers = append(c.observers, fn) }
}

// New creates a stream client. handler must not be nil.
func New(url string, handler FrameHandler, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		pingInterval:   30 * time.Second,
		reconnectDelay: 3 * time.Second,
		handler:        handler,
		log:            log.With(logger.String("component", "stream")),
		metrics:        metrics.Nop{},
		now:            time.Now,
		state:          models.ConnectionState{Status: models.StatusClosed},
	}
	for _, o := range opts {
		o(c)
	}
	if c.liveness <= 0 {
		c.liveness = 2*c.pingInterval + 15*time.Second
	}
	return c
}

// OnStatus registers an observer. Safe to call while running.
func (c *Client) OnStatus(fn StatusObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// State returns a copy of the current connection state.
func (c *Client) State() models.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run connects and keeps reconnecting until ctx is cancelled. It only
// returns on cancellation.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		c.setStatus(models.StatusClosed, "")
		if ctx.Err() != nil {
			c.log.Info("stream stopped")
			return nil
		}
		c.log.Warn("stream disconnected, reconnecting",
			logger.Error(err),
			logger.Duration("delay", c.reconnectDelay),
		)
		c.metrics.RecordReconnect()

		t := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.log.Info("stream stopped")
			return nil
		case <-t.C:
		}
		c.mu.Lock()
		c.state.Reconnects++
		c.mu.Unlock()
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	session := uuid.NewString()
	c.setStatus(models.StatusConnecting, session)
	log := c.log.With(logger.String("session", session))

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream dial: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("stream dial: %w", err)
	}

	defer func() { _ = conn.Close() }()

	c.touch()
	_ = conn.SetReadDeadline(c.now().Add(c.liveness))
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(c.now().Add(c.liveness))
	})
	c.setStatus(models.StatusOpen, session)
	log.Info("stream connected", logger.String("url", c.url))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		if ctx.Err() != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		_ = conn.Close()
	}()
	go c.pingLoop(connCtx, conn, log)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		c.touch()
		_ = conn.SetReadDeadline(c.now().Add(c.liveness))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.handler(ctx, data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, log *logger.Logger) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, websocket.TextMessage, []byte(PingPayload)); err != nil {
				log.Warn("stream ping failed", logger.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, msgType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(c.now().Add(10 * time.Second))
	return conn.WriteMessage(msgType, payload)
}

func (c *Client) touch() {
	c.mu.Lock()
	c.state.LastHeartbeatAt = c.now()
	c.mu.Unlock()
}

func (c *Client) setStatus(status models.ConnectionStatus, session string) {
	c.mu.Lock()
	if c.state.Status == status && (session == "" || c.state.SessionID == session) {
		c.mu.Unlock()
		return
	}
	c.state.Status = status
	if session != "" {
		c.state.SessionID = session
	}
	snap := c.state
	observers := append([]StatusObserver(nil), c.observers...)
	c.mu.Unlock()

	c.metrics.RecordConnectionStatus(string(status))
	for _, fn := range observers {
		fn(snap)
	}
}

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultReconnectInterval is the fixed backoff between connection attempts.
const DefaultReconnectInterval = 5 * time.Second

var ErrNotConnected = errors.New("transport: not connected")

type ClientConfig struct {
	URL               string
	ReconnectInterval time.Duration
	Logger            *zap.Logger

	// OnConnect runs right after every successful dial, before any inbound
	// command is read. The side that owns state pushes its snapshot here.
	OnConnect func(ctx context.Context, c *Client) error
	// OnCommand receives each decoded inbound command.
	OnCommand func(ctx context.Context, cmd Outbound)
	// OnDisconnect runs after the connection is lost.
	OnDisconnect func(err error)

	// StopOnDisplace ends Run when the server closes with CloseReplaced.
	StopOnDisplace bool
}

// Client dials the companion and keeps reconnecting at a fixed interval,
// forever, until its context ends.
type Client struct {
	cfg    ClientConfig
	log    *zap.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	wmu  sync.Mutex
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		log: log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Send writes v if the connection is open and drops it otherwise.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.log.Debug("send dropped: not connected")
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and serves until ctx is cancelled (or until displaced, with
// StopOnDisplace). Connection failures are never fatal.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.StopOnDisplace && websocket.IsCloseError(err, CloseReplaced) {
			c.log.Info("displaced by newer peer; not reconnecting")
			return err
		}
		c.log.Info("reconnecting", zap.Duration("in", c.cfg.ReconnectInterval), zap.Error(err))

		t := time.NewTimer(c.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.log.Info("connected", zap.String("url", c.cfg.URL))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if c.cfg.OnConnect != nil {
		if err := c.cfg.OnConnect(ctx, c); err != nil {
			c.log.Warn("on-connect failed", zap.Error(err))
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.cfg.OnDisconnect != nil {
				c.cfg.OnDisconnect(err)
			}
			return err
		}
		cmd, err := ParseOutbound(data)
		if err != nil {
			c.log.Warn("ignoring command", zap.Error(err))
			continue
		}
		if c.cfg.OnCommand != nil {
			c.cfg.OnCommand(ctx, cmd)
		}
	}
}

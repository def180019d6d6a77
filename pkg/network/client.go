package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

const maxRetryBackoff = 30 * time.Second

// Client is an outbound connection to one peer endpoint
type Client struct {
	endpoint string
	address  string
	cfg      Config
	log      logging.Sink
	metrics  *Metrics

	mu     sync.Mutex
	conn   *Connection
	closed bool
}

// Dial connects to endpoint, given as "a.b.c.d", "a.b.c.d:port" or a
// /ip4/.../tcp/... multiaddr. A missing port uses cfg.Port.
func Dial(ctx context.Context, endpoint string, cfg Config, log logging.Sink, metrics *Metrics) (*Client, error) {
	address, err := ResolveAddress(endpoint, cfg.Port)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}

	c := &Client{
		endpoint: endpoint,
		address:  address,
		cfg:      cfg,
		log:      log,
		metrics:  orNewMetrics(metrics),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	logging.Debugf(c.log, "connected to %s", address)
	return c, nil
}

// ResolveAddress turns an endpoint into a host:port dial address
func ResolveAddress(endpoint string, defaultPort int) (string, error) {
	endpoint = strings.TrimSpace(endpoint)

	if strings.HasPrefix(endpoint, "/") {
		maddr, err := multiaddr.NewMultiaddr(endpoint)
		if err != nil {
			return "", fmt.Errorf("%w: %v", peers.ErrInvalidEndpoint, err)
		}
		ip, err := maddr.ValueForProtocol(multiaddr.P_IP4)
		if err != nil {
			return "", fmt.Errorf("%w: %q has no ip4 component", peers.ErrInvalidEndpoint, endpoint)
		}
		port := strconv.Itoa(defaultPort)
		if p, err := maddr.ValueForProtocol(multiaddr.P_TCP); err == nil {
			port = p
		}
		return net.JoinHostPort(ip, port), nil
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		host, port = endpoint, strconv.Itoa(defaultPort)
	}
	ip, err := peers.ParseEndpoint(host)
	if err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: bad port %q", peers.ErrInvalidEndpoint, port)
	}
	return net.JoinHostPort(ip, port), nil
}

func (c *Client) dial(ctx context.Context) (*Connection, error) {
	dialer := net.Dialer{
		Timeout:         c.cfg.ConnectTimeout,
		KeepAliveConfig: c.cfg.KeepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, c.address, err)
	}
	return newConnection(conn, c.cfg.ReceiveBufferSize), nil
}

// Endpoint returns the endpoint the client was dialed with
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Address returns the resolved host:port
func (c *Client) Address() string {
	return c.address
}

// SendFrame writes a frame. Connection errors reconnect and retry up to
// SendRetries times with exponential backoff.
func (c *Client) SendFrame(ctx context.Context, frame []byte) error {
	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= c.cfg.SendRetries; attempt++ {
		if attempt > 0 {
			c.metrics.SendRetries.Inc()
			c.log.LogWarning(fmt.Sprintf("send to %s failed, retrying in %v", c.address, backoff), err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}

		var conn *Connection
		conn, err = c.connection(ctx)
		if err == nil {
			err = conn.Send(ctx, frame, c.cfg.WriteTimeout)
			if err == nil {
				c.metrics.FramesSent.Inc()
				return nil
			}
			conn.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// Send builds a frame from packets and sends it
func (c *Client) Send(ctx context.Context, packets ...protocol.Packet) error {
	frame, err := protocol.BuildFrame(packets...)
	if err != nil {
		return err
	}
	return c.SendFrame(ctx, frame)
}

// ReceivePacket reads the next frame and decodes its packets. A read
// timeout surfaces as ErrConnectionFailed.
func (c *Client) ReceivePacket(ctx context.Context) ([]protocol.Packet, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.Closed() {
		return nil, ErrConnectionClosed
	}

	buffers, err := conn.Receive(ctx, c.cfg.MaxFrameSize, c.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFrame(buffers)
}

// Close closes the underlying connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Closed reports whether the client currently has no open connection
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == nil || c.conn.Closed()
}

// connection returns the live connection, redialing when it was closed
func (c *Client) connection(ctx context.Context) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil && !c.conn.Closed() {
		return c.conn, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	logging.Debugf(c.log, "reconnected to %s", c.address)
	return conn, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrConnectionClosed)
}

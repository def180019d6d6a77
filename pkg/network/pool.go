package network

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/ZentaChain/zentalk-peer/pkg/logging"
)

// DefaultPoolSize is the number of clients kept open when no size is given
const DefaultPoolSize = 32

// Pool keeps clients open per endpoint address. The least recently used
// client is closed once more than size are open.
type Pool struct {
	cfg     Config
	log     logging.Sink
	metrics *Metrics

	mu      sync.Mutex
	clients *lru.Cache[string, *Client]
	closed  bool
}

// NewPool creates a pool of at most size clients
func NewPool(cfg Config, size int, log logging.Sink, metrics *Metrics) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if log == nil {
		log = logging.Discard()
	}

	p := &Pool{cfg: cfg, log: log, metrics: orNewMetrics(metrics)}
	clients, err := lru.NewWithEvict(size, func(address string, c *Client) {
		logging.Debugf(p.log, "closing pooled client %s", address)
		c.Close()
	})
	if err != nil {
		return nil, err
	}
	p.clients = clients
	return p, nil
}

// Get returns an open client for endpoint, dialing when none is cached
func (p *Pool) Get(ctx context.Context, endpoint string) (*Client, error) {
	address, err := ResolveAddress(endpoint, p.cfg.Port)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if c, ok := p.clients.Get(address); ok && !c.Closed() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := Dial(ctx, endpoint, p.cfg, p.log, p.metrics)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		c.Close()
		return nil, ErrPoolClosed
	}
	if existing, ok := p.clients.Get(address); ok && !existing.Closed() {
		c.Close()
		return existing, nil
	}
	p.clients.Add(address, c)
	return c, nil
}

// Remove closes and forgets the client for endpoint
func (p *Pool) Remove(endpoint string) {
	address, err := ResolveAddress(endpoint, p.cfg.Port)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients.Remove(address)
}

// Len returns the number of pooled clients
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients.Len()
}

// Close closes every pooled client. Closing twice returns ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true

	var errs error
	for _, address := range p.clients.Keys() {
		if c, ok := p.clients.Peek(address); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	p.clients.Purge()
	return errs
}

// Package node ties the trust store, packet handling and connection layer
// into a running peer.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/ZentaChain/zentalk-peer/pkg/handler"
	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/network"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrClosed         = errors.New("node closed")
)

// Observer receives authenticated events. Nil fields are skipped.
type Observer struct {
	OnPing      func(endpoint string)
	OnMessage   func(from peers.RemotePeer, text string)
	OnSignature func(from peers.RemotePeer)
	OnDiscovery func(from peers.RemotePeer, endpoints, publicKeys []string)
	OnRejected  func(err error)
}

// Options configures a Node
type Options struct {
	// Config overrides the connection settings derived from the store's
	// preferences when non-nil
	Config *network.Config

	Log        logging.Sink
	Registerer prometheus.Registerer
	Observer   Observer
	PoolSize   int
}

// Node is a running peer
type Node struct {
	store    *peers.Store
	svc      *handler.Service
	cfg      network.Config
	log      logging.Sink
	metrics  *network.Metrics
	observer Observer

	dedup      *lru.Cache[string, struct{}]
	server     *network.Server
	discoverer *network.Discoverer
	pool       *network.Pool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// New creates a node over store
func New(store *peers.Store, opts Options) (*Node, error) {
	prefs := store.Preferences()

	cfg := network.ConfigFromPreferences(prefs)
	if opts.Config != nil {
		cfg = *opts.Config
	}

	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	dedup, err := lru.New[string, struct{}](prefs.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}

	n := &Node{
		store:    store,
		svc:      handler.NewService(nil, log),
		cfg:      cfg,
		log:      log,
		metrics:  network.NewMetrics(opts.Registerer),
		observer: opts.Observer,
		dedup:    dedup,
	}

	n.server = network.NewServer(cfg, n, log, n.metrics)
	n.discoverer = network.NewDiscoverer(store, n.svc, cfg, log, n.metrics, nil)

	n.pool, err = network.NewPool(cfg, opts.PoolSize, log, n.metrics)
	if err != nil {
		return nil, err
	}

	return n, nil
}

// Store returns the trust store
func (n *Node) Store() *peers.Store {
	return n.store
}

// Config returns the connection settings in use
func (n *Node) Config() network.Config {
	return n.cfg
}

// Metrics returns the node's collectors
func (n *Node) Metrics() *network.Metrics {
	return n.metrics
}

// Addr returns the listening address, or nil when not listening
func (n *Node) Addr() net.Addr {
	return n.server.Addr()
}

// State returns the server state
func (n *Node) State() network.ServerState {
	return n.server.State()
}

// Start starts listening and the discovery loop
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := n.server.Start(runCtx); err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.discoverer.Run(runCtx)
	}()

	n.cancel = cancel
	n.done = done
	n.started = true

	n.log.LogInformation(fmt.Sprintf("peer listening on %s", n.server.Addr()))
	return nil
}

// Close stops the server and the discovery loop and closes pooled clients
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs error
	if n.started {
		n.cancel()
		<-n.done
		if err := n.server.Stop(); err != nil && !errors.Is(err, network.ErrInvalidOperation) {
			errs = multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, n.server.Wait())
		n.started = false
	}

	n.closed = true
	if err := n.pool.Close(); err != nil && !errors.Is(err, network.ErrPoolClosed) {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Discover runs one discovery round now
func (n *Node) Discover(ctx context.Context) network.RoundResult {
	return n.discoverer.RunOnce(ctx)
}

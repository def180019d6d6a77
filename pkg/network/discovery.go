package network

import (
	"context"
	"fmt"
	"time"

	"github.com/ZentaChain/zentalk-peer/pkg/handler"
	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// DialFunc opens a client to an endpoint
type DialFunc func(ctx context.Context, endpoint string) (*Client, error)

// RoundResult summarises one discovery round
type RoundResult struct {
	Endpoints int `json:"endpoints"`
	Reached   int `json:"reached"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Discoverer periodically announces known endpoints and public keys to
// every endpoint, once per peer we hold a sending token for.
type Discoverer struct {
	store   *peers.Store
	svc     *handler.Service
	cfg     Config
	log     logging.Sink
	metrics *Metrics
	dial    DialFunc
}

// NewDiscoverer creates a discoverer. A nil dial opens short-lived clients
// with Dial.
func NewDiscoverer(store *peers.Store, svc *handler.Service, cfg Config, log logging.Sink, metrics *Metrics, dial DialFunc) *Discoverer {
	if log == nil {
		log = logging.Discard()
	}
	d := &Discoverer{
		store:   store,
		svc:     svc,
		cfg:     cfg,
		log:     log,
		metrics: orNewMetrics(metrics),
		dial:    dial,
	}
	if d.dial == nil {
		d.dial = func(ctx context.Context, endpoint string) (*Client, error) {
			return Dial(ctx, endpoint, d.cfg, d.log, d.metrics)
		}
	}
	return d
}

// Run runs rounds every DiscoveryInterval until ctx is done
func (d *Discoverer) Run(ctx context.Context) error {
	if d.cfg.DiscoverOnStartup {
		d.RunOnce(ctx)
	}

	interval := d.cfg.DiscoveryInterval
	if interval <= 0 {
		interval = peers.DefaultPreferences().DiscoveryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single round. Failures are logged and counted; they never
// end the round early. Only cancellation does.
func (d *Discoverer) RunOnce(ctx context.Context) RoundResult {
	d.metrics.DiscoveryRounds.Inc()

	endpoints := d.store.EndpointAddresses()
	result := RoundResult{Endpoints: len(endpoints)}

	var targets []string
	for _, p := range d.store.Peers() {
		if p.SendingToken != "" {
			targets = append(targets, p.PublicKey)
		}
	}

	logging.Debugf(d.log, "discovery round: %d endpoints, %d peers", len(endpoints), len(targets))

	for _, endpoint := range endpoints {
		if ctx.Err() != nil {
			return result
		}

		client, err := d.dial(ctx, endpoint)
		if err != nil {
			result.Failed++
			d.markEndpoint(endpoint, false)
			d.log.LogWarning(fmt.Sprintf("discovery: cannot reach %s", endpoint), err)
			continue
		}
		result.Reached++
		d.markEndpoint(endpoint, true)

		session := NewSession(client, d.store, d.svc)
		for _, pub := range targets {
			if ctx.Err() != nil {
				client.Close()
				return result
			}
			if err := session.SendDiscovery(ctx, pub); err != nil {
				result.Failed++
				d.log.LogWarning(fmt.Sprintf("discovery: send to %s failed", endpoint), err)
				continue
			}
			result.Sent++
			d.metrics.DiscoverySent.Inc()
		}

		client.Close()
	}

	return result
}

func (d *Discoverer) markEndpoint(endpoint string, connected bool) {
	if err := d.store.SetEndpointConnected(endpoint, connected); err != nil {
		logging.Debugf(d.log, "discovery: %s: %v", endpoint, err)
	}
}

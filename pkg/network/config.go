package network

import (
	"net"
	"strconv"
	"time"

	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// Config holds connection layer settings
type Config struct {
	// Host to listen on; empty listens on all interfaces
	Host string
	Port int

	MaxFrameSize      uint32
	ReceiveBufferSize int

	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	IdleSweepInterval time.Duration

	KeepAlive net.KeepAliveConfig

	// FramesPerSecond limits frames read per connection; 0 is unlimited
	FramesPerSecond float64

	SendRetries  int
	RetryBackoff time.Duration

	DiscoveryInterval time.Duration
	DiscoverOnStartup bool

	// NATTraversal is carried for configuration compatibility only
	NATTraversal bool
}

// DefaultConfig returns settings derived from default preferences
func DefaultConfig() Config {
	return ConfigFromPreferences(peers.DefaultPreferences())
}

// ConfigFromPreferences maps persisted preferences onto a Config
func ConfigFromPreferences(p peers.Preferences) Config {
	return Config{
		Port:              p.Port,
		MaxFrameSize:      p.MaxFrameSize,
		ReceiveBufferSize: p.ReceiveBufferSize,
		ConnectTimeout:    p.ConnectTimeout,
		ReadTimeout:       p.ReadTimeout,
		WriteTimeout:      p.WriteTimeout,
		IdleTimeout:       p.IdleTimeout,
		IdleSweepInterval: p.IdleSweepInterval,
		KeepAlive: net.KeepAliveConfig{
			Enable:   true,
			Idle:     p.KeepAliveIdle,
			Interval: p.KeepAliveInterval,
			Count:    p.KeepAliveCount,
		},
		FramesPerSecond:   p.FramesPerSecond,
		SendRetries:       p.SendRetries,
		RetryBackoff:      200 * time.Millisecond,
		DiscoveryInterval: p.DiscoveryInterval,
		DiscoverOnStartup: p.DiscoverOnStartup,
		NATTraversal:      p.NATTraversal,
	}
}

// ListenAddr returns host:port for the listener
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

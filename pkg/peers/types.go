package peers

import (
	"errors"
	"fmt"
	"time"

	"github.com/multiformats/go-multiaddr"
)

var (
	ErrPeerNotFound        = errors.New("peer not found")
	ErrAmbiguousLookup     = errors.New("lookup matches more than one peer")
	ErrInvalidPublicKey    = errors.New("invalid public key")
	ErrInvalidAlias        = errors.New("invalid alias")
	ErrSelfPeer            = errors.New("public key is the local key")
	ErrInvalidToken        = errors.New("trust token is empty")
	ErrNoSendingToken      = errors.New("no sending token for peer")
	ErrInvalidEndpoint     = errors.New("invalid endpoint")
	ErrEndpointNotFound    = errors.New("endpoint not found")
	ErrIncompatibleVersion = errors.New("incompatible snapshot version")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
)

// RemotePeer is everything known about one remote identity
type RemotePeer struct {
	ID        int    `json:"id"`
	PublicKey string `json:"public_key"`
	Alias     string `json:"alias,omitempty"`

	// ReceivingToken is the token this peer presents when it sends to us.
	// We minted it.
	ReceivingToken string `json:"receiving_token,omitempty"`

	// SendingToken is the token we present when sending to this peer.
	// The peer minted it.
	SendingToken string `json:"sending_token,omitempty"`

	AddedAt  time.Time `json:"added_at"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// DisplayName returns the alias, or the numeric id when no alias is set
func (p RemotePeer) DisplayName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return fmt.Sprintf("#%d", p.ID)
}

// PeerEndpoint is an IPv4 address peers may be reached at
type PeerEndpoint struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// Multiaddr returns the endpoint as /ip4/<address>/tcp/<port>
func (e PeerEndpoint) Multiaddr(port int) (multiaddr.Multiaddr, error) {
	return multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", e.Address, port))
}

// Preferences control runtime behaviour and are persisted with the store
type Preferences struct {
	Verbose bool `json:"verbose" yaml:"verbose"`
	Port    int  `json:"port" yaml:"port"`

	DiscoveryInterval time.Duration `json:"discovery_interval" yaml:"discovery_interval"`
	DiscoverOnStartup bool          `json:"discover_on_startup" yaml:"discover_on_startup"`

	MaxFrameSize      uint32 `json:"max_frame_size" yaml:"max_frame_size"`
	ReceiveBufferSize int    `json:"receive_buffer_size" yaml:"receive_buffer_size"`

	ConnectTimeout    time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	IdleSweepInterval time.Duration `json:"idle_sweep_interval" yaml:"idle_sweep_interval"`

	KeepAliveIdle     time.Duration `json:"keepalive_idle" yaml:"keepalive_idle"`
	KeepAliveInterval time.Duration `json:"keepalive_interval" yaml:"keepalive_interval"`
	KeepAliveCount    int           `json:"keepalive_count" yaml:"keepalive_count"`

	SendRetries     int     `json:"send_retries" yaml:"send_retries"`
	FramesPerSecond float64 `json:"frames_per_second" yaml:"frames_per_second"`
	NATTraversal    bool    `json:"nat_traversal" yaml:"nat_traversal"`
	DedupCacheSize  int     `json:"dedup_cache_size" yaml:"dedup_cache_size"`
}

// DefaultPreferences returns the preferences of a freshly created store
func DefaultPreferences() Preferences {
	return Preferences{
		Port:              8391,
		DiscoveryInterval: 5 * time.Minute,
		DiscoverOnStartup: true,
		MaxFrameSize:      4 << 20,
		ReceiveBufferSize: 64 * 1024,
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		IdleSweepInterval: 30 * time.Second,
		KeepAliveIdle:     30 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		KeepAliveCount:    4,
		SendRetries:       3,
		DedupCacheSize:    1024,
	}
}

// withDefaults fills zero fields from DefaultPreferences. Flags and
// FramesPerSecond are kept as given.
func (p Preferences) withDefaults() Preferences {
	d := DefaultPreferences()
	if p.Port <= 0 {
		p.Port = d.Port
	}
	if p.DiscoveryInterval <= 0 {
		p.DiscoveryInterval = d.DiscoveryInterval
	}
	if p.MaxFrameSize == 0 {
		p.MaxFrameSize = d.MaxFrameSize
	}
	if p.ReceiveBufferSize <= 0 {
		p.ReceiveBufferSize = d.ReceiveBufferSize
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = d.ReadTimeout
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = d.WriteTimeout
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = d.IdleTimeout
	}
	if p.IdleSweepInterval <= 0 {
		p.IdleSweepInterval = d.IdleSweepInterval
	}
	if p.KeepAliveIdle <= 0 {
		p.KeepAliveIdle = d.KeepAliveIdle
	}
	if p.KeepAliveInterval <= 0 {
		p.KeepAliveInterval = d.KeepAliveInterval
	}
	if p.KeepAliveCount <= 0 {
		p.KeepAliveCount = d.KeepAliveCount
	}
	if p.SendRetries < 0 {
		p.SendRetries = 0
	}
	if p.DedupCacheSize <= 0 {
		p.DedupCacheSize = d.DedupCacheSize
	}
	return p
}

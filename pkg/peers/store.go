// Package peers holds the local identity and everything known about remote
// peers: keys, aliases, trust tokens and endpoints.
//
// Store is safe for concurrent use. Reads run in parallel; writes are
// serialised by one lock so uniqueness of keys, aliases and ids holds.
// Peers are never removed.
package peers

import (
	"crypto/rsa"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
)

// Store is the trust store
type Store struct {
	mu sync.RWMutex

	privateKey *rsa.PrivateKey
	publicKey  string

	peers     []*RemotePeer
	nextID    int
	endpoints []PeerEndpoint
	prefs     Preferences

	now func() time.Time
}

// NewStore creates an empty store around the local key pair
func NewStore(privateKey *rsa.PrivateKey, prefs Preferences) (*Store, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidPublicKey)
	}
	pub, err := crypto.EncodePublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Store{
		privateKey: privateKey,
		publicKey:  pub,
		nextID:     1,
		prefs:      prefs.withDefaults(),
		now:        time.Now,
	}, nil
}

// PrivateKey returns the local private key
func (s *Store) PrivateKey() *rsa.PrivateKey {
	return s.privateKey
}

// LocalPublicKey returns the encoded local public key
func (s *Store) LocalPublicKey() string {
	return s.publicKey
}

// Preferences returns the current preferences
func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetPreferences replaces the preferences; zero fields take defaults
func (s *Store) SetPreferences(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p.withDefaults()
}

// ===== PEER LOOKUPS =====

// PeerByPublicKey finds a peer by its encoded public key
func (s *Store) PeerByPublicKey(publicKey string) (RemotePeer, error) {
	key, err := normalizePublicKey(publicKey)
	if err != nil {
		return RemotePeer{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return single(s.match(func(p *RemotePeer) bool { return p.PublicKey == key }))
}

// PeerByAlias finds a peer by alias
func (s *Store) PeerByAlias(alias string) (RemotePeer, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return RemotePeer{}, ErrInvalidAlias
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return single(s.match(func(p *RemotePeer) bool { return p.Alias == alias }))
}

// PeerByID finds a peer by ordinal id
func (s *Store) PeerByID(id int) (RemotePeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return single(s.match(func(p *RemotePeer) bool { return p.ID == id }))
}

// PeerByReceivingToken resolves a token presented by a sender. Every record
// is compared in constant time.
func (s *Store) PeerByReceivingToken(token string) (RemotePeer, error) {
	if token == "" {
		return RemotePeer{}, ErrPeerNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return single(s.match(func(p *RemotePeer) bool { return crypto.TokensEqual(p.ReceivingToken, token) }))
}

// ResolvePeer looks a peer up by numeric id, alias or public key. A reference
// matching different peers under different interpretations is ambiguous.
func (s *Store) ResolvePeer(ref string) (RemotePeer, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return RemotePeer{}, ErrPeerNotFound
	}

	id, idErr := strconv.Atoi(ref)
	key, keyErr := normalizePublicKey(ref)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return single(s.match(func(p *RemotePeer) bool {
		if idErr == nil && p.ID == id {
			return true
		}
		if p.Alias != "" && p.Alias == ref {
			return true
		}
		return keyErr == nil && p.PublicKey == key
	}))
}

// SendingToken returns the token to present when sending to publicKey
func (s *Store) SendingToken(publicKey string) (string, error) {
	peer, err := s.PeerByPublicKey(publicKey)
	if err != nil {
		return "", err
	}
	if peer.SendingToken == "" {
		return "", fmt.Errorf("%w: %s", ErrNoSendingToken, peer.DisplayName())
	}
	return peer.SendingToken, nil
}

// Peers returns every peer ordered by id
func (s *Store) Peers() []RemotePeer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RemotePeer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PublicKeys returns the public keys of every peer ordered by id
func (s *Store) PublicKeys() []string {
	peers := s.Peers()
	keys := make([]string, 0, len(peers))
	for _, p := range peers {
		keys = append(keys, p.PublicKey)
	}
	return keys
}

// ===== PEER MUTATIONS =====

// AddPeer records a public key. Adding a known key is a no-op that returns
// the existing record with added=false.
func (s *Store) AddPeer(publicKey string) (peer RemotePeer, added bool, err error) {
	key, err := normalizePublicKey(publicKey)
	if err != nil {
		return RemotePeer{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, added, err := s.addLocked(key)
	if err != nil {
		return RemotePeer{}, false, err
	}
	return *p, added, nil
}

// SetAlias names a known peer. An empty alias clears it. Aliases are unique
// and cannot be numeric.
func (s *Store) SetAlias(publicKey, alias string) (RemotePeer, error) {
	key, err := normalizePublicKey(publicKey)
	if err != nil {
		return RemotePeer{}, err
	}
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if _, err := strconv.Atoi(alias); err == nil || strings.ContainsAny(alias, " \t\r\n") {
			return RemotePeer{}, fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.find(key)
	if target == nil {
		return RemotePeer{}, ErrPeerNotFound
	}

	if alias != "" {
		for _, p := range s.peers {
			if p != target && p.Alias == alias {
				return RemotePeer{}, fmt.Errorf("%w: alias %q is taken by #%d", ErrAmbiguousLookup, alias, p.ID)
			}
		}
	}

	target.Alias = alias
	return *target, nil
}

// SetReceivingToken records the token we minted for publicKey. The peer is
// learned if unknown.
func (s *Store) SetReceivingToken(publicKey, token string) (RemotePeer, error) {
	return s.setToken(publicKey, token, func(p *RemotePeer) { p.ReceivingToken = token }, true)
}

// SwapReceivingToken is SetReceivingToken that also returns the token it
// replaced.
func (s *Store) SwapReceivingToken(publicKey, token string) (previous string, err error) {
	_, err = s.setToken(publicKey, token, func(p *RemotePeer) {
		previous = p.ReceivingToken
		p.ReceivingToken = token
	}, true)
	return previous, err
}

// RevertReceivingToken puts previous back as the receiving token of
// publicKey, provided minted is still the current one. It undoes a swap whose
// token never reached the peer.
func (s *Store) RevertReceivingToken(publicKey, minted, previous string) error {
	key, err := normalizePublicKey(publicKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(key)
	if p == nil {
		return ErrPeerNotFound
	}
	if crypto.TokensEqual(p.ReceivingToken, minted) {
		p.ReceivingToken = previous
	}
	return nil
}

// SetSendingToken records the token publicKey minted for us. The peer is
// learned if unknown.
func (s *Store) SetSendingToken(publicKey, token string) (RemotePeer, error) {
	return s.setToken(publicKey, token, func(p *RemotePeer) { p.SendingToken = token }, false)
}

// Touch updates LastSeen of a known peer
func (s *Store) Touch(publicKey string) error {
	key, err := normalizePublicKey(publicKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(key)
	if p == nil {
		return ErrPeerNotFound
	}
	p.LastSeen = s.now()
	return nil
}

func (s *Store) setToken(publicKey, token string, set func(*RemotePeer), receiving bool) (RemotePeer, error) {
	if strings.TrimSpace(token) == "" {
		return RemotePeer{}, ErrInvalidToken
	}
	key, err := normalizePublicKey(publicKey)
	if err != nil {
		return RemotePeer{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, _, err := s.addLocked(key)
	if err != nil {
		return RemotePeer{}, err
	}

	if receiving {
		for _, other := range s.peers {
			if other != p && crypto.TokensEqual(other.ReceivingToken, token) {
				return RemotePeer{}, fmt.Errorf("%w: token already issued to #%d", ErrAmbiguousLookup, other.ID)
			}
		}
	}

	set(p)
	return *p, nil
}

func (s *Store) addLocked(key string) (*RemotePeer, bool, error) {
	if key == s.publicKey {
		return nil, false, ErrSelfPeer
	}
	if p := s.find(key); p != nil {
		return p, false, nil
	}

	p := &RemotePeer{
		ID:        s.nextID,
		PublicKey: key,
		AddedAt:   s.now(),
	}
	s.nextID++
	s.peers = append(s.peers, p)
	return p, true, nil
}

func (s *Store) find(key string) *RemotePeer {
	for _, p := range s.peers {
		if p.PublicKey == key {
			return p
		}
	}
	return nil
}

// match visits every record without stopping early
func (s *Store) match(pred func(*RemotePeer) bool) []RemotePeer {
	var found []RemotePeer
	for _, p := range s.peers {
		if pred(p) {
			found = append(found, *p)
		}
	}
	return found
}

func single(found []RemotePeer) (RemotePeer, error) {
	switch len(found) {
	case 0:
		return RemotePeer{}, ErrPeerNotFound
	case 1:
		return found[0], nil
	default:
		return RemotePeer{}, fmt.Errorf("%w: %d matches", ErrAmbiguousLookup, len(found))
	}
}

// normalizePublicKey rejects blank or undecodable keys and returns the
// canonical encoding
func normalizePublicKey(publicKey string) (string, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}

	var key *rsa.PublicKey
	var err error
	if strings.HasPrefix(publicKey, "-----BEGIN") {
		key, err = crypto.ImportPublicKeyPEM([]byte(publicKey))
	} else {
		key, err = crypto.DecodePublicKey(publicKey)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return crypto.EncodePublicKey(key)
}

// ===== ENDPOINTS =====

// AddEndpoint records an IPv4 address, given either dotted or as a
// /ip4/... multiaddr. Known addresses are not duplicated.
func (s *Store) AddEndpoint(addr string) (bool, error) {
	ip, err := ParseEndpoint(addr)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.endpoints {
		if e.Address == ip {
			return false, nil
		}
	}
	s.endpoints = append(s.endpoints, PeerEndpoint{Address: ip})
	return true, nil
}

// SetEndpointConnected flags an endpoint as reachable or not
func (s *Store) SetEndpointConnected(addr string, connected bool) error {
	ip, err := ParseEndpoint(addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.endpoints {
		if s.endpoints[i].Address == ip {
			s.endpoints[i].Connected = connected
			return nil
		}
	}
	return ErrEndpointNotFound
}

// Endpoints returns a copy of the endpoint list in insertion order
func (s *Store) Endpoints() []PeerEndpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PeerEndpoint(nil), s.endpoints...)
}

// EndpointAddresses returns just the addresses
func (s *Store) EndpointAddresses() []string {
	endpoints := s.Endpoints()
	out := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, e.Address)
	}
	return out
}

// ParseEndpoint validates an endpoint and returns its dotted IPv4 form
func ParseEndpoint(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}

	if strings.HasPrefix(addr, "/") {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		value, err := maddr.ValueForProtocol(multiaddr.P_IP4)
		if err != nil {
			return "", fmt.Errorf("%w: %q has no ip4 component", ErrInvalidEndpoint, addr)
		}
		addr = value
	}

	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil || strings.Contains(addr, ":") {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidEndpoint, addr)
	}
	return ip.To4().String(), nil
}

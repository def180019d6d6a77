package peers

import (
	"fmt"
	"strings"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
)

// SnapshotVersion is written into every snapshot. Snapshots with a different
// major version are refused.
const SnapshotVersion = "1.0"

// Snapshot is the serialisable form of a Store
type Snapshot struct {
	Version     string         `json:"version"`
	PrivateKey  string         `json:"private_key"`
	NextID      int            `json:"next_id"`
	Peers       []RemotePeer   `json:"peers"`
	Endpoints   []PeerEndpoint `json:"endpoints"`
	Preferences Preferences    `json:"preferences"`
}

// Snapshot captures the full store state, private key included
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Version:     SnapshotVersion,
		PrivateKey:  crypto.EncodePrivateKey(s.privateKey),
		NextID:      s.nextID,
		Peers:       make([]RemotePeer, 0, len(s.peers)),
		Endpoints:   append([]PeerEndpoint{}, s.endpoints...),
		Preferences: s.prefs,
	}
	for _, p := range s.peers {
		snap.Peers = append(snap.Peers, *p)
	}
	return snap
}

// Restore rebuilds a store from a snapshot, re-checking every invariant
func Restore(snap Snapshot) (*Store, error) {
	if major(snap.Version) != major(SnapshotVersion) {
		return nil, fmt.Errorf("%w: %q", ErrIncompatibleVersion, snap.Version)
	}

	priv, err := crypto.DecodePrivateKey(snap.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidSnapshot, err)
	}

	store, err := NewStore(priv, snap.Preferences)
	if err != nil {
		return nil, err
	}

	ids := make(map[int]bool)
	aliases := make(map[string]bool)
	maxID := 0

	for _, p := range snap.Peers {
		key, err := normalizePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: peer #%d: %v", ErrInvalidSnapshot, p.ID, err)
		}
		if key == store.publicKey {
			return nil, fmt.Errorf("%w: peer #%d is the local key", ErrInvalidSnapshot, p.ID)
		}
		if p.ID <= 0 || ids[p.ID] {
			return nil, fmt.Errorf("%w: duplicate or invalid id %d", ErrInvalidSnapshot, p.ID)
		}
		if store.find(key) != nil {
			return nil, fmt.Errorf("%w: duplicate public key at #%d", ErrInvalidSnapshot, p.ID)
		}
		if p.Alias != "" {
			if aliases[p.Alias] {
				return nil, fmt.Errorf("%w: duplicate alias %q", ErrInvalidSnapshot, p.Alias)
			}
			aliases[p.Alias] = true
		}

		ids[p.ID] = true
		if p.ID > maxID {
			maxID = p.ID
		}

		peer := p
		peer.PublicKey = key
		store.peers = append(store.peers, &peer)
	}

	store.nextID = snap.NextID
	if store.nextID <= maxID {
		store.nextID = maxID + 1
	}

	// Connection flags are not carried across restarts
	for _, e := range snap.Endpoints {
		ip, err := ParseEndpoint(e.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if _, err := store.AddEndpoint(ip); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func major(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

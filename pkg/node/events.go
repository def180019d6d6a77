package node

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

// OnPingReceived marks a known endpoint as reachable
func (n *Node) OnPingReceived(endpoint string) {
	logging.Debugf(n.log, "ping from %s", endpoint)

	if err := n.store.SetEndpointConnected(endpoint, true); err != nil {
		logging.Debugf(n.log, "ping from unknown endpoint %s", endpoint)
	}
	if n.observer.OnPing != nil {
		n.observer.OnPing(endpoint)
	}
}

// OnSignatureReceived records the token a peer issued to us
func (n *Node) OnSignatureReceived(buf []byte) {
	if n.duplicate(buf) {
		return
	}

	senderPub, token, err := n.svc.ReceiveSignature(buf, n.store.PrivateKey())
	if err != nil {
		n.rejected(err)
		return
	}

	encoded, err := crypto.EncodePublicKey(senderPub)
	if err != nil {
		n.rejected(protocol.Reject(protocol.RejectUndefined, err))
		return
	}

	peer, err := n.store.SetSendingToken(encoded, token)
	if err != nil {
		n.log.LogWarning("cannot record sending token", err)
		return
	}

	n.log.LogInformation(fmt.Sprintf("received signature from %s", peer.DisplayName()))
	if n.observer.OnSignature != nil {
		n.observer.OnSignature(peer)
	}
}

// OnMessageReceived decrypts a message and authenticates its sender
func (n *Node) OnMessageReceived(keyBuf, messageBuf []byte) {
	if n.duplicate(keyBuf, messageBuf) {
		return
	}

	token, text, err := n.svc.ReceiveMessage(keyBuf, messageBuf, n.store.PrivateKey())
	if err != nil {
		n.rejected(err)
		return
	}

	peer, ok := n.authenticate(token)
	if !ok {
		return
	}

	logging.Debugf(n.log, "message from %s", peer.DisplayName())
	if n.observer.OnMessage != nil {
		n.observer.OnMessage(peer, text)
	}
}

// OnDiscoveryReceived learns the endpoints and keys a peer announced
func (n *Node) OnDiscoveryReceived(keyBuf, discoveryBuf []byte) {
	if n.duplicate(keyBuf, discoveryBuf) {
		return
	}

	endpoints, keys, token, err := n.svc.ReceiveDiscovery(keyBuf, discoveryBuf, n.store.PrivateKey())
	if err != nil {
		n.rejected(err)
		return
	}

	peer, ok := n.authenticate(token)
	if !ok {
		return
	}

	learned := 0
	for _, endpoint := range endpoints {
		added, err := n.store.AddEndpoint(endpoint)
		if err != nil {
			n.log.LogWarning(fmt.Sprintf("skipping endpoint announced by %s", peer.DisplayName()), err)
			continue
		}
		if added {
			learned++
		}
	}
	for _, key := range keys {
		_, added, err := n.store.AddPeer(key)
		if err != nil {
			if !errors.Is(err, peers.ErrSelfPeer) {
				n.log.LogWarning(fmt.Sprintf("skipping key announced by %s", peer.DisplayName()), err)
			}
			continue
		}
		if added {
			learned++
		}
	}

	logging.Debugf(n.log, "discovery from %s: %d new entries", peer.DisplayName(), learned)
	if n.observer.OnDiscovery != nil {
		n.observer.OnDiscovery(peer, endpoints, keys)
	}
}

// authenticate resolves a token we issued back to its peer
func (n *Node) authenticate(token string) (peers.RemotePeer, bool) {
	peer, err := n.store.PeerByReceivingToken(token)
	if err != nil {
		n.rejected(protocol.Reject(protocol.RejectInvalidIdentityProve, err))
		return peers.RemotePeer{}, false
	}
	if err := n.store.Touch(peer.PublicKey); err != nil {
		n.log.LogWarning("cannot update last seen", err)
	}
	return peer, true
}

// duplicate reports whether the same frame was seen recently
func (n *Node) duplicate(buffers ...[]byte) bool {
	key := crypto.HashString(bytes.Join(buffers, nil))
	if seen, _ := n.dedup.ContainsOrAdd(key, struct{}{}); seen {
		n.metrics.Duplicates.Inc()
		logging.Debugf(n.log, "dropping duplicate frame %s", key)
		return true
	}
	return false
}

func (n *Node) rejected(err error) {
	reason, _ := protocol.RejectionReasonOf(err)
	n.metrics.Rejections.WithLabelValues(reason.String()).Inc()
	n.log.LogWarning("packet rejected", err)

	if n.observer.OnRejected != nil {
		n.observer.OnRejected(err)
	}
}

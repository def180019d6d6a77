package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// PeerInfo describes a remote peer. Tokens are never exposed.
type PeerInfo struct {
	ID        int        `json:"id"`
	Alias     string     `json:"alias,omitempty"`
	PublicKey string     `json:"publicKey"`
	CanSend   bool       `json:"canSend"` // we hold a token it issued
	Issued    bool       `json:"issued"`  // we issued it a token
	AddedAt   time.Time  `json:"addedAt"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

func peerInfo(p peers.RemotePeer) PeerInfo {
	info := PeerInfo{
		ID:        p.ID,
		Alias:     p.Alias,
		PublicKey: p.PublicKey,
		CanSend:   p.SendingToken != "",
		Issued:    p.ReceivingToken != "",
		AddedAt:   p.AddedAt,
	}
	if !p.LastSeen.IsZero() {
		seen := p.LastSeen
		info.LastSeen = &seen
	}
	return info
}

// PeersResponse lists peers
type PeersResponse struct {
	Success bool       `json:"success"`
	Count   int        `json:"count"`
	Peers   []PeerInfo `json:"peers"`
}

// PeerResponse returns one peer
type PeerResponse struct {
	Success bool     `json:"success"`
	Added   bool     `json:"added"`
	Peer    PeerInfo `json:"peer"`
}

// AddPeerRequest adds a peer by public key
type AddPeerRequest struct {
	PublicKey string `json:"publicKey" binding:"required"`
	Alias     string `json:"alias"`
}

// SetAliasRequest names a peer; an empty alias clears it
type SetAliasRequest struct {
	Alias string `json:"alias"`
}

// EndpointsResponse lists endpoints
type EndpointsResponse struct {
	Success   bool                 `json:"success"`
	Count     int                  `json:"count"`
	Endpoints []peers.PeerEndpoint `json:"endpoints"`
}

// AddEndpointRequest adds an endpoint, dotted IPv4 or /ip4 multiaddr
type AddEndpointRequest struct {
	Address string `json:"address" binding:"required"`
}

// handleListPeers handles GET /api/v1/peers
func (s *Server) handleListPeers(c *gin.Context) {
	list := s.node.Store().Peers()

	infos := make([]PeerInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, peerInfo(p))
	}

	c.JSON(http.StatusOK, PeersResponse{Success: true, Count: len(infos), Peers: infos})
}

// handleAddPeer handles POST /api/v1/peers
func (s *Server) handleAddPeer(c *gin.Context) {
	var req AddPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	store := s.node.Store()
	peer, added, err := store.AddPeer(req.PublicKey)
	if err != nil {
		fail(c, err)
		return
	}

	if req.Alias != "" {
		if peer, err = store.SetAlias(peer.PublicKey, req.Alias); err != nil {
			fail(c, err)
			return
		}
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, PeerResponse{Success: true, Added: added, Peer: peerInfo(peer)})
}

// handleSetAlias handles PUT /api/v1/peers/:ref/alias
func (s *Server) handleSetAlias(c *gin.Context) {
	var req SetAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	store := s.node.Store()
	peer, err := store.ResolvePeer(c.Param("ref"))
	if err != nil {
		fail(c, err)
		return
	}

	peer, err = store.SetAlias(peer.PublicKey, req.Alias)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, PeerResponse{Success: true, Peer: peerInfo(peer)})
}

// handleListEndpoints handles GET /api/v1/endpoints
func (s *Server) handleListEndpoints(c *gin.Context) {
	endpoints := s.node.Store().Endpoints()
	c.JSON(http.StatusOK, EndpointsResponse{Success: true, Count: len(endpoints), Endpoints: endpoints})
}

// handleAddEndpoint handles POST /api/v1/endpoints
func (s *Server) handleAddEndpoint(c *gin.Context) {
	var req AddEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	added, err := s.node.Store().AddEndpoint(req.Address)
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, SuccessResponse{Success: true, Data: gin.H{"added": added}})
}

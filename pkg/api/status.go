package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-peer/pkg/handler"
	"github.com/ZentaChain/zentalk-peer/pkg/network"
	"github.com/ZentaChain/zentalk-peer/pkg/node"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// HealthResponse contains liveness information
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"` // "healthy" or "degraded"
	State   string `json:"state"`
	Uptime  string `json:"uptime"`
}

// NodeInfoResponse contains information about this peer
type NodeInfoResponse struct {
	Success     bool              `json:"success"`
	PublicKey   string            `json:"publicKey"`
	ListenAddr  string            `json:"listenAddr,omitempty"`
	State       string            `json:"state"`
	PeerCount   int               `json:"peerCount"`
	Endpoints   int               `json:"endpointCount"`
	StartedAt   time.Time         `json:"startedAt"`
	Preferences peers.Preferences `json:"preferences"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	state := s.node.State()

	status := "healthy"
	if state != network.StateListening {
		status = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Success: true,
		Status:  status,
		State:   state.String(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleNodeInfo handles GET /api/v1/node/info
func (s *Server) handleNodeInfo(c *gin.Context) {
	store := s.node.Store()

	response := NodeInfoResponse{
		Success:     true,
		PublicKey:   store.LocalPublicKey(),
		State:       s.node.State().String(),
		PeerCount:   len(store.Peers()),
		Endpoints:   len(store.Endpoints()),
		StartedAt:   s.startedAt,
		Preferences: store.Preferences(),
	}
	if addr := s.node.Addr(); addr != nil {
		response.ListenAddr = addr.String()
	}

	c.JSON(http.StatusOK, response)
}

// statusFor maps an error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, peers.ErrPeerNotFound), errors.Is(err, peers.ErrEndpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, peers.ErrAmbiguousLookup), errors.Is(err, peers.ErrNoSendingToken):
		return http.StatusConflict
	case errors.Is(err, peers.ErrInvalidPublicKey),
		errors.Is(err, peers.ErrInvalidAlias),
		errors.Is(err, peers.ErrInvalidEndpoint),
		errors.Is(err, peers.ErrSelfPeer),
		errors.Is(err, peers.ErrInvalidToken),
		errors.Is(err, handler.ErrEmptyToken):
		return http.StatusBadRequest
	case errors.Is(err, network.ErrConnectionFailed),
		errors.Is(err, network.ErrConnectionClosed),
		errors.Is(err, network.ErrClientClosed),
		errors.Is(err, network.ErrPoolClosed),
		errors.Is(err, node.ErrClosed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}

// badRequest reports a malformed request body
func badRequest(c *gin.Context, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Message: err.Error(),
	})
}

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-peer/pkg/network"
)

// PingRequest pings an endpoint
type PingRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// SignatureRequest issues a trust token to a peer
type SignatureRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Peer     string `json:"peer" binding:"required"` // id, alias or public key
}

// MessageRequest sends a text message
type MessageRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Peer     string `json:"peer" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

// DiscoveryRequest announces to one peer, or runs a full round when empty
type DiscoveryRequest struct {
	Endpoint string `json:"endpoint"`
	Peer     string `json:"peer"`
}

// DiscoveryResponse reports a discovery round
type DiscoveryResponse struct {
	Success bool                `json:"success"`
	Round   network.RoundResult `json:"round"`
}

func (s *Server) sendContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.config.SendTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), s.config.SendTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// handlePing handles POST /api/v1/ping
func (s *Server) handlePing(c *gin.Context) {
	var req PingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := s.sendContext(c)
	defer cancel()

	if err := s.node.Ping(ctx, req.Endpoint); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "ping sent"})
}

// handleSignature handles POST /api/v1/signatures
func (s *Server) handleSignature(c *gin.Context) {
	var req SignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := s.sendContext(c)
	defer cancel()

	if _, err := s.node.SendSignature(ctx, req.Endpoint, req.Peer); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "signature sent"})
}

// handleMessage handles POST /api/v1/messages
func (s *Server) handleMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := s.sendContext(c)
	defer cancel()

	if err := s.node.SendMessage(ctx, req.Endpoint, req.Peer, req.Text); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "message sent"})
}

// handleDiscovery handles POST /api/v1/discovery
func (s *Server) handleDiscovery(c *gin.Context) {
	var req DiscoveryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	ctx, cancel := s.sendContext(c)
	defer cancel()

	if req.Endpoint == "" && req.Peer == "" {
		c.JSON(http.StatusOK, DiscoveryResponse{Success: true, Round: s.node.Discover(ctx)})
		return
	}
	if req.Endpoint == "" || req.Peer == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: "endpoint and peer must be given together",
		})
		return
	}

	if err := s.node.SendDiscovery(ctx, req.Endpoint, req.Peer); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DiscoveryResponse{Success: true, Round: network.RoundResult{Endpoints: 1, Reached: 1, Sent: 1}})
}

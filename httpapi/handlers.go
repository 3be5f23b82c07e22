package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldcipher/rotor"
	"github.com/fieldcipher/rotor/middleware"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type qrValidateRequest struct {
	QRData string `json:"qr_data" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	latency, err := s.engine.Ping(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   "service temporarily unavailable",
			Code:    "backend_unavailable",
		})
		return
	}

	respondOK(c, "ok", gin.H{
		"status":        "healthy",
		"redis_latency": latency.String(),
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "username, email, and password are required")
		return
	}

	user, err := s.engine.Register(s.requestContext(c), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	respondCreated(c, "user registered", gin.H{
		"user_id":  user.UserID,
		"username": user.Username,
		"email":    user.Email,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}

	pair, err := s.engine.Login(s.requestContext(c), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "login successful", pair)
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "refresh_token is required")
		return
	}

	pair, err := s.engine.Refresh(s.requestContext(c), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "token refreshed", pair)
}

func (s *Server) handleLogout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "refresh_token is required")
		return
	}

	if err := s.engine.Logout(s.requestContext(c), req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "logged out", nil)
}

func (s *Server) handleProfile(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		respondError(c, rotor.ErrUnauthorized)
		return
	}

	profile, err := s.engine.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", profile)
}

func (s *Server) handleProtected(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		respondError(c, rotor.ErrUnauthorized)
		return
	}

	respondOK(c, "access granted", gin.H{
		"user_id":  claims.UserID,
		"username": claims.Username,
	})
}

// Both query parameters are optional; an empty request yields an empty info
// object rather than an error.
func (s *Server) handleTokenInfo(c *gin.Context) {
	info, err := s.engine.TokenInfo(c.Request.Context(), c.Query("access_token"), c.Query("refresh_token"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", info)
}

func (s *Server) handleSimulateTheft(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "refresh_token is required")
		return
	}

	report, err := s.engine.SimulateTheft(s.requestContext(c), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "theft simulated: token family revoked", report)
}

func (s *Server) handleTokenStatus(c *gin.Context) {
	refreshToken := c.Query("refresh_token")
	if refreshToken == "" {
		respondBadRequest(c, "refresh_token query parameter is required")
		return
	}

	status, err := s.engine.TokenStatus(c.Request.Context(), refreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", status)
}

func (s *Server) handleQRGenerate(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		respondError(c, rotor.ErrUnauthorized)
		return
	}

	grant, err := s.engine.GenerateTicket(s.requestContext(c), claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "qr ticket generated", grant)
}

func (s *Server) handleQRValidate(c *gin.Context) {
	var req qrValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "qr_data is required")
		return
	}

	pair, err := s.engine.ValidateTicket(s.requestContext(c), req.QRData)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "qr login successful", pair)
}

func (s *Server) handleAdminDatabase(c *gin.Context) {
	view, err := s.engine.DatabaseView(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", view)
}

func (s *Server) handleAdminMetrics(c *gin.Context) {
	respondOK(c, "", gin.H{
		"counters":      s.engine.Metrics().Snapshot(),
		"audit_dropped": s.engine.AuditDropped(),
	})
}

// requestContext attaches the client IP so the engine can record it on
// audit events and QR tickets.
func (s *Server) requestContext(c *gin.Context) context.Context {
	return rotor.WithClientIP(c.Request.Context(), c.ClientIP())
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *server) issueToken(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	tokens, err := s.Issuer.Issue(req.UserID)
	if err != nil {
		s.Log.Error().Err(err).Msg("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed", "code": "internal"})
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

func (s *server) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	tokens, err := s.Issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token", "code": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

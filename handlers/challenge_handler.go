package handlers

import (
	"errors"
	"net/http"

	"axio-backend/service"

	"github.com/gin-gonic/gin"
)

// ChallengeHandler handles HTTP requests for evidence challenges
type ChallengeHandler struct {
	challengeService *service.ChallengeService
}

// NewChallengeHandler creates a new challenge handler
func NewChallengeHandler(challengeService *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{challengeService: challengeService}
}

// RunChallenge handles POST /api/challenge/:session_id
func (h *ChallengeHandler) RunChallenge(c *gin.Context) {
	result, err := h.challengeService.RunChallenge(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Session not found",
				},
			})
		case errors.Is(err, service.ErrUpstreamUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "UPSTREAM_UNAVAILABLE",
					"message": err.Error(),
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CHALLENGE_FAILED",
					"message": err.Error(),
				},
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

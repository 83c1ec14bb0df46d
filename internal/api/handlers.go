package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// Limits applied to ?limit= on list endpoints
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ReadService is what the read API needs from the service layer
type ReadService interface {
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, discordID string) (*models.User, error)
	GetCurrentGold(ctx context.Context, discordID string) int64
	GetGoldHistory(ctx context.Context, discordID string, limit int) []models.GoldEntry
	GetLeaderboard(ctx context.Context, limit int) []models.LeaderboardEntry
	GetUserSessions(ctx context.Context, discordID string, limit int) ([]models.Session, error)
	GetActiveSession(ctx context.Context, discordID string) (*models.Session, error)
	GetUserSessionStats(ctx context.Context, discordID string) (*models.SessionStats, error)
	DatabaseStatus() database.Status
	HealthCheck(ctx context.Context) database.HealthCheck
}

// Handler serves the read-only HTTP API
type Handler struct {
	svc    ReadService
	logger *utils.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc ReadService, logger *utils.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// NewRouter builds the gin engine with middleware and routes
func NewRouter(h *Handler, jwtSecret []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(h.logger))
	h.SetupRoutes(router, jwtSecret)
	return router
}

// SetupRoutes registers the API routes. Everything but the health check
// sits behind AuthMiddleware.
func (h *Handler) SetupRoutes(router *gin.Engine, jwtSecret []byte) {
	apiGroup := router.Group("/api")
	apiGroup.GET("/health", h.Health)

	authed := apiGroup.Group("")
	authed.Use(AuthMiddleware(jwtSecret))
	{
		authed.GET("/users", h.ListUsers)
		authed.GET("/users/:id", h.GetUser)

		authed.GET("/gold/:userId", h.GetGold)
		authed.GET("/gold/:userId/history", h.GetGoldHistory)
		authed.GET("/leaderboard", h.GetLeaderboard)

		authed.GET("/sessions/:userId", h.GetSessions)
		authed.GET("/sessions/:userId/active", h.GetActiveSession)
		authed.GET("/sessions/:userId/stats", h.GetSessionStats)
	}
}

// parseLimit reads ?limit=, defaulting to DefaultLimit and clamping to
// [1, MaxLimit]. Unparseable values use the default.
func parseLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultLimit
	}
	if n < 1 {
		return 1
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("API request failed", "op", op, "error", err, "request_id", c.GetString("requestId"))
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Status:  "error",
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
	})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Status:  "error",
		Code:    "NOT_FOUND",
		Message: message,
	})
}

// Health reports the API and database status. An unreachable database
// answers 503.
func (h *Handler) Health(c *gin.Context) {
	hc := h.svc.HealthCheck(c.Request.Context())

	status := http.StatusOK
	body := models.HealthResponse{Status: "ok", Database: h.svc.DatabaseStatus()}
	if hc.Status != "healthy" {
		status = http.StatusServiceUnavailable
		body.Status = "degraded"
	}
	c.JSON(status, body)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.GetAllUsers(c.Request.Context())
	if err != nil {
		h.internalError(c, "list users", err)
		return
	}
	c.JSON(http.StatusOK, models.UsersResponse{Status: "success", Users: users})
}

func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.svc.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "get user", err)
		return
	}
	if user == nil {
		notFound(c, "User not found")
		return
	}
	c.JSON(http.StatusOK, models.UserResponse{Status: "success", User: *user})
}

func (h *Handler) GetGold(c *gin.Context) {
	userID := c.Param("userId")
	c.JSON(http.StatusOK, models.GoldResponse{
		Status:      "success",
		DiscordID:   userID,
		CurrentGold: h.svc.GetCurrentGold(c.Request.Context(), userID),
	})
}

func (h *Handler) GetGoldHistory(c *gin.Context) {
	userID := c.Param("userId")
	c.JSON(http.StatusOK, models.GoldHistoryResponse{
		Status:    "success",
		DiscordID: userID,
		History:   h.svc.GetGoldHistory(c.Request.Context(), userID, parseLimit(c)),
	})
}

func (h *Handler) GetLeaderboard(c *gin.Context) {
	c.JSON(http.StatusOK, models.LeaderboardResponse{
		Status:  "success",
		Entries: h.svc.GetLeaderboard(c.Request.Context(), parseLimit(c)),
	})
}

func (h *Handler) GetSessions(c *gin.Context) {
	userID := c.Param("userId")
	sessions, err := h.svc.GetUserSessions(c.Request.Context(), userID, parseLimit(c))
	if err != nil {
		h.internalError(c, "get sessions", err)
		return
	}
	c.JSON(http.StatusOK, models.SessionsResponse{Status: "success", DiscordID: userID, Sessions: sessions})
}

func (h *Handler) GetActiveSession(c *gin.Context) {
	session, err := h.svc.GetActiveSession(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.internalError(c, "get active session", err)
		return
	}
	if session == nil {
		notFound(c, "No active session")
		return
	}
	c.JSON(http.StatusOK, models.SessionResponse{Status: "success", Session: *session})
}

func (h *Handler) GetSessionStats(c *gin.Context) {
	userID := c.Param("userId")
	stats, err := h.svc.GetUserSessionStats(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "get session stats", err)
		return
	}
	c.JSON(http.StatusOK, models.SessionStatsResponse{Status: "success", DiscordID: userID, Stats: *stats})
}

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"eco-counselor/internal/db"
	"eco-counselor/internal/models"
	"eco-counselor/internal/rag"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UserResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type ChatRequest struct {
	Query       string        `json:"query" binding:"required"`
	ChatHistory []models.Turn `json:"chat_history"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": models.WelcomeMessage})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy", "timestamp": time.Now().UTC()}
	if err := s.store.Ping(c.Request.Context()); err != nil {
		log.Warn().Err(err).Msg("Database ping failed")
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, err := s.store.CreateUser(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, db.ErrEmailExists):
		detail(c, http.StatusBadRequest, "Email already registered")
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to register user")
		detail(c, http.StatusInternalServerError, "Could not register user")
		return
	}
	c.JSON(http.StatusOK, UserResponse{ID: user.ID, Email: user.Email})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, err := s.store.Authenticate(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, db.ErrInvalidCredentials):
		detail(c, http.StatusUnauthorized, "Invalid email or password")
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to authenticate user")
		detail(c, http.StatusInternalServerError, "Could not authenticate user")
		return
	}
	c.JSON(http.StatusOK, UserResponse{ID: user.ID, Email: user.Email})
}

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		detail(c, http.StatusUnprocessableEntity, "query must not be empty")
		return
	}

	resp, err := s.pipeline.Respond(c.Request.Context(), req.Query, req.ChatHistory)
	switch {
	case errors.Is(err, rag.ErrInvalidQuery):
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, rag.ErrRetrieval):
		detail(c, http.StatusServiceUnavailable, "Knowledge base unavailable")
		return
	case errors.Is(err, rag.ErrGeneration):
		detail(c, http.StatusBadGateway, "Language model unavailable")
		return
	case err != nil:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Chat request failed")
		detail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	zerolog.Ctx(c.Request.Context()).Info().Str("outcome", string(resp.Outcome)).Int("history_turns", len(req.ChatHistory)).Msg("Chat response sent")
	c.JSON(http.StatusOK, ChatResponse{Response: resp.Text})
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.store.Summary(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute analytics summary")
		detail(c, http.StatusInternalServerError, "Could not load analytics")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleConversations(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			detail(c, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	convs, err := s.store.RecentConversations(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list conversations")
		detail(c, http.StatusInternalServerError, "Could not load conversations")
		return
	}
	if convs == nil {
		convs = []db.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

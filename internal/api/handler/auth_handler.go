package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/rues-api/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// AuthHandler issues API keys to the admin user
type AuthHandler struct {
	logger *slog.Logger
	keys   KeyService
}

func NewAuthHandler(deps *Dependencies) *AuthHandler {
	return &AuthHandler{
		logger: deps.Logger,
		keys:   deps.Keys,
	}
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}

	req, err := dto.ParseLoginRequest(body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "JSON body is required")
		return
	}

	if !h.keys.CheckCredentials(req.Username, req.Password) {
		h.logger.Warn("Rejected login", slog.String("ip", c.ClientIP()))
		errorJSON(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	issued, err := h.keys.Issue(c.Request.Context(), req.Username)
	if err != nil {
		h.logger.Error("Failed to issue API key", slog.Any("error", err))
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{
		APIKey:           issued.Key,
		ExpiresInMinutes: issued.TTLMinutes,
	})
}

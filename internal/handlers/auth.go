package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/middleware"
	"github.com/yungbote/storychain-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (ah *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	user, err := ah.authService.RegisterUser(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, user)
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	token, user, err := ah.authService.LoginUser(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   int(ah.authService.GetAccessTTL().Seconds()),
		"user":         user,
	})
}

func (ah *AuthHandler) Me(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		RespondError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	user, err := ah.authService.GetUser(c.Request.Context(), callerID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, user)
}

func (ah *AuthHandler) UpdatePushToken(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		RespondError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	var req struct {
		PushToken string `json:"push_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PushToken == "" {
		RespondError(c, apierr.Validation("push_token is required"))
		return
	}
	if err := ah.authService.UpdatePushToken(c.Request.Context(), callerID, req.PushToken); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/middleware"
	"github.com/yungbote/storychain-backend/internal/services"
)

type ChainHandler struct {
	chainService services.ChainService
}

func NewChainHandler(chainService services.ChainService) *ChainHandler {
	return &ChainHandler{chainService: chainService}
}

func (ch *ChainHandler) Create(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		RespondError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	chain, err := ch.chainService.CreateChain(c.Request.Context(), callerID, req.Name)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, chain)
}

func (ch *ChainHandler) Get(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	chain, err := ch.chainService.GetChain(c.Request.Context(), callerID, chainID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, chain)
}

func (ch *ChainHandler) Join(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	if err := ch.chainService.JoinChain(c.Request.Context(), callerID, chainID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (ch *ChainHandler) ListMembers(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	members, err := ch.chainService.ListMembers(c.Request.Context(), callerID, chainID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"members": members})
}

func (ch *ChainHandler) Link(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	var req struct {
		ChainID string `json:"chain_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	otherID, err := uuid.Parse(req.ChainID)
	if err != nil {
		RespondError(c, apierr.Validation("chain_id must be a uuid"))
		return
	}
	if err := ch.chainService.LinkChains(c.Request.Context(), callerID, chainID, otherID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (ch *ChainHandler) ListChapters(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	chapters, err := ch.chainService.ListChapters(c.Request.Context(), callerID, chainID, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"chapters": chapters})
}

func (ch *ChainHandler) UpsertSchedule(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	var req struct {
		Enabled        bool   `json:"enabled"`
		StartHour      int    `json:"start_hour"`
		StartMinute    int    `json:"start_minute"`
		Timezone       string `json:"timezone"`
		PromptTemplate string `json:"prompt_template"`
		WindowMinutes  int    `json:"window_minutes"`
		RequiredCount  int    `json:"required_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	schedule, err := ch.chainService.UpsertSchedule(c.Request.Context(), callerID, chainID, services.ScheduleInput{
		Enabled:        req.Enabled,
		StartHour:      req.StartHour,
		StartMinute:    req.StartMinute,
		Timezone:       req.Timezone,
		PromptTemplate: req.PromptTemplate,
		WindowMinutes:  req.WindowMinutes,
		RequiredCount:  req.RequiredCount,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, schedule)
}

// callerAndID pulls the authenticated caller plus a uuid path param.
func callerAndID(c *gin.Context, param string) (uuid.UUID, uuid.UUID, error) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, apierr.Unauthorized("not authenticated")
	}
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, uuid.Nil, apierr.Validation("%s must be a uuid", param)
	}
	return callerID, id, nil
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/services"
	"github.com/yungbote/storychain-backend/internal/types"
)

type MissionHandler struct {
	missionService services.MissionService
}

func NewMissionHandler(missionService services.MissionService) *MissionHandler {
	return &MissionHandler{missionService: missionService}
}

func (mh *MissionHandler) Create(c *gin.Context) {
	callerID, chainID, err := callerAndID(c, "chain_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	var req struct {
		Prompt        string `json:"prompt"`
		WindowMinutes int    `json:"window_minutes"`
		RequiredCount int    `json:"required_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	mission, err := mh.missionService.CreateMission(c.Request.Context(), callerID, services.CreateMissionInput{
		ChainID:       chainID,
		Prompt:        req.Prompt,
		WindowMinutes: req.WindowMinutes,
		RequiredCount: req.RequiredCount,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, mission)
}

func (mh *MissionHandler) Get(c *gin.Context) {
	callerID, missionID, err := callerAndID(c, "mission_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	mission, err := mh.missionService.GetMission(c.Request.Context(), callerID, missionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, mission)
}

func (mh *MissionHandler) Join(c *gin.Context) {
	callerID, missionID, err := callerAndID(c, "mission_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	mission, err := mh.missionService.JoinMission(c.Request.Context(), callerID, missionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, mission)
}

func (mh *MissionHandler) SubmitEntry(c *gin.Context) {
	callerID, missionID, err := callerAndID(c, "mission_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	var req struct {
		MediaKey string   `json:"media_key"`
		Lat      *float64 `json:"lat"`
		Lng      *float64 `json:"lng"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	entry, err := mh.missionService.SubmitEntry(c.Request.Context(), callerID, services.SubmitEntryInput{
		MissionID: missionID,
		MediaKey:  req.MediaKey,
		Lat:       req.Lat,
		Lng:       req.Lng,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, entry)
}

func (mh *MissionHandler) Lock(c *gin.Context) {
	callerID, missionID, err := callerAndID(c, "mission_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	mission, err := mh.missionService.LockMission(c.Request.Context(), callerID, missionID, types.LockTriggerAdmin)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, mission)
}

func (mh *MissionHandler) Archive(c *gin.Context) {
	callerID, missionID, err := callerAndID(c, "mission_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	mission, err := mh.missionService.ArchiveMission(c.Request.Context(), callerID, missionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, mission)
}

func (mh *MissionHandler) GetChapter(c *gin.Context) {
	callerID, missionID, err := callerAndID(c, "mission_id")
	if err != nil {
		RespondError(c, err)
		return
	}
	chapter, err := mh.missionService.GetChapter(c.Request.Context(), callerID, missionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, chapter)
}

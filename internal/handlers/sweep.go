package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/storychain-backend/internal/services"
)

// SweepHandler exposes the cron-triggered sweeps. Auth is the trigger
// middleware, not user JWTs.
type SweepHandler struct {
	scheduler  services.SchedulerService
	jobTracker services.JobTrackerService
}

func NewSweepHandler(scheduler services.SchedulerService, jobTracker services.JobTrackerService) *SweepHandler {
	return &SweepHandler{scheduler: scheduler, jobTracker: jobTracker}
}

func (sh *SweepHandler) RunAutoStart(c *gin.Context) {
	stats, err := sh.scheduler.RunAutoStart(c.Request.Context(), time.Now())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, stats)
}

func (sh *SweepHandler) RunGenerationPoll(c *gin.Context) {
	stats, err := sh.jobTracker.PollSweep(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, stats)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/clients/fusion"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/types"
)

// JobResolver receives each job resolution exactly once. The tracker
// writes the resolution to storage before calling it, so a crash between
// the two re-polls a still-PENDING job instead of re-running side effects.
type JobResolver interface {
	HandleJobSucceeded(ctx context.Context, job *types.GenerationJob, output types.JobOutput) error
	HandleJobFailed(ctx context.Context, job *types.GenerationJob) error
}

type PollStats struct {
	Checked   int `json:"checked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

type JobTrackerService interface {
	// SubmitFusion sends the generation request and records the PENDING job.
	SubmitFusion(ctx context.Context, mission *types.Mission, prompt string, mediaURLs []string) (*types.GenerationJob, error)
	// PollSweep advances all pollable PENDING jobs. Safe under overlapping
	// invocations: resolution is a conditional update and side effects run
	// only for the caller that actually resolved the row.
	PollSweep(ctx context.Context) (*PollStats, error)
	SetResolver(r JobResolver)
}

type jobTrackerService struct {
	db      *gorm.DB
	log     *logger.Logger
	jobRepo repos.GenerationJobRepo
	fusionC fusion.Client

	resolver JobResolver

	maxJobAge   time.Duration
	aspectRatio string
	durationSec int
	parallelism int
}

func NewJobTrackerService(db *gorm.DB, log *logger.Logger, jobRepo repos.GenerationJobRepo, fusionC fusion.Client) JobTrackerService {
	return &jobTrackerService{
		db:          db,
		log:         log.With("service", "JobTrackerService"),
		jobRepo:     jobRepo,
		fusionC:     fusionC,
		maxJobAge:   48 * time.Hour,
		aspectRatio: "9:16",
		durationSec: 30,
		parallelism: 4,
	}
}

func (s *jobTrackerService) SetResolver(r JobResolver) {
	s.resolver = r
}

func (s *jobTrackerService) SubmitFusion(ctx context.Context, mission *types.Mission, prompt string, mediaURLs []string) (*types.GenerationJob, error) {
	if s.fusionC == nil {
		return nil, fmt.Errorf("fusion client not configured")
	}
	inputs := types.JobInputs{
		Prompt:      prompt,
		MediaURLs:   mediaURLs,
		AspectRatio: s.aspectRatio,
		DurationSec: s.durationSec,
	}
	handle, err := s.fusionC.Submit(ctx, fusion.SubmitRequest{
		Prompt:      inputs.Prompt,
		MediaURLs:   inputs.MediaURLs,
		AspectRatio: inputs.AspectRatio,
		DurationSec: inputs.DurationSec,
	})
	if err != nil {
		return nil, fmt.Errorf("fusion submit: %w", err)
	}
	rawInputs, _ := json.Marshal(inputs)
	job := &types.GenerationJob{
		Handle:    handle,
		MissionID: mission.ID,
		ChainID:   mission.ChainID,
		Inputs:    rawInputs,
		Status:    types.JobStatusPending,
	}
	if err := s.jobRepo.Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("record generation job: %w", err)
	}
	s.log.Info("Generation job submitted", "job_id", job.ID, "mission_id", mission.ID, "handle", handle)
	return job, nil
}

func (s *jobTrackerService) PollSweep(ctx context.Context) (*PollStats, error) {
	cutoff := time.Now().Add(-s.maxJobAge)
	jobs, err := s.jobRepo.ListPendingSince(ctx, nil, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}

	stats := &PollStats{Checked: len(jobs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			outcome, err := s.pollOne(gctx, job)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Errors++
				s.log.Warn("Job poll failed", "job_id", job.ID, "handle", job.Handle, "error", err)
			case outcome == types.JobStatusSucceeded:
				stats.Succeeded++
			case outcome == types.JobStatusFailed:
				stats.Failed++
			}
			// per-job errors never abort the sweep
			return nil
		})
	}
	_ = g.Wait()
	return stats, nil
}

// pollOne returns the status the job resolved to in this pass, or "" when
// it is still pending or another sweep resolved it first.
func (s *jobTrackerService) pollOne(ctx context.Context, job *types.GenerationJob) (string, error) {
	res, err := s.fusionC.Poll(ctx, job.Handle)
	if err != nil {
		return "", err
	}
	if !res.Done {
		return "", nil
	}

	now := time.Now()
	if res.Error != "" {
		resolved, err := s.jobRepo.Resolve(ctx, nil, job.ID, types.JobStatusFailed, nil, res.Error, now)
		if err != nil {
			return "", fmt.Errorf("resolve failed job: %w", err)
		}
		if !resolved {
			return "", nil
		}
		job.Status = types.JobStatusFailed
		job.Error = res.Error
		if s.resolver != nil {
			if err := s.resolver.HandleJobFailed(ctx, job); err != nil {
				return "", fmt.Errorf("failure side effects: %w", err)
			}
		}
		return types.JobStatusFailed, nil
	}

	output := types.JobOutput{
		MediaURL:    res.MediaURL,
		DurationSec: res.DurationSec,
		Watermarked: res.Watermarked,
	}
	rawOutput, _ := json.Marshal(output)
	resolved, err := s.jobRepo.Resolve(ctx, nil, job.ID, types.JobStatusSucceeded, rawOutput, "", now)
	if err != nil {
		return "", fmt.Errorf("resolve succeeded job: %w", err)
	}
	if !resolved {
		return "", nil
	}
	job.Status = types.JobStatusSucceeded
	job.Output = rawOutput
	if s.resolver != nil {
		if err := s.resolver.HandleJobSucceeded(ctx, job, output); err != nil {
			return "", fmt.Errorf("success side effects: %w", err)
		}
	}
	return types.JobStatusSucceeded, nil
}

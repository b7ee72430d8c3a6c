package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/clients/push"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/retryx"
)

// NotifierService fans a message out to a set of users. Best effort by
// contract: failures are logged and swallowed so a push outage can never
// block the transition that triggered the notification.
type NotifierService interface {
	Notify(ctx context.Context, userIDs []uuid.UUID, title, body string)
}

type notifierService struct {
	db       *gorm.DB
	log      *logger.Logger
	userRepo repos.UserRepo
	pushC    push.Client
}

func NewNotifierService(db *gorm.DB, log *logger.Logger, userRepo repos.UserRepo, pushC push.Client) NotifierService {
	return &notifierService{
		db:       db,
		log:      log.With("service", "NotifierService"),
		userRepo: userRepo,
		pushC:    pushC,
	}
}

func (s *notifierService) Notify(ctx context.Context, userIDs []uuid.UUID, title, body string) {
	if len(userIDs) == 0 || s.pushC == nil {
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	deduped := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}

	sent := retryx.Safe(s.log, "notification fan-out", 0, func() (int, error) {
		users, err := s.userRepo.GetByIDs(ctx, nil, deduped)
		if err != nil {
			return 0, err
		}
		tokens := make([]string, 0, len(users))
		for _, u := range users {
			if u.PushToken != "" {
				tokens = append(tokens, u.PushToken)
			}
		}
		return s.pushC.Send(ctx, tokens, title, body)
	})
	s.log.Debug("Notification fan-out finished", "recipients", len(deduped), "sent", sent, "title", title)
}

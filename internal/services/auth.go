package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/types"
	"github.com/yungbote/storychain-backend/internal/utils"
)

type AuthService interface {
	RegisterUser(ctx context.Context, email, password, displayName string) (*types.User, error)
	LoginUser(ctx context.Context, email, password string) (string, *types.User, error)
	ParseToken(tokenString string) (uuid.UUID, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error)
	UpdatePushToken(ctx context.Context, userID uuid.UUID, token string) error
	GetAccessTTL() time.Duration
}

type authService struct {
	db        *gorm.DB
	log       *logger.Logger
	userRepo  repos.UserRepo
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(db *gorm.DB, log *logger.Logger, userRepo repos.UserRepo) (AuthService, error) {
	serviceLog := log.With("service", "AuthService")
	secret := utils.GetEnv("JWT_SECRET", "", serviceLog)
	if secret == "" {
		return nil, fmt.Errorf("missing env var JWT_SECRET")
	}
	ttlHours := utils.GetEnvAsInt("JWT_ACCESS_TTL_HOURS", 72, serviceLog)
	return &authService{
		db:        db,
		log:       serviceLog,
		userRepo:  userRepo,
		jwtSecret: []byte(secret),
		accessTTL: time.Duration(ttlHours) * time.Hour,
	}, nil
}

func (s *authService) RegisterUser(ctx context.Context, email, password, displayName string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apierr.Validation("a valid email is required")
	}
	if len(password) < 8 {
		return nil, apierr.Validation("password must be at least 8 characters")
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, apierr.Validation("display_name is required")
	}
	existing, err := s.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.Conflict("email is already in use")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &types.User{
		Email:       email,
		Password:    string(hashed),
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := s.userRepo.Create(ctx, nil, user); err != nil {
		return nil, err
	}
	s.log.Info("User registered", "user_id", user.ID)
	return user, nil
}

func (s *authService) LoginUser(ctx context.Context, email, password string) (string, *types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, apierr.Unauthorized("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, apierr.Unauthorized("invalid email or password")
	}
	token, err := s.issueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *authService) issueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *authService) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, apierr.Unauthorized("invalid or expired token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, apierr.Unauthorized("token has no subject")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apierr.Unauthorized("token subject is not a user id")
	}
	return userID, nil
}

func (s *authService) GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierr.NotFound("user %s not found", userID)
	}
	return user, nil
}

func (s *authService) UpdatePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.userRepo.UpdatePushToken(ctx, nil, userID, token)
}

func (s *authService) GetAccessTTL() time.Duration {
	return s.accessTTL
}

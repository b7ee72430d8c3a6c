package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/storychain-backend/internal/logger"
)

type BucketService interface {
	// SignUpload returns a V4 signed PUT URL for key.
	SignUpload(ctx context.Context, key string, contentType string) (string, error)
	// SignRead returns a V4 signed GET URL for key.
	SignRead(ctx context.Context, key string) (string, error)
	GetPublicURL(key string) string
	// GCSURI returns the gs:// URI for key, the form the vision API expects.
	GCSURI(key string) string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	cdnDomain     string
	signTTL       time.Duration
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	bucket := os.Getenv("GCS_BUCKET_NAME")
	if bucket == "" {
		return nil, fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}
	cdnDomain := os.Getenv("CDN_DOMAIN")
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	ctx := context.Background()
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	} else {
		serviceLog.Warn("No explicit GCS credentials, relying on ADC")
	}
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("Failed to create storage client: %w", err)
	}
	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucket,
		cdnDomain:     cdnDomain,
		signTTL:       15 * time.Minute,
	}, nil
}

func (bs *bucketService) SignUpload(ctx context.Context, key string, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().Add(bs.signTTL),
		ContentType: contentType,
	}
	url, err := bs.storageClient.Bucket(bs.bucketName).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("Failed to sign upload URL for %q: %w", key, err)
	}
	return url, nil
}

func (bs *bucketService) SignRead(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(bs.signTTL),
	}
	url, err := bs.storageClient.Bucket(bs.bucketName).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("Failed to sign read URL for %q: %w", key, err)
	}
	return url, nil
}

func (bs *bucketService) GCSURI(key string) string {
	return fmt.Sprintf("gs://%s/%s", bs.bucketName, key)
}

func (bs *bucketService) GetPublicURL(key string) string {
	if bs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", bs.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, key)
}

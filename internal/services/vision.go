package services

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/yungbote/storychain-backend/internal/logger"
)

// VisionProviderService is the entry analysis collaborator: it extracts
// scene tags and color information the prompt builder and bridge
// evaluator consume later.
type VisionProviderService interface {
	AnnotateImageGCS(ctx context.Context, gcsURI string) (*ImageAnalysis, error)
	Close() error
}

type ImageAnalysis struct {
	Tags        []string `json:"tags"`
	Palette     []string `json:"palette"`
	DominantHue *float64 `json:"dominant_hue,omitempty"`
}

type visionProviderService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient

	maxTags  int
	maxColor int
	minScore float32
}

func NewVisionProviderService(log *logger.Logger) (VisionProviderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "VisionProviderService")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()
	opts := []option.ClientOption{}
	if creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}

	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &visionProviderService{
		log:      slog,
		client:   c,
		maxTags:  8,
		maxColor: 5,
		minScore: 0.6,
	}, nil
}

func (s *visionProviderService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionProviderService) AnnotateImageGCS(ctx context.Context, gcsURI string) (*ImageAnalysis, error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return nil, fmt.Errorf("gcsURI must be gs://... got %q", gcsURI)
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{
					Source: &visionpb.ImageSource{ImageUri: gcsURI},
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: int32(s.maxTags * 2)},
					{Type: visionpb.Feature_IMAGE_PROPERTIES},
				},
			},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return &ImageAnalysis{}, nil
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("vision annotate: %s", r.Error.Message)
	}

	out := &ImageAnalysis{}
	for _, label := range r.LabelAnnotations {
		if label.Score < s.minScore {
			continue
		}
		out.Tags = append(out.Tags, strings.ToLower(strings.TrimSpace(label.Description)))
		if len(out.Tags) >= s.maxTags {
			break
		}
	}

	if props := r.ImagePropertiesAnnotation; props != nil && props.DominantColors != nil {
		colors := props.DominantColors.Colors
		sort.Slice(colors, func(i, j int) bool {
			return colors[i].PixelFraction > colors[j].PixelFraction
		})
		for i, c := range colors {
			if i >= s.maxColor || c.Color == nil {
				break
			}
			out.Palette = append(out.Palette, rgbToHex(c.Color.GetRed(), c.Color.GetGreen(), c.Color.GetBlue()))
		}
		if len(colors) > 0 && colors[0].Color != nil {
			hue := rgbToHue(colors[0].Color.GetRed(), colors[0].Color.GetGreen(), colors[0].Color.GetBlue())
			out.DominantHue = &hue
		}
	}
	return out, nil
}

func rgbToHex(r, g, b float32) string {
	return fmt.Sprintf("#%02x%02x%02x", int(r), int(g), int(b))
}

// rgbToHue maps RGB (0-255) to the hue angle in degrees (0-360).
func rgbToHue(r, g, b float32) float64 {
	rf := float64(r) / 255.0
	gf := float64(g) / 255.0
	bf := float64(b) / 255.0
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min
	if delta == 0 {
		return 0
	}
	var hue float64
	switch max {
	case rf:
		hue = math.Mod((gf-bf)/delta, 6)
	case gf:
		hue = (bf-rf)/delta + 2
	default:
		hue = (rf-gf)/delta + 4
	}
	hue *= 60
	if hue < 0 {
		hue += 360
	}
	return hue
}

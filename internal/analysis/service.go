// Package analysis turns a photographed math problem into a structured
// ProblemAnalysis using a vision-capable model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/blob"
	"github.com/abhisek/mathbuddy/internal/llm"
	"github.com/abhisek/mathbuddy/internal/logger"
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

type Service struct {
	provider llm.Provider
	blobs    blob.Store
	cfg      Config
	log      *logger.Logger
}

// NewService creates an analysis service. blobs may be nil, in which case
// images are not retained.
func NewService(provider llm.Provider, blobs blob.Store, cfg Config, log *logger.Logger) *Service {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Service{provider: provider, blobs: blobs, cfg: cfg, log: log.With("service", "AnalysisService")}
}

// Analyze validates and stores the image, then asks the model for a
// structured analysis. Unparseable model output yields Placeholder().
func (s *Service) Analyze(ctx context.Context, owner string, img Image) (*Result, error) {
	if len(img.Data) == 0 {
		return nil, apperr.Validation("image is empty")
	}
	if len(img.Data) > s.cfg.MaxImageBytes {
		return nil, apperr.Validation("image is %d bytes, the limit is %d bytes", len(img.Data), s.cfg.MaxImageBytes)
	}
	mime := normalizeMime(img.MimeType, img.Data)
	if !allowedMimeTypes[mime] {
		return nil, apperr.Validation("unsupported image type %q", mime)
	}
	img.MimeType = mime

	result := &Result{}
	if s.blobs != nil {
		ref, err := s.blobs.Put(ctx, blob.ImageKey(owner, mime), img.Data, mime)
		if err != nil {
			s.log.Warn("failed to store problem image", "owner_id", owner, "error", err)
		} else {
			result.ImageRef = ref
		}
	}

	analysis, err := s.generate(ctx, img)
	if err != nil {
		return nil, apperr.Collaborator("analysis", err)
	}
	result.Analysis = analysis
	return result, nil
}

func (s *Service) generate(ctx context.Context, img Image) (ProblemAnalysis, error) {
	if s.provider == nil {
		return ProblemAnalysis{}, &llm.ErrProviderUnavailable{}
	}
	ctx = llm.WithPurpose(ctx, "analysis")
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		System: analysisSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: analysisUserPrompt,
			Images:  []llm.Image{{Data: img.Data, MimeType: img.MimeType}},
		}},
		Schema:      ProblemSchema,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}

	var raw json.RawMessage
	resp, err := s.provider.Generate(ctx, req)
	switch {
	case err == nil:
		raw = resp.Content
	case llm.InvalidContent(err) != nil:
		raw = llm.InvalidContent(err)
	default:
		var trunc *llm.ErrMaxTokensExceeded
		if !errors.As(err, &trunc) {
			return ProblemAnalysis{}, err
		}
		raw = trunc.Content
	}

	obj, ok := Repair(string(raw))
	if !ok {
		s.log.Warn("unrecoverable analysis response, returning placeholder", "bytes", len(raw))
		return Placeholder(), nil
	}
	a, ok := decode(obj)
	if !ok {
		s.log.Info("no readable problem in photo, returning placeholder")
		return Placeholder(), nil
	}
	return a, nil
}

func normalizeMime(declared string, data []byte) string {
	mime := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "image/jpg" {
		mime = "image/jpeg"
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return mime
}

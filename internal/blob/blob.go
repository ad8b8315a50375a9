// Package blob stores uploaded problem photos and hands back opaque
// references. The core never reads image bytes back except for retries.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when the reference does not resolve.
var ErrNotFound = errors.New("blob not found")

// Store puts and gets opaque objects.
type Store interface {
	// Put writes data under key and returns a reference for later Get.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// ImageKey builds the object key for a problem photo.
func ImageKey(ownerID, contentType string) string {
	return path.Join("problems", sanitize(ownerID), uuid.NewString()+extFor(contentType))
}

func extFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".bin"
	}
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "anonymous"
	}
	return s
}

// splitRef parses "<scheme>://<rest>".
func splitRef(ref, scheme string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("reference %q is not a %s reference", ref, scheme)
	}
	rest := strings.TrimPrefix(ref, prefix)
	if rest == "" || strings.Contains(rest, "..") {
		return "", fmt.Errorf("invalid reference %q", ref)
	}
	return rest, nil
}

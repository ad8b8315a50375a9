package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	ctx := context.Background()

	key := ImageKey("user-1", "image/jpeg")
	ref, err := s.Put(ctx, key, []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref != "local://"+key {
		t.Errorf("ref = %q", ref)
	}

	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "jpeg-bytes" {
		t.Errorf("got %q", got)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestLocalStoreRejectsForeignRefs(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	for _, ref := range []string{"gs://bucket/key", "local://../etc/passwd", "local://"} {
		if _, err := s.Get(context.Background(), ref); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want parse error", ref, err)
		}
	}
}

func TestImageKey(t *testing.T) {
	key := ImageKey("o/../x", "image/png")
	if !strings.HasPrefix(key, "problems/o____x/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("key = %q", key)
	}
	if k := ImageKey("", "application/octet-stream"); !strings.HasPrefix(k, "problems/anonymous/") || !strings.HasSuffix(k, ".bin") {
		t.Errorf("anonymous key = %q", k)
	}
}

func TestParseGCSRef(t *testing.T) {
	bucket, key, err := parseGCSRef(gcsRef("photos", "problems/u/1.jpg"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bucket != "photos" || key != "problems/u/1.jpg" {
		t.Errorf("bucket=%q key=%q", bucket, key)
	}
	for _, bad := range []string{"gs://photos", "gs:///key", "local://x"} {
		if _, _, err := parseGCSRef(bad); err == nil {
			t.Errorf("parseGCSRef(%q) should fail", bad)
		}
	}
}

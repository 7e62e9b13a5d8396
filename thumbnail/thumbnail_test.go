package thumbnail

import (
	"os"
	"path/filepath"
	"testing"
)

func TestThumbnailDisabledWhenNoDir(t *testing.T) {
	c := NewCache("", "convert")
	data, present, err := c.Thumbnail("/any/path.jpg")
	if err != nil || present || data != nil {
		t.Fatalf("Thumbnail() = (%v, %v, %v), want (nil, false, nil) when Dir is empty", data, present, err)
	}
}

func TestThumbnailServesCacheHit(t *testing.T) {
	cacheDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(cacheDir, "photo.thumb.jpeg"), []byte("thumb-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	c := NewCache(cacheDir, "convert")
	data, present, err := c.Thumbnail("/backing/photo.jpg")
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !present {
		t.Fatal("present = false, want true for a cached thumbnail")
	}
	if string(data) != "thumb-bytes" {
		t.Fatalf("data = %q, want %q", data, "thumb-bytes")
	}
}

func TestCachePathStripsExtension(t *testing.T) {
	c := NewCache("/cache", "convert")
	got := c.cachePath("/backing/IMG_0001.JPG")
	want := "/cache/IMG_0001.thumb.jpeg"
	if got != want {
		t.Fatalf("cachePath() = %q, want %q", got, want)
	}
}

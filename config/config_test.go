package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("Load(missing) = %+v, want %+v", cfg, want)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptpd.yml")
	yml := "modeldir: CUSTOM\nstorageid: 5\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelDir != "CUSTOM" {
		t.Errorf("ModelDir = %q, want CUSTOM", cfg.ModelDir)
	}
	if cfg.StorageID != 5 {
		t.Errorf("StorageID = %d, want 5", cfg.StorageID)
	}
	if cfg.ThumbnailTool != Default().ThumbnailTool {
		t.Errorf("ThumbnailTool = %q, want default %q preserved", cfg.ThumbnailTool, Default().ThumbnailTool)
	}
}

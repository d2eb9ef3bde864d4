package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxPixels != 50_000_000 {
		t.Fatalf("expected MaxPixels 50000000, got %d", cfg.MaxPixels)
	}
	if cfg.DownsampleBound != 2048 || cfg.ReducedQuality != 75 || cfg.DefaultQuality != 90 {
		t.Fatalf("unexpected codec defaults: %+v", cfg)
	}
	if cfg.MaxFileSize != 10<<20 || cfg.MaxFiles != 10 || cfg.MaxRequestSize != 1<<30 {
		t.Fatalf("unexpected limits: size=%d files=%d request=%d", cfg.MaxFileSize, cfg.MaxFiles, cfg.MaxRequestSize)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.WorkerCount)
	}
	if cfg.StorageMode != StorageTemp {
		t.Fatalf("expected temp storage, got %q", cfg.StorageMode)
	}
	want := ".jpg,.jpeg,.png,.bmp,.tiff,.heic,.webp"
	if got := strings.Join(cfg.AcceptedExtensions, ","); got != want {
		t.Fatalf("expected extensions %s, got %s", want, got)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected database disabled by default, got %q", cfg.DatabaseURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "MAX_FILES: 3\nDEFAULT_QUALITY: 70\nACCEPTED_EXTENSIONS: png, JPG\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_FILES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxFiles != 5 {
		t.Fatalf("expected env to win with 5, got %d", cfg.MaxFiles)
	}
	if cfg.DefaultQuality != 70 {
		t.Fatalf("expected file quality 70, got %d", cfg.DefaultQuality)
	}
	if got := strings.Join(cfg.AcceptedExtensions, ","); got != ".png,.jpg" {
		t.Fatalf("unexpected normalized extensions %q", got)
	}
}

func TestLoad_RejectsInvalidQuality(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DEFAULT_QUALITY", "101")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for quality 101")
	}
}

func TestLoad_RejectsUnknownStorageMode(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_MODE", "ftp")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for storage mode ftp")
	}
}

func TestDatabaseURL_KeyValueForm(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PASSWORD", "p@ss word")

	url := env{}.databaseURL()
	if !strings.HasPrefix(url, "host=db port=5432") {
		t.Fatalf("unexpected connection string %q", url)
	}
	if !strings.Contains(url, "password=p@ss word") {
		t.Fatalf("expected password in %q", url)
	}
}

func TestRequestLimit(t *testing.T) {
	cfg := &Config{MaxFiles: 2, MaxFileSize: 100, MaxRequestSize: 1 << 30}
	if got := cfg.RequestLimit(); got != 1<<30 {
		t.Fatalf("unexpected limit %d", got)
	}
	cfg.MaxRequestSize = 0
	if got := cfg.RequestLimit(); got != 0 {
		t.Fatalf("expected unlimited, got %d", got)
	}
}

func TestStatusKey(t *testing.T) {
	cfg := &Config{RedisPrefix: "app:"}
	if got := cfg.StatusKey("abc"); got != "app:conversion:status:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

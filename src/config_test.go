package img2img

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no mean", func(c *Config) { c.NormMean = nil }},
		{"mean std mismatch", func(c *Config) { c.NormMean = []float64{0.5, 0.5} }},
		{"zero std", func(c *Config) { c.NormStd = []float64{0.5, 0, 0.5} }},
		{"lr", func(c *Config) { c.LearningRate = 0 }},
		{"beta1", func(c *Config) { c.Beta1 = 1 }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"grid rows", func(c *Config) { c.GridRows = 0 }},
		{"grid padding", func(c *Config) { c.GridPadding = -1 }},
		{"sample dir", func(c *Config) { c.SampleDir = "" }},
		{"checkpoint every", func(c *Config) { c.Checkpoint.Every = -1 }},
		{"no checkpoint location", func(c *Config) { c.Checkpoint.Dir = "" }},
		{"no generator name", func(c *Config) { c.Checkpoint.Generator = "" }},
		{"cuda", func(c *Config) { c.Device = "cuda" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	c := DefaultConfig()
	c.NormMean, c.NormStd = []float64{0.5}, []float64{0.5, 0.5, 0.5}
	c.Checkpoint.Dir, c.Checkpoint.Bucket = "", "models"
	if err := c.Validate(); err != nil {
		t.Errorf("broadcast mean with S3 bucket: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.yaml")
	writeFile(t, path, `
learning_rate: 0.001
grid_rows: 2
norm_mean: [0.4]
norm_std: [0.2]
checkpoint:
  dir: ckpt
  every: 3
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LearningRate != 0.001 || cfg.GridRows != 2 {
		t.Errorf("file values not applied: lr=%v rows=%d", cfg.LearningRate, cfg.GridRows)
	}
	if len(cfg.NormMean) != 1 || cfg.NormMean[0] != 0.4 || cfg.NormStd[0] != 0.2 {
		t.Errorf("norm = %v / %v", cfg.NormMean, cfg.NormStd)
	}
	if cfg.Checkpoint.Dir != "ckpt" || cfg.Checkpoint.Every != 3 {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Checkpoint.Generator != "gen.pth.tar" || cfg.Beta1 != 0.5 || cfg.BatchSize != 16 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.yaml")
	writeFile(t, path, "learning_rate: 0.001\n")
	writeFile(t, filepath.Join(dir, ".env"), "IMG2IMG_BATCH_SIZE=8\nIMG2IMG_SEED=11\n")
	t.Cleanup(func() {
		os.Unsetenv("IMG2IMG_BATCH_SIZE")
		os.Unsetenv("IMG2IMG_SEED")
	})
	t.Setenv("IMG2IMG_LEARNING_RATE", "0.005")
	t.Setenv("IMG2IMG_CHECKPOINT_DIR", "/data/ckpt")
	t.Setenv("IMG2IMG_SEED", "7")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LearningRate != 0.005 {
		t.Errorf("LearningRate = %v, want env override 0.005", cfg.LearningRate)
	}
	if cfg.Checkpoint.Dir != "/data/ckpt" {
		t.Errorf("Checkpoint.Dir = %q", cfg.Checkpoint.Dir)
	}
	if cfg.BatchSize != 8 {
		t.Errorf("BatchSize = %d, want 8 from .env", cfg.BatchSize)
	}
	if cfg.Seed != 7 {
		t.Errorf("Seed = %d, environment must win over .env", cfg.Seed)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "learning_rate: -1\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestConfigApplyAndStore(t *testing.T) {
	prev := CurrentDevice()
	defer func() {
		UseDevice(prev)
		SetDebug(false)
	}()

	c := DefaultConfig()
	c.Workers = 2
	c.Debug = true
	if err := c.Apply(); err != nil {
		t.Fatal(err)
	}
	if CurrentDevice().Workers != 2 || !DebugMode {
		t.Errorf("workers=%d debug=%v", CurrentDevice().Workers, DebugMode)
	}

	c.Checkpoint.Dir = filepath.Join(t.TempDir(), "ckpt")
	store, err := c.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Errorf("store = %T, want *FileStore", store)
	}

	c.Checkpoint.Bucket, c.Checkpoint.Region = "models", "us-east-1"
	store, err = c.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	if s3s, ok := store.(*S3Store); !ok || s3s.Bucket != "models" {
		t.Errorf("store = %#v, want *S3Store for bucket models", store)
	}
}

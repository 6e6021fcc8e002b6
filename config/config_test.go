package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Vector.Dimension != cfg.Embedding.Dimension {
		t.Error("default dimensions must match")
	}
	if cfg.Behavior.BufferCapacity != 100 {
		t.Errorf("buffer capacity = %d, want 100", cfg.Behavior.BufferCapacity)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedkit.yaml")
	data := []byte(`
vector:
  base_url: http://qdrant:6333
  collection: items
  dimension: 768
embedding:
  dimension: 768
  model: my-model
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vector.Collection != "items" || cfg.Vector.Dimension != 768 {
		t.Errorf("overrides not applied: %+v", cfg.Vector)
	}
	if cfg.Embedding.Model != "my-model" {
		t.Errorf("embedding model = %s", cfg.Embedding.Model)
	}
	// 未覆盖的字段保持缺省
	if cfg.Engine.SimilarityWeight != 0.5 {
		t.Errorf("similarity weight = %v, want default 0.5", cfg.Engine.SimilarityWeight)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %s, want default", cfg.Redis.Addr)
	}
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedkit.yaml")
	data := []byte(`
vector:
  dimension: 1024
embedding:
  dimension: 768
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("mismatched dimensions must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPricing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := []byte(`
gpt-4o:
  input: 2.50
  output: 10.00
  cachedInput: 1.25
claude-3-5-haiku-20241022:
  input: 0.80
  output: 4.00
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing failed: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(table))
	}
	gpt := table["gpt-4o"]
	if gpt.Input != 2.5 || gpt.Output != 10 || gpt.CachedInput != 1.25 {
		t.Errorf("Unexpected gpt-4o pricing: %+v", gpt)
	}
	haiku := table["claude-3-5-haiku-20241022"]
	if haiku.CachedInput != 0 {
		t.Errorf("cachedInput should default to 0, got %v", haiku.CachedInput)
	}
}

func TestLoadPricing_MissingFile(t *testing.T) {
	if _, err := LoadPricing(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected an error for a missing pricing file")
	}
}

func TestGetListEnv(t *testing.T) {
	t.Setenv("TEST_LIST_ENV", "a, b ,c")
	got := getListEnv("TEST_LIST_ENV")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("getListEnv = %v", got)
	}

	t.Setenv("TEST_LIST_ENV", "")
	if got := getListEnv("TEST_LIST_ENV"); got != nil {
		t.Errorf("Empty env should yield nil, got %v", got)
	}
}

package scenario_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chattrain/chattrain/internal/scenario"
)

const validScenario = `id: billing-dispute
title: Handle a billing dispute
instruction: You are playing an upset customer charged twice.
expected_keywords:
  - refund
  - apologize
documents:
  - policy.txt
model:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.7
  max_tokens: 200
completion:
  min_exchanges: 5
  required_keywords:
    - refund
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "billing.yaml", validScenario)
	writeFile(t, dir, "policy.txt", "Refunds are issued within 5 business days.")

	store, err := scenario.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg, err := store.Get("billing-dispute")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cfg.Title != "Handle a billing dispute" {
		t.Errorf("title = %q", cfg.Title)
	}
	if len(store.List()) != 1 {
		t.Errorf("List() returned %d scenarios, want 1", len(store.List()))
	}

	docs := store.Documents()
	if len(docs) != 1 || docs[0].ScenarioID != "billing-dispute" {
		t.Fatalf("documents = %+v", docs)
	}
	if docs[0].Text == "" {
		t.Error("document text empty")
	}

	if _, err := store.Get("nope"); err == nil {
		t.Error("Get() of unknown scenario did not fail")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "s.yaml", `id: minimal
title: Minimal
instruction: Play a customer.
expected_keywords:
  - help
model:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.5
completion:
  required_keywords: []
`)

	store, err := scenario.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg, _ := store.Get("minimal")
	if cfg.Model.MaxTokens != 200 {
		t.Errorf("MaxTokens = %d, want default 200", cfg.Model.MaxTokens)
	}
	if cfg.Completion.MinExchanges != 5 {
		t.Errorf("MinExchanges = %d, want default 5", cfg.Completion.MinExchanges)
	}
}

func TestLoad_Failures(t *testing.T) {
	t.Run("missing required field", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "s.yaml", "id: broken\ntitle: Broken\n")
		if _, err := scenario.Load(dir); err == nil {
			t.Error("Load() accepted scenario without instruction")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", validScenario)
		writeFile(t, dir, "b.yaml", validScenario)
		writeFile(t, dir, "policy.txt", "text")
		if _, err := scenario.Load(dir); err == nil {
			t.Error("Load() accepted duplicate scenario id")
		}
	})

	t.Run("missing document", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", validScenario)
		if _, err := scenario.Load(dir); err == nil {
			t.Error("Load() accepted scenario referencing a missing document")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", "{{{not yaml")
		if _, err := scenario.Load(dir); err == nil {
			t.Error("Load() accepted malformed yaml")
		}
	})

	t.Run("empty dir loads empty store", func(t *testing.T) {
		store, err := scenario.Load(t.TempDir())
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(store.List()) != 0 {
			t.Errorf("List() = %d scenarios, want 0", len(store.List()))
		}
	})
}

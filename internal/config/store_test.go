package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "korah.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SeedsDefaults(t *testing.T) {
	store := openTestStore(t)

	value, err := store.Get(context.Background(), KeyLLMAPI)
	if err != nil {
		t.Fatalf("get %s: %v", KeyLLMAPI, err)
	}
	if value != APIOllama {
		t.Fatalf("expected default backend %q, got %q", APIOllama, value)
	}

	fmtValue, err := store.Get(context.Background(), KeyQueryFmt)
	if err != nil {
		t.Fatalf("get %s: %v", KeyQueryFmt, err)
	}
	if !strings.Contains(fmtValue, "{query}") || !strings.Contains(fmtValue, "{context}") {
		t.Fatalf("default query_fmt misses placeholders: %q", fmtValue)
	}
}

func TestStore_GetUnknownKey(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "no_such_key")
	if !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, KeyOllamaModel, "qwen2.5:7b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := store.Get(ctx, KeyOllamaModel)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "qwen2.5:7b" {
		t.Fatalf("expected overwritten value, got %q", value)
	}
}

func TestStore_ReopenKeepsValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "korah.db")
	ctx := context.Background()

	store, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(ctx, KeyNumTries, "5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	store.Close()

	store, err = Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	value, err := store.Get(ctx, KeyNumTries)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "5" {
		t.Fatalf("expected persisted value 5, got %q", value)
	}
}

func TestResolve_Defaults(t *testing.T) {
	store := openTestStore(t)

	cfg, err := Resolve(context.Background(), store, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.API != APIOllama {
		t.Fatalf("expected ollama, got %q", cfg.API)
	}
	if cfg.BaseURL != "http://localhost:11434" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.NumTries != 3 {
		t.Fatalf("expected 3 tries, got %d", cfg.NumTries)
	}
	if cfg.DoublePass {
		t.Fatal("double pass should default off")
	}
	if cfg.Timeout != 120*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Timeout)
	}
}

func TestResolve_APIOverride(t *testing.T) {
	store := openTestStore(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Resolve(context.Background(), store, APIOpenAI)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.API != APIOpenAI {
		t.Fatalf("expected open_ai, got %q", cfg.API)
	}
	if cfg.APIKey != "sk-test" {
		t.Fatalf("expected env-expanded key, got %q", cfg.APIKey)
	}
	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
}

func TestResolve_RejectsBadValues(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		key, value string
	}{
		{KeyNumTries, "0"},
		{KeyNumTries, "many"},
		{KeyDoublePass, "maybe"},
		{KeyTimeout, "-3s"},
		{KeyLLMAPI, "gemini"},
		{KeyQueryFmt, "no placeholders here"},
	}
	for _, tc := range cases {
		store := openTestStore(t)
		if err := store.Set(ctx, tc.key, tc.value); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := Resolve(ctx, store, ""); err == nil {
			t.Errorf("expected resolve to reject %s=%q", tc.key, tc.value)
		}
	}
}

func TestYAML_ExportImportRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, KeyOllamaModel, "mistral"); err != nil {
		t.Fatalf("set: %v", err)
	}

	var buf strings.Builder
	if err := Export(ctx, store, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	other := openTestStore(t)
	if err := Import(ctx, other, strings.NewReader(buf.String())); err != nil {
		t.Fatalf("import: %v", err)
	}
	value, err := other.Get(ctx, KeyOllamaModel)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "mistral" {
		t.Fatalf("expected imported value, got %q", value)
	}
}

func TestYAML_ImportRejectsUnknownKey(t *testing.T) {
	store := openTestStore(t)

	err := Import(context.Background(), store, strings.NewReader("llm.apii: ollama\n"))
	if err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

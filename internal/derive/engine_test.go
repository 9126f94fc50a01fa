package derive

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"korah/internal/config"
	"korah/internal/domain"
	"korah/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedProvider returns its responses in order, one per Chat call.
type scriptedProvider struct {
	responses []chatResult
	requests  []domain.ChatRequest
}

type chatResult struct {
	resp *domain.ChatResponse
	err  error
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return next.resp, next.err
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Healthy(ctx context.Context) error { return nil }

func callResponse(name string, args map[string]any) chatResult {
	return chatResult{resp: &domain.ChatResponse{
		ToolCalls: []domain.ToolCall{{Name: name, Arguments: args}},
	}}
}

func textResponse(content string) chatResult {
	return chatResult{resp: &domain.ChatResponse{Content: content}}
}

type grepTool struct{}

func (grepTool) Name() string        { return "grep_files" }
func (grepTool) Description() string { return "search file contents" }

func (grepTool) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        "grep_files",
		Description: "search file contents",
		Params: []domain.ParamSpec{
			{Name: "pattern", Kind: domain.KindRegex, Required: true},
		},
	}
}

func (grepTool) Search(ctx context.Context, args map[string]any) (<-chan any, error) {
	out := make(chan any)
	close(out)
	return out, nil
}

func testEngine(t *testing.T, provider domain.Provider, numTries int, doublePass bool) *Engine {
	t.Helper()
	registry := tool.NewRegistry(testLogger())
	registry.Register(grepTool{})
	cfg := &config.Resolved{
		QueryFmt:   "ctx {context} q {query}",
		NumTries:   numTries,
		DoublePass: doublePass,
		Timeout:    time.Second,
	}
	return New(provider, registry, cfg, testLogger())
}

func TestDerive_FirstAttemptSucceeds(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		callResponse("grep_files", map[string]any{"pattern": "gram"}),
	}}
	engine := testEngine(t, provider, 3, false)

	inv, err := engine.Derive(context.Background(), "processes like telegram")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if inv.Tool != "grep_files" {
		t.Fatalf("unexpected tool %q", inv.Tool)
	}
	if _, ok := inv.Args["pattern"].(*regexp.Regexp); !ok {
		t.Fatalf("arguments not coerced: %T", inv.Args["pattern"])
	}
	if len(provider.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(provider.requests))
	}
}

func TestDerive_RetriesUntilValid(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		textResponse("I think you want grep_files"),
		{err: errors.New("connection refused")},
		callResponse("grep_files", map[string]any{"pattern": "gram"}),
	}}
	engine := testEngine(t, provider, 3, false)

	inv, err := engine.Derive(context.Background(), "q")
	if err != nil {
		t.Fatalf("derive should recover on the third attempt: %v", err)
	}
	if inv.Tool != "grep_files" {
		t.Fatalf("unexpected tool %q", inv.Tool)
	}
	if len(provider.requests) != 3 {
		t.Fatalf("expected 3 sequential attempts, got %d", len(provider.requests))
	}
}

func TestDerive_ExhaustsBudget(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		textResponse("no call"),
		callResponse("rm_rf", nil),
		callResponse("grep_files", map[string]any{"pattern": "(bad"}),
	}}
	engine := testEngine(t, provider, 3, false)

	_, err := engine.Derive(context.Background(), "q")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, tool.ErrParameterType) {
		t.Fatalf("expected the final failure as reason, got %v", exhausted.Reason)
	}
	if len(provider.requests) != 3 {
		t.Fatalf("expected exactly the budget of requests, got %d", len(provider.requests))
	}
}

func TestDerive_RejectsUnknownTool(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		callResponse("rm_rf", nil),
	}}
	engine := testEngine(t, provider, 1, false)

	_, err := engine.Derive(context.Background(), "q")
	if !errors.Is(err, tool.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestDerive_RejectsMultipleCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		{resp: &domain.ChatResponse{ToolCalls: []domain.ToolCall{
			{Name: "grep_files", Arguments: map[string]any{"pattern": "a"}},
			{Name: "grep_files", Arguments: map[string]any{"pattern": "b"}},
		}}},
	}}
	engine := testEngine(t, provider, 1, false)

	_, err := engine.Derive(context.Background(), "q")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestDerive_DoublePass(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		callResponse("grep_files", nil),
		callResponse("grep_files", map[string]any{"pattern": "gram"}),
	}}
	engine := testEngine(t, provider, 3, true)

	inv, err := engine.Derive(context.Background(), "q")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if inv.Tool != "grep_files" {
		t.Fatalf("unexpected tool %q", inv.Tool)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(provider.requests))
	}

	// Pass one narrows the catalog to names, pass two sends the full schema
	// of the chosen tool only.
	firstProps := provider.requests[0].Tools[0].Parameters["properties"].(map[string]any)
	if len(firstProps) != 0 {
		t.Fatal("first pass should not carry parameter schemas")
	}
	secondProps := provider.requests[1].Tools[0].Parameters["properties"].(map[string]any)
	if _, ok := secondProps["pattern"]; !ok {
		t.Fatal("second pass should carry the chosen tool's schema")
	}
}

func TestDerive_DoublePassRejectsToolSwitch(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		callResponse("grep_files", nil),
		callResponse("other_tool", map[string]any{"pattern": "x"}),
	}}
	engine := testEngine(t, provider, 1, true)

	_, err := engine.Derive(context.Background(), "q")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Pass != "params" {
		t.Fatalf("expected the params pass to fail, got %q", exhausted.Pass)
	}
}

func TestDerive_CancelledContext(t *testing.T) {
	provider := &scriptedProvider{responses: []chatResult{
		textResponse("no call"),
		callResponse("grep_files", map[string]any{"pattern": "x"}),
	}}
	engine := testEngine(t, provider, 3, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Derive(ctx, "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(provider.requests) != 0 {
		t.Fatal("no attempt should run after cancellation")
	}
}

package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"korah/internal/config"
	"korah/internal/domain"
	"korah/internal/tool"
)

// ErrMalformedResponse marks a completion the engine could not interpret
// as a tool call. It is an attempt-level failure and is retried.
var ErrMalformedResponse = errors.New("malformed completion response")

// ExhaustedError is the terminal state of a derivation pass whose attempt
// budget ran out. Reason carries the final attempt's failure.
type ExhaustedError struct {
	Pass     string
	Attempts int
	Reason   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("derivation exhausted after %d attempts (%s pass): %v", e.Attempts, e.Pass, e.Reason)
}

func (e *ExhaustedError) Unwrap() error { return e.Reason }

// Engine turns a natural-language query into a validated tool invocation
// through one or two completion passes with bounded, sequential retries.
type Engine struct {
	provider domain.Provider
	registry *tool.Registry
	cfg      *config.Resolved
	logger   *slog.Logger
}

func New(provider domain.Provider, registry *tool.Registry, cfg *config.Resolved, logger *slog.Logger) *Engine {
	return &Engine{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Derive produces a validated invocation or an *ExhaustedError.
func (e *Engine) Derive(ctx context.Context, query string) (*domain.ToolInvocation, error) {
	prompt := RenderPrompt(e.cfg.QueryFmt, NewQueryContext(), query)
	if e.cfg.DoublePass {
		return e.deriveDouble(ctx, prompt)
	}
	return e.deriveSingle(ctx, prompt)
}

// deriveSingle sends the full catalog in one request and validates the
// returned call.
func (e *Engine) deriveSingle(ctx context.Context, prompt string) (*domain.ToolInvocation, error) {
	req := domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: prompt}},
		Tools:    e.registry.Definitions(),
	}

	var inv *domain.ToolInvocation
	err := e.runPass(ctx, "derive", req, func(resp *domain.ChatResponse) error {
		call, err := singleToolCall(resp)
		if err != nil {
			return err
		}
		validated, err := e.registry.Validate(call.Name, call.Arguments)
		if err != nil {
			return err
		}
		inv = validated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// deriveDouble first asks for just the tool name against a narrowed
// catalog, then for that tool's parameters against its schema alone. One
// extra round trip buys a smaller combined token footprint.
func (e *Engine) deriveDouble(ctx context.Context, prompt string) (*domain.ToolInvocation, error) {
	selectReq := domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: prompt}},
		Tools:    e.registry.NameOnlyDefinitions(),
	}

	var chosen domain.Tool
	err := e.runPass(ctx, "select", selectReq, func(resp *domain.ChatResponse) error {
		call, err := singleToolCall(resp)
		if err != nil {
			return err
		}
		t := e.registry.Get(call.Name)
		if t == nil {
			return fmt.Errorf("%w: %s", tool.ErrUnknownTool, call.Name)
		}
		chosen = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("selected tool", "tool", chosen.Name())

	paramsReq := domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: prompt}},
		Tools:    []domain.ToolDefinition{tool.Definition(chosen.Descriptor())},
	}

	var inv *domain.ToolInvocation
	err = e.runPass(ctx, "params", paramsReq, func(resp *domain.ChatResponse) error {
		call, err := singleToolCall(resp)
		if err != nil {
			return err
		}
		if call.Name != chosen.Name() {
			return fmt.Errorf("%w: called %s instead of %s", ErrMalformedResponse, call.Name, chosen.Name())
		}
		validated, err := e.registry.Validate(call.Name, call.Arguments)
		if err != nil {
			return err
		}
		inv = validated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// runPass is the per-pass attempt machine: up to NumTries strictly
// sequential completions, each bounded by the configured timeout. Backend
// errors and rejected payloads both count as failed attempts; cancellation
// of the parent context ends the pass immediately.
func (e *Engine) runPass(ctx context.Context, pass string, req domain.ChatRequest, accept func(*domain.ChatResponse) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.NumTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		resp, err := e.provider.Chat(attemptCtx, req)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("completion backend: %w", err)
			e.logger.Warn("derivation attempt failed", "pass", pass, "attempt", attempt, "err", err)
			continue
		}

		if err := accept(resp); err != nil {
			lastErr = err
			e.logger.Warn("derivation attempt rejected", "pass", pass, "attempt", attempt, "err", err)
			continue
		}
		return nil
	}
	return &ExhaustedError{Pass: pass, Attempts: e.cfg.NumTries, Reason: lastErr}
}

// singleToolCall expects exactly one tool call in the response.
func singleToolCall(resp *domain.ChatResponse) (*domain.ToolCall, error) {
	switch len(resp.ToolCalls) {
	case 1:
		return &resp.ToolCalls[0], nil
	case 0:
		return nil, fmt.Errorf("%w: no tool call in response", ErrMalformedResponse)
	default:
		return nil, fmt.Errorf("%w: %d tool calls in response", ErrMalformedResponse, len(resp.ToolCalls))
	}
}

package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"korah/internal/domain"
)

// Registry is the fixed catalog of search tools. It grounds the prompts
// (tool definitions) and validates derived invocations.
type Registry struct {
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

func (r *Registry) Get(name string) domain.Tool {
	return r.tools[name]
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every tool's full definition, for single-pass
// derivation and for the second pass of double-pass derivation.
func (r *Registry) Definitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		defs = append(defs, Definition(r.tools[name].Descriptor()))
	}
	return defs
}

// NameOnlyDefinitions returns definitions stripped to name and description.
// The first pass of double-pass derivation sends these to keep the token
// footprint small while the model picks a tool.
func (r *Registry) NameOnlyDefinitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return defs
}

// Validate checks a derived call against the catalog and returns the
// coerced invocation.
func (r *Registry) Validate(name string, args map[string]any) (*domain.ToolInvocation, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownTool, name, r.Names())
	}
	coerced, err := Coerce(t.Descriptor(), args)
	if err != nil {
		return nil, err
	}
	return &domain.ToolInvocation{Tool: name, Args: coerced}, nil
}

// Search dispatches a validated invocation to its tool.
func (r *Registry) Search(ctx context.Context, inv *domain.ToolInvocation) (<-chan any, error) {
	t := r.Get(inv.Tool)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, inv.Tool)
	}
	return t.Search(ctx, inv.Args)
}

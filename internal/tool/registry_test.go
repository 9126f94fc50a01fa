package tool

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"korah/internal/domain"
)

// stubTool records the args it was searched with and emits fixed records.
type stubTool struct {
	name    string
	records []any
	gotArgs map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }

func (s *stubTool) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        s.name,
		Description: "stub",
		Params: []domain.ParamSpec{
			{Name: "pattern", Kind: domain.KindRegex, Required: true},
		},
	}
}

func (s *stubTool) Search(ctx context.Context, args map[string]any) (<-chan any, error) {
	s.gotArgs = args
	out := make(chan any, len(s.records))
	for _, r := range s.records {
		out <- r
	}
	close(out)
	return out, nil
}

func TestRegistry_ValidateUnknownTool(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&stubTool{name: "stub"})

	_, err := r.Validate("nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistry_ValidateCoerces(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&stubTool{name: "stub"})

	inv, err := r.Validate("stub", map[string]any{"pattern": "gr.m"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if inv.Tool != "stub" {
		t.Fatalf("unexpected tool %q", inv.Tool)
	}
	if _, ok := inv.Args["pattern"].(*regexp.Regexp); !ok {
		t.Fatalf("expected compiled regex, got %T", inv.Args["pattern"])
	}
}

func TestRegistry_SearchDispatch(t *testing.T) {
	stub := &stubTool{name: "stub", records: []any{"a", "b"}}
	r := NewRegistry(testLogger())
	r.Register(stub)

	inv, err := r.Validate("stub", map[string]any{"pattern": "x"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	out, err := r.Search(context.Background(), inv)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got []any
	for r := range out {
		got = append(got, r)
	}
	if !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Fatalf("unexpected records %v", got)
	}
	if stub.gotArgs == nil {
		t.Fatal("stub never received args")
	}
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&stubTool{name: "beta"})
	r.Register(&stubTool{name: "alpha"})

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "beta" {
		t.Fatalf("expected sorted definitions, got %v", defs)
	}

	slim := r.NameOnlyDefinitions()
	for _, def := range slim {
		props := def.Parameters["properties"].(map[string]any)
		if len(props) != 0 {
			t.Fatalf("name-only definition %q leaks parameters", def.Name)
		}
	}
}

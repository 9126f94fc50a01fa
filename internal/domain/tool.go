package domain

import "context"

// Tool is the interface for the local search tools the model can invoke.
// Search returns a lazy stream of result records; the channel is closed when
// traversal finishes or ctx is cancelled. Each record marshals to one JSON
// object on output.
type Tool interface {
	Name() string
	Description() string
	Descriptor() ToolDescriptor
	Search(ctx context.Context, args map[string]any) (<-chan any, error)
}

// ParamKind classifies a tool parameter for coercion and validation.
type ParamKind int

const (
	KindString ParamKind = iota
	KindBool
	KindRegex   // RE2 regular expression
	KindPattern // glob (doublestar) or regular expression
	KindPath    // filesystem path; aliases and ~ are resolved
	KindNumber  // numeric bound (e.g. cpu percent)
	KindSize    // byte count, accepts humanized forms like "500MB"
	KindTime    // ISO 8601 instant without timezone
	KindPorts   // set of proto[:port] entries
	KindEnum
)

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Description string
	EnumValues  []string // for KindEnum
}

// ToolDescriptor is the static schema of one catalog tool. Ranges lists
// min/max parameter pairs that must satisfy min <= max once coerced.
type ToolDescriptor struct {
	Name        string
	Description string
	Params      []ParamSpec
	Ranges      [][2]string
}

// ToolInvocation is a validated, coerced call against a catalog tool.
type ToolInvocation struct {
	Tool string
	Args map[string]any
}

package tool

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"

	"korah/internal/domain"
)

// Validation failures. All of them are attempt-level: the derivation engine
// retries the completion rather than aborting on the first bad payload.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrParameterType    = errors.New("parameter type mismatch")
	ErrInvalidRange     = errors.New("invalid range")
)

// Definition renders a descriptor as the JSON-schema tool definition sent
// to the model.
func Definition(desc domain.ToolDescriptor) domain.ToolDefinition {
	props := make(map[string]any, len(desc.Params))
	var required []string
	for _, p := range desc.Params {
		prop := map[string]any{
			"type":        schemaType(p.Kind),
			"description": p.Description,
		}
		if p.Kind == domain.KindEnum {
			prop["enum"] = p.EnumValues
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return domain.ToolDefinition{
		Name:        desc.Name,
		Description: desc.Description,
		Parameters:  params,
	}
}

func schemaType(kind domain.ParamKind) string {
	switch kind {
	case domain.KindBool:
		return "boolean"
	case domain.KindNumber:
		return "number"
	default:
		return "string"
	}
}

// Coerce validates raw tool-call arguments against a descriptor and returns
// the canonical typed form. Unknown names are rejected, required parameters
// must be present, every value is converted to its declared kind, and each
// declared min/max pair must satisfy min <= max.
func Coerce(desc domain.ToolDescriptor, args map[string]any) (map[string]any, error) {
	specs := make(map[string]domain.ParamSpec, len(desc.Params))
	for _, p := range desc.Params {
		specs[p.Name] = p
	}

	coerced := make(map[string]any, len(args))
	for name, raw := range args {
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
		}
		if raw == nil {
			continue // explicit null means unset
		}
		value, err := coerceValue(spec, raw)
		if err != nil {
			return nil, err
		}
		coerced[name] = value
	}

	for _, p := range desc.Params {
		if p.Required {
			if _, ok := coerced[p.Name]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingParameter, p.Name)
			}
		}
	}

	for _, pair := range desc.Ranges {
		if err := checkRange(coerced, pair[0], pair[1]); err != nil {
			return nil, err
		}
	}

	return coerced, nil
}

func coerceValue(spec domain.ParamSpec, raw any) (any, error) {
	switch spec.Kind {
	case domain.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, typeErr(spec.Name, "string", raw)
		}
		return s, nil

	case domain.KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, typeErr(spec.Name, "boolean", raw)
			}
			return b, nil
		}
		return nil, typeErr(spec.Name, "boolean", raw)

	case domain.KindRegex:
		if re, ok := raw.(*regexp.Regexp); ok {
			return re, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, typeErr(spec.Name, "regex string", raw)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParameterType, spec.Name, err)
		}
		return re, nil

	case domain.KindPattern:
		if p, ok := raw.(*NamePattern); ok {
			return p, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, typeErr(spec.Name, "pattern string", raw)
		}
		return compileNamePattern(spec.Name, s)

	case domain.KindPath:
		s, ok := raw.(string)
		if !ok {
			return nil, typeErr(spec.Name, "path string", raw)
		}
		path, err := ResolvePath(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParameterType, spec.Name, err)
		}
		return path, nil

	case domain.KindNumber:
		f, ok := asFloat(raw)
		if !ok {
			return nil, typeErr(spec.Name, "number", raw)
		}
		return f, nil

	case domain.KindSize:
		switch v := raw.(type) {
		case uint64:
			return v, nil
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrParameterType, spec.Name, err)
			}
			return n, nil
		default:
			f, ok := asFloat(raw)
			if !ok || f < 0 {
				return nil, typeErr(spec.Name, "byte size", raw)
			}
			return uint64(f), nil
		}

	case domain.KindTime:
		if t, ok := raw.(time.Time); ok {
			return t, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, typeErr(spec.Name, "time string", raw)
		}
		t, err := parseInstant(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParameterType, spec.Name, err)
		}
		return t, nil

	case domain.KindPorts:
		if ports, ok := raw.([]PortSpec); ok {
			return ports, nil
		}
		ports, err := parsePorts(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParameterType, spec.Name, err)
		}
		return ports, nil

	case domain.KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, typeErr(spec.Name, "string", raw)
		}
		if !slices.Contains(spec.EnumValues, s) {
			return nil, fmt.Errorf("%w: %s: %q not in %v", ErrParameterType, spec.Name, s, spec.EnumValues)
		}
		return s, nil
	}
	return nil, typeErr(spec.Name, "value", raw)
}

func typeErr(name, want string, raw any) error {
	return fmt.Errorf("%w: %s: want %s, got %T", ErrParameterType, name, want, raw)
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// instantLayouts are the accepted forms of time parameters, ISO 8601 with
// the timezone-free forms the model most often produces.
var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseInstant(s string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func checkRange(coerced map[string]any, minKey, maxKey string) error {
	minVal, hasMin := coerced[minKey]
	maxVal, hasMax := coerced[maxKey]
	if !hasMin || !hasMax {
		return nil
	}

	ok := true
	switch lo := minVal.(type) {
	case uint64:
		ok = lo <= maxVal.(uint64)
	case float64:
		ok = lo <= maxVal.(float64)
	case time.Time:
		ok = !lo.After(maxVal.(time.Time))
	}
	if !ok {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, minKey, maxKey)
	}
	return nil
}

// NamePattern matches file names either as a doublestar glob or as a
// regular expression. A pattern containing glob metacharacters is treated
// as a glob; anything else compiles as a regex.
type NamePattern struct {
	glob string
	re   *regexp.Regexp
}

func compileNamePattern(param, s string) (*NamePattern, error) {
	if strings.ContainsAny(s, "*?[{") {
		if !doublestar.ValidatePattern(s) {
			return nil, fmt.Errorf("%w: %s: invalid glob %q", ErrParameterType, param, s)
		}
		return &NamePattern{glob: s}, nil
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParameterType, param, err)
	}
	return &NamePattern{re: re}, nil
}

func (p *NamePattern) Match(name string) bool {
	if p.glob != "" {
		ok, err := doublestar.Match(p.glob, name)
		return err == nil && ok
	}
	return p.re.MatchString(name)
}

// PortSpec is one requested {protocol, port} pair. Port zero means any
// bound port of that protocol.
type PortSpec struct {
	Proto string // "tcp" | "udp"
	Port  uint16
}

// parsePorts accepts "tcp:443", "udp:53", a bare protocol ("tcp"), a bare
// port number (tcp assumed), comma-separated strings, JSON arrays of the
// same, or plain numbers.
func parsePorts(raw any) ([]PortSpec, error) {
	switch v := raw.(type) {
	case string:
		var ports []PortSpec
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			spec, err := parsePortEntry(part)
			if err != nil {
				return nil, err
			}
			ports = append(ports, spec)
		}
		if len(ports) == 0 {
			return nil, fmt.Errorf("empty port set")
		}
		return ports, nil
	case []any:
		var ports []PortSpec
		for _, item := range v {
			sub, err := parsePorts(item)
			if err != nil {
				return nil, err
			}
			ports = append(ports, sub...)
		}
		if len(ports) == 0 {
			return nil, fmt.Errorf("empty port set")
		}
		return ports, nil
	default:
		f, ok := asFloat(raw)
		if !ok {
			return nil, fmt.Errorf("unrecognized port set %v", raw)
		}
		port, err := portNumber(f)
		if err != nil {
			return nil, err
		}
		return []PortSpec{{Proto: "tcp", Port: port}}, nil
	}
}

func parsePortEntry(s string) (PortSpec, error) {
	proto, portStr, found := strings.Cut(s, ":")
	proto = strings.ToLower(strings.TrimSpace(proto))
	if !found {
		if proto == "tcp" || proto == "udp" {
			return PortSpec{Proto: proto}, nil
		}
		f, err := strconv.ParseFloat(proto, 64)
		if err != nil {
			return PortSpec{}, fmt.Errorf("unrecognized port entry %q", s)
		}
		port, err := portNumber(f)
		if err != nil {
			return PortSpec{}, err
		}
		return PortSpec{Proto: "tcp", Port: port}, nil
	}
	if proto != "tcp" && proto != "udp" {
		return PortSpec{}, fmt.Errorf("unrecognized protocol %q", proto)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(portStr), 64)
	if err != nil {
		return PortSpec{}, fmt.Errorf("unrecognized port %q", portStr)
	}
	port, err := portNumber(f)
	if err != nil {
		return PortSpec{}, err
	}
	return PortSpec{Proto: proto, Port: port}, nil
}

func portNumber(f float64) (uint16, error) {
	if f != float64(uint16(f)) {
		return 0, fmt.Errorf("port %v out of range", f)
	}
	return uint16(f), nil
}

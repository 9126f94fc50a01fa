package tool

import (
	"regexp"
	"time"
)

// Accessors for canonical (coerced) argument maps. A missing key reads as
// the unset zero value; the ok result distinguishes unset from zero where
// that matters for filters.

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argRegexp(args map[string]any, key string) *regexp.Regexp {
	v, _ := args[key].(*regexp.Regexp)
	return v
}

func argPattern(args map[string]any, key string) *NamePattern {
	v, _ := args[key].(*NamePattern)
	return v
}

func argSize(args map[string]any, key string) (uint64, bool) {
	v, ok := args[key].(uint64)
	return v, ok
}

func argNumber(args map[string]any, key string) (float64, bool) {
	v, ok := args[key].(float64)
	return v, ok
}

func argTime(args map[string]any, key string) (time.Time, bool) {
	v, ok := args[key].(time.Time)
	return v, ok
}

func argPorts(args map[string]any, key string) []PortSpec {
	v, _ := args[key].([]PortSpec)
	return v
}

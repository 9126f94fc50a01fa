package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoValue is returned by Store.Get for absent keys.
var ErrNoValue = errors.New("no config value")

// Recognized store keys.
const (
	KeyAPIAddress    = "api_address"
	KeyLLMAPI        = "llm.api"
	KeyQueryFmt      = "llm.query_fmt"
	KeyTimeout       = "llm.timeout"
	KeyDoublePass    = "double_pass_derive"
	KeyNumTries      = "num_derive_tries"
	KeyOllamaBaseURL = "llm.ollama.base_url"
	KeyOllamaModel   = "llm.ollama.model"
	KeyOpenAIBaseURL = "llm.open_ai.base_url"
	KeyOpenAIModel   = "llm.open_ai.model"
	KeyOpenAIKey     = "llm.open_ai.key"
)

// Supported LLM backends.
const (
	APIOllama = "ollama"
	APIOpenAI = "open_ai"
)

const defaultQueryFmt = "You are a local system search assistant. " +
	"Derive exactly one tool call that answers the user's query. " +
	"Context: {context}\nQuery: {query}"

func defaultValues() map[string]string {
	return map[string]string{
		KeyAPIAddress:    "127.0.0.1:8420",
		KeyLLMAPI:        APIOllama,
		KeyQueryFmt:      defaultQueryFmt,
		KeyTimeout:       "120s",
		KeyDoublePass:    "false",
		KeyNumTries:      "3",
		KeyOllamaBaseURL: "http://localhost:11434",
		KeyOllamaModel:   "llama3.1:8b",
		KeyOpenAIBaseURL: "https://api.openai.com/v1",
		KeyOpenAIModel:   "gpt-4o-mini",
		KeyOpenAIKey:     "$OPENAI_API_KEY",
	}
}

// IsKnownKey reports whether key is one of the recognized store keys.
func IsKnownKey(key string) bool {
	_, ok := defaultValues()[key]
	return ok
}

// Resolved is the immutable configuration snapshot the rest of the program
// runs on. It is built once at startup and never mutated afterwards.
type Resolved struct {
	API        string // APIOllama | APIOpenAI
	BaseURL    string
	Model      string
	APIKey     string // env-expanded
	QueryFmt   string
	DoublePass bool
	NumTries   int
	Timeout    time.Duration
	APIAddress string
}

// Resolve reads the store into a snapshot, selecting the per-backend
// endpoint settings for the active API. A non-empty apiOverride replaces
// the stored backend choice without persisting it. Values for the API key
// are passed through os.ExpandEnv so the key itself can live in the
// environment.
func Resolve(ctx context.Context, store *Store, apiOverride string) (*Resolved, error) {
	values, err := store.All(ctx)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		API:        values[KeyLLMAPI],
		QueryFmt:   values[KeyQueryFmt],
		APIAddress: values[KeyAPIAddress],
	}
	if apiOverride != "" {
		r.API = apiOverride
	}

	switch r.API {
	case APIOllama:
		r.BaseURL = values[KeyOllamaBaseURL]
		r.Model = values[KeyOllamaModel]
	case APIOpenAI:
		r.BaseURL = values[KeyOpenAIBaseURL]
		r.Model = values[KeyOpenAIModel]
		r.APIKey = os.ExpandEnv(values[KeyOpenAIKey])
	default:
		return nil, fmt.Errorf("unknown %s %q (want %s or %s)", KeyLLMAPI, r.API, APIOllama, APIOpenAI)
	}

	r.NumTries, err = strconv.Atoi(values[KeyNumTries])
	if err != nil || r.NumTries < 1 {
		return nil, fmt.Errorf("%s must be a positive integer, got %q", KeyNumTries, values[KeyNumTries])
	}

	r.DoublePass, err = strconv.ParseBool(values[KeyDoublePass])
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean, got %q", KeyDoublePass, values[KeyDoublePass])
	}

	r.Timeout, err = time.ParseDuration(values[KeyTimeout])
	if err != nil || r.Timeout <= 0 {
		return nil, fmt.Errorf("%s must be a positive duration, got %q", KeyTimeout, values[KeyTimeout])
	}

	if !strings.Contains(r.QueryFmt, "{query}") {
		return nil, fmt.Errorf("%s must contain a {query} placeholder", KeyQueryFmt)
	}

	return r, nil
}

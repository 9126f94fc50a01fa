package derive

import (
	"encoding/json"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"korah/internal/tool"
)

// QueryContext is the grounding injected into the prompt template so the
// model can resolve informal references ("my desktop", "files from
// yesterday") to concrete values.
type QueryContext struct {
	OSName       string            `json:"os_name"`
	SystemLocale string            `json:"system_locale"`
	TimeNow      string            `json:"time_now"`
	Username     string            `json:"username"`
	PathAliases  map[string]string `json:"path_aliases"`
}

func NewQueryContext() QueryContext {
	return QueryContext{
		OSName:       runtime.GOOS,
		SystemLocale: systemLocale(),
		TimeNow:      time.Now().Format("2006-01-02T15:04:05"),
		Username:     username(),
		PathAliases:  tool.PathAliases(),
	}
}

func systemLocale() string {
	for _, env := range []string{"LC_ALL", "LANG"} {
		if v := os.Getenv(env); v != "" {
			locale, _, _ := strings.Cut(v, ".")
			return locale
		}
	}
	return "en-US"
}

func username() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// RenderPrompt substitutes the {context} and {query} placeholders of the
// configured template.
func RenderPrompt(queryFmt string, qc QueryContext, query string) string {
	contextJSON, err := json.Marshal(qc)
	if err != nil {
		contextJSON = []byte("{}")
	}
	replacer := strings.NewReplacer(
		"{context}", string(contextJSON),
		"{query}", query,
	)
	return replacer.Replace(queryFmt)
}

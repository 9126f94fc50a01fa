package tool

import (
	"path/filepath"
	"testing"
)

func TestPathAliases(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	aliases := PathAliases()
	if aliases["home"] != home {
		t.Fatalf("expected home alias %q, got %q", home, aliases["home"])
	}
	if aliases["desktop"] != filepath.Join(home, "Desktop") {
		t.Fatalf("unexpected desktop alias %q", aliases["desktop"])
	}
	for _, name := range []string{"documents", "downloads"} {
		if aliases[name] == "" {
			t.Fatalf("missing alias %q", name)
		}
	}
}

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cases := []struct {
		in, want string
	}{
		{"Desktop", filepath.Join(home, "Desktop")},
		{" downloads ", filepath.Join(home, "Downloads")},
		{"~/Videos", filepath.Join(home, "Videos")},
		{"~", home},
		{"/var/log", "/var/log"},
	}
	for _, tc := range cases {
		got, err := ResolvePath(tc.in)
		if err != nil {
			t.Errorf("ResolvePath(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	abs, err := ResolvePath("some/relative")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if !filepath.IsAbs(abs) {
		t.Fatalf("expected absolute path, got %q", abs)
	}
}

// Package guidance loads shop-specific translation guidance (brand voice and
// per-locale glossaries) and injects it into system prompts.
package guidance

import (
	"os"
	"path/filepath"
	"strings"
)

// Loader reads guidance files from the guidance directory:
//
//	STYLE.md            applies to every language pair
//	glossary/<lang>.md  applies when translating into <lang>
type Loader struct {
	dir string
}

// NewLoader creates a Loader pointing to the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadStyle reads STYLE.md.
func (l *Loader) LoadStyle() string {
	return l.readFile("STYLE.md")
}

// LoadGlossary reads the glossary of a target locale. "pt-BR" falls back to
// "pt" when no regional file exists.
func (l *Loader) LoadGlossary(locale string) string {
	safe := sanitizeName(locale)
	if safe == "" {
		return ""
	}
	if g := l.readFile(filepath.Join("glossary", safe+".md")); g != "" {
		return g
	}
	if base, _, ok := strings.Cut(safe, "-"); ok {
		return l.readFile(filepath.Join("glossary", base+".md"))
	}
	return ""
}

// ListGlossaries returns the locales that have a glossary file.
func (l *Loader) ListGlossaries() []string {
	entries, err := os.ReadDir(filepath.Join(l.dir, "glossary"))
	if err != nil {
		return nil
	}
	var locales []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			locales = append(locales, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	return locales
}

func (l *Loader) readFile(name string) string {
	b, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func sanitizeName(name string) string {
	var out strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

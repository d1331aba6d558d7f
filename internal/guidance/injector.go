package guidance

import (
	"log"
	"strings"
)

// Injector holds a snapshot of the guidance files taken at construction.
// Prompt token counts are cached per language pair, so the text must not
// change while the service runs; restart to pick up edits.
type Injector struct {
	style    string
	glossary map[string]string
}

// NewInjector reads every guidance file once.
func NewInjector(loader *Loader) *Injector {
	inj := &Injector{style: loader.LoadStyle(), glossary: make(map[string]string)}
	for _, locale := range loader.ListGlossaries() {
		inj.glossary[locale] = loader.LoadGlossary(locale)
	}
	if inj.style != "" || len(inj.glossary) > 0 {
		log.Printf("guidance: style=%t glossaries=%d", inj.style != "", len(inj.glossary))
	}
	return inj
}

// Build returns the guidance for translating into targetLocale, or "" when
// there is none. Sections are joined with "\n\n---\n\n".
func (inj *Injector) Build(sourceLocale, targetLocale string) string {
	if inj == nil {
		return ""
	}
	var parts []string
	add := func(label, content string) {
		if content == "" {
			return
		}
		parts = append(parts, "# "+label+"\n\n"+content)
	}

	// 1. Brand voice
	add("STYLE GUIDE", inj.style)

	// 2. Target glossary, regional first
	g, ok := inj.glossary[targetLocale]
	if !ok {
		if base, _, cut := strings.Cut(targetLocale, "-"); cut {
			g = inj.glossary[base]
		}
	}
	add("GLOSSARY ("+sourceLocale+" → "+targetLocale+")", g)

	return strings.Join(parts, "\n\n---\n\n")
}

package guidance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "STYLE.md"), "Friendly, informal.\n")
	writeFile(t, filepath.Join(dir, "glossary", "pt.md"), "cart = carrinho")
	writeFile(t, filepath.Join(dir, "glossary", "fr.md"), "cart = panier")

	l := NewLoader(dir)
	assert.Equal(t, "Friendly, informal.", l.LoadStyle())
	assert.Equal(t, "cart = panier", l.LoadGlossary("fr"))
	assert.Equal(t, "cart = carrinho", l.LoadGlossary("pt-BR"), "regional falls back to base")
	assert.Empty(t, l.LoadGlossary("de"))
	assert.Empty(t, l.LoadGlossary("../STYLE"), "path components are stripped")
	assert.ElementsMatch(t, []string{"fr", "pt"}, l.ListGlossaries())
}

func TestInjector_Build(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "STYLE.md"), "Friendly.")
	writeFile(t, filepath.Join(dir, "glossary", "fr.md"), "cart = panier")

	inj := NewInjector(NewLoader(dir))
	assert.Equal(t, "# STYLE GUIDE\n\nFriendly.\n\n---\n\n# GLOSSARY (en → fr)\n\ncart = panier", inj.Build("en", "fr"))
	assert.Equal(t, "# STYLE GUIDE\n\nFriendly.\n\n---\n\n# GLOSSARY (en → fr-CA)\n\ncart = panier", inj.Build("en", "fr-CA"))
	assert.Equal(t, "# STYLE GUIDE\n\nFriendly.", inj.Build("en", "de"))

	// Edits after start are not seen.
	writeFile(t, filepath.Join(dir, "STYLE.md"), "Formal.")
	assert.Contains(t, inj.Build("en", "de"), "Friendly.")
}

func TestInjector_Empty(t *testing.T) {
	assert.Empty(t, NewInjector(NewLoader(t.TempDir())).Build("en", "fr"))
	var inj *Injector
	assert.Empty(t, inj.Build("en", "fr"))
}

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assemblers(t *testing.T) map[Strategy]*Assembler {
	t.Helper()
	out := map[Strategy]*Assembler{}
	for _, opts := range []Options{
		{Strategy: Single, Separator: "\n<<<SEP>>>\n"},
		{Strategy: Pair, PairStart: "<seg>", PairEnd: "</seg>"},
		{Strategy: JSON},
	} {
		a, err := New(opts)
		require.NoError(t, err)
		out[opts.Strategy] = a
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	cases := [][]string{
		{"Hello"},
		{""},
		{"", "World", ""},
		{"Hello", "World"},
		{"<p>Welcome to <b>our</b> store</p>", "{{ product.title }}", "Price: $10 & up"},
		{"line one\nline two", "  padded  ", "quote \" and backslash \\"},
		{"你好", "Grüße", "emoji 🎉"},
	}
	for strategy, a := range assemblers(t) {
		for _, xs := range cases {
			assert.Equal(t, xs, a.Split(a.Assemble(xs)), "%s %q", strategy, xs)
		}
	}
}

func TestAssemble_JSONKeepsHTMLUnescaped(t *testing.T) {
	a, err := New(Options{Strategy: JSON})
	require.NoError(t, err)
	assert.Equal(t, `{"segments":["<b>a</b> & b"]}`, a.Assemble([]string{"<b>a</b> & b"}))
}

func TestSplit_JSONTolerance(t *testing.T) {
	a, err := New(Options{Strategy: JSON})
	require.NoError(t, err)

	fenced := "```json\n{\"segments\": [\"Bonjour\", \"Monde\"]}\n```"
	assert.Equal(t, []string{"Bonjour", "Monde"}, a.Split(fenced))
	assert.Equal(t, []string{"Bonjour"}, a.Split(`["Bonjour"]`))

	out := a.Split("sorry, I cannot help with that")
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Empty(t, a.Split(`{"segments": [`))
}

func TestSplit_PairIgnoresNoise(t *testing.T) {
	a, err := New(Options{Strategy: Pair, PairStart: "<seg>", PairEnd: "</seg>"})
	require.NoError(t, err)
	reply := "Here you go:\n<seg>Bonjour</seg>\n<seg>Le\nmonde</seg>\n"
	assert.Equal(t, []string{"Bonjour", "Le\nmonde"}, a.Split(reply))
}

func TestSplit_SingleEmpty(t *testing.T) {
	a, err := New(Options{Strategy: Single, Separator: "|||"})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, a.Split(""))
	assert.Equal(t, []string{"", ""}, a.Split("|||"))
}

func TestCheck(t *testing.T) {
	as := assemblers(t)
	assert.ErrorIs(t, as[Single].Check("a\n<<<SEP>>>\nb"), ErrSeparatorCollision)
	assert.NoError(t, as[Single].Check("a <<<SEP>>> b"))
	assert.ErrorIs(t, as[Pair].Check("uses </seg> literally"), ErrSeparatorCollision)
	assert.NoError(t, as[JSON].Check(`{"segments": ["x"]}`))
}

func TestOverhead(t *testing.T) {
	as := assemblers(t)
	assert.Equal(t, Overhead{Between: "\n<<<SEP>>>\n"}, as[Single].Overhead())
	assert.Equal(t, Overhead{Item: "<seg></seg>"}, as[Pair].Overhead())
	assert.Equal(t, Overhead{Once: `{"segments":[]}`}, as[JSON].Overhead())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Options{Strategy: Single})
	assert.Error(t, err)
	_, err = New(Options{Strategy: Pair, PairStart: "<"})
	assert.Error(t, err)
	_, err = New(Options{Strategy: "xml"})
	assert.Error(t, err)
}

func TestSystemPrompt(t *testing.T) {
	as := assemblers(t)

	p := as[Pair].SystemPrompt("en", "fr")
	assert.Contains(t, p, "from English to French")
	assert.Contains(t, p, "<seg>text</seg>")

	p = as[Single].SystemPrompt("en", "pt-BR")
	assert.Contains(t, p, "Brazilian Portuguese")
	assert.Contains(t, p, `"<<<SEP>>>"`)

	p = as[JSON].SystemPrompt("de", "ja")
	assert.Contains(t, p, `{"segments": [...]}`)
}

func TestSystemPrompt_Guidance(t *testing.T) {
	a, err := New(Options{Strategy: JSON, Guidance: func(src, tgt string) string {
		if tgt == "fr" {
			return "cart = panier"
		}
		return ""
	}})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(a.SystemPrompt("en", "fr"), "guidance below.\n\ncart = panier"))
	assert.NotContains(t, a.SystemPrompt("en", "de"), "guidance")
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "French", LanguageName("fr"))
	assert.Equal(t, "Canadian French", LanguageName("fr_ca"))
	assert.Equal(t, "German", LanguageName("de-AT"))
	assert.Equal(t, "Simplified Chinese", LanguageName("zh"))
	assert.Equal(t, "tlh", LanguageName("tlh"))
}

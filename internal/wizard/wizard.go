// Package wizard provides the interactive terminal prompts of
// `shoptrans provider add` and `shoptrans apikey --set`.
package wizard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/lizhenmiao/shopify-translation/internal/db"
)

// presetSpec describes a known OpenAI-compatible provider.
type presetSpec struct {
	Name    string
	BaseURL string
	Models  []modelSpec
}

// modelSpec describes a single model option.
type modelSpec struct {
	ID          string
	Description string
	Recommended bool
}

// knownPresets is the built-in list offered by the provider wizard.
var knownPresets = []presetSpec{
	{
		Name:    "openai",
		BaseURL: "https://api.openai.com/v1",
		Models: []modelSpec{
			{ID: "gpt-4o-mini", Description: "cheap, good quality", Recommended: true},
			{ID: "gpt-4o", Description: "best quality"},
		},
	},
	{
		Name:    "gemini",
		BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
		Models: []modelSpec{
			{ID: "gemini-2.0-flash", Description: "generous free tier", Recommended: true},
			{ID: "gemini-1.5-pro", Description: "long context"},
		},
	},
	{
		Name:    "groq",
		BaseURL: "https://api.groq.com/openai/v1",
		Models: []modelSpec{
			{ID: "llama-3.3-70b-versatile", Description: "fast", Recommended: true},
		},
	},
	{
		Name:    "deepseek",
		BaseURL: "https://api.deepseek.com/v1",
		Models: []modelSpec{
			{ID: "deepseek-chat", Recommended: true},
		},
	},
}

const maxLimit = 1<<31 - 1

// Prompter reads answers from a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// ReadSecret reads a line without echo.
	ReadSecret func() (string, error)
}

// NewTerminal returns a Prompter on stdin/stdout. Secrets are read without
// echo when stdin is a terminal.
func NewTerminal() *Prompter {
	p := New(os.Stdin, os.Stdout)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p.ReadSecret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(p.out)
			if err != nil {
				return "", fmt.Errorf("wizard: read secret: %w", err)
			}
			return strings.TrimSpace(string(b)), nil
		}
	}
	return p
}

// New returns a Prompter reading from in and writing to out. Secrets are
// read as plain lines.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out}
	p.ReadSecret = func() (string, error) {
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("wizard: read secret: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	return p
}

// Secret asks for a value that must not be echoed.
func (p *Prompter) Secret(label string) (string, error) {
	fmt.Fprintf(p.out, "  %s: ", label)
	return p.ReadSecret()
}

// Provider fills the empty fields of seed interactively and returns the
// completed provider. Limits already set (non-zero) are not asked again.
func (p *Prompter) Provider(seed db.Provider) (db.Provider, error) {
	prov := seed
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, c("\033[33m", "━━━  NEW TRANSLATION PROVIDER  ━━━━━━━━━━━━━━━━━━━"))
	fmt.Fprintln(p.out)

	var preset *presetSpec
	if prov.BaseURL == "" {
		for i, ps := range knownPresets {
			fmt.Fprintf(p.out, "  %d) %-10s %s\n", i+1, ps.Name, ps.BaseURL)
		}
		fmt.Fprintf(p.out, "  %d) custom\n", len(knownPresets)+1)
		choice := p.promptInt("Provider", 1, len(knownPresets)+1, 1)
		if choice <= len(knownPresets) {
			preset = &knownPresets[choice-1]
			prov.BaseURL = preset.BaseURL
		} else {
			prov.BaseURL = p.prompt("Base URL", "")
		}
	}
	if prov.Name == "" {
		def := ""
		if preset != nil {
			def = preset.Name
		}
		prov.Name = p.prompt(labelWithDefault("Name", def), def)
	}
	if prov.Model == "" {
		def := ""
		if preset != nil {
			for _, m := range preset.Models {
				mark := ""
				if m.Recommended {
					mark = c("\033[32m", " (recommended)")
					def = m.ID
				}
				fmt.Fprintf(p.out, "     %s  %s%s\n", m.ID, m.Description, mark)
			}
		}
		prov.Model = p.prompt(labelWithDefault("Model", def), def)
	}
	if prov.APIKey == "" {
		key, err := p.Secret("API key")
		if err != nil {
			return db.Provider{}, err
		}
		prov.APIKey = key
	}
	if prov.RequestsPerMinute == 0 {
		prov.RequestsPerMinute = p.promptInt("Requests per minute (0 = unlimited)", 0, maxLimit, 0)
	}
	if prov.TokensPerMinute == 0 {
		prov.TokensPerMinute = p.promptInt("Tokens per minute (0 = unlimited)", 0, maxLimit, 0)
	}
	if prov.RequestsPerDay == 0 {
		prov.RequestsPerDay = p.promptInt("Requests per day (0 = unlimited)", 0, maxLimit, 0)
	}
	if prov.TokensPerDay == 0 {
		prov.TokensPerDay = p.promptInt("Tokens per day (0 = unlimited)", 0, maxLimit, 0)
	}

	if prov.Name == "" || prov.BaseURL == "" || prov.Model == "" {
		return db.Provider{}, fmt.Errorf("wizard.Provider: name, base URL and model are required")
	}
	if prov.ProviderType == "" {
		prov.ProviderType = "openai"
	}
	prov.IsActive = true
	return prov, nil
}

func labelWithDefault(label, def string) string {
	if def == "" {
		return label
	}
	return fmt.Sprintf("%s [%s]", label, def)
}

// ── Input helpers ─────────────────────────────────────────────────────────────

func (p *Prompter) prompt(label, defaultVal string) string {
	fmt.Fprintf(p.out, "  %s: ", label)
	line, _ := p.in.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return defaultVal
	}
	return strings.TrimSpace(line)
}

func (p *Prompter) promptInt(label string, min, max, defaultVal int) int {
	for i := 0; ; i++ {
		s := p.prompt(label, strconv.Itoa(defaultVal))
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil && n >= min && n <= max {
			return n
		}
		// Input exhausted: take the default instead of looping forever.
		if i > 2 {
			return defaultVal
		}
		fmt.Fprintf(p.out, "  Enter a number between %d and %d.\n", min, max)
	}
}

func supportsColor() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func c(ansi, text string) string {
	if !supportsColor() {
		return text
	}
	return ansi + text + "\033[0m"
}

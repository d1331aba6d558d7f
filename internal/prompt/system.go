package prompt

import (
	"strings"
	"text/template"
)

const basePrompt = `You are a professional translator specializing in HTML and Liquid syntax. ` +
	`Translate from {{.Source}} to {{.Target}}. Preserve HTML tags, Liquid tags, placeholders ` +
	`and special markers exactly as they appear. Keep the tone, context and formatting of the ` +
	`original while reading naturally in {{.Target}}. Do not add explanations.`

var framingTemplates = map[Strategy]*template.Template{
	Single: template.Must(template.New("single").Parse(basePrompt + `

The input contains several independent segments separated by the line {{printf "%q" .Separator}}. ` +
		`Translate every segment and return them in the same order, separated by exactly the same line. ` +
		`Return the same number of segments you received.`)),
	Pair: template.Must(template.New("pair").Parse(basePrompt + `

Each segment is wrapped as {{.Start}}text{{.End}}. Translate the text inside every wrapper and return ` +
		`each translation wrapped the same way, in the same order. Return the same number of segments you received.`)),
	JSON: template.Must(template.New("json").Parse(basePrompt + `

The input is a JSON object {"segments": [...]}. Return only a JSON object of the same shape whose ` +
		`"segments" array holds the translations in the same order and with the same length.`)),
}

// SystemPrompt renders the instruction text for a language pair under the
// active framing strategy.
func (a *Assembler) SystemPrompt(sourceLocale, targetLocale string) string {
	data := struct {
		Source, Target string
		Separator      string
		Start, End     string
	}{
		Source:    LanguageName(sourceLocale),
		Target:    LanguageName(targetLocale),
		Separator: strings.Trim(a.sep, "\n"),
		Start:     a.start,
		End:       a.end,
	}
	var b strings.Builder
	if err := framingTemplates[a.strategy].Execute(&b, data); err != nil {
		// Templates are static; a failure here is a programming error.
		panic("prompt.SystemPrompt: " + err.Error())
	}
	if a.guidance != nil {
		if g := a.guidance(sourceLocale, targetLocale); g != "" {
			b.WriteString("\n\nFollow the shop's guidance below.\n\n")
			b.WriteString(g)
		}
	}
	return b.String()
}

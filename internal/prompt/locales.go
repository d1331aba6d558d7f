package prompt

import "strings"

// languageNames maps Shopify locale codes to English display names used in
// the system prompt. Variants fall back to their base language.
var languageNames = map[string]string{
	"ar":    "Arabic",
	"bg":    "Bulgarian",
	"cs":    "Czech",
	"da":    "Danish",
	"de":    "German",
	"el":    "Greek",
	"en":    "English",
	"en-GB": "British English",
	"es":    "Spanish",
	"es-MX": "Mexican Spanish",
	"fi":    "Finnish",
	"fr":    "French",
	"fr-CA": "Canadian French",
	"he":    "Hebrew",
	"hi":    "Hindi",
	"hr":    "Croatian",
	"hu":    "Hungarian",
	"id":    "Indonesian",
	"it":    "Italian",
	"ja":    "Japanese",
	"ko":    "Korean",
	"lt":    "Lithuanian",
	"ms":    "Malay",
	"nb":    "Norwegian Bokmål",
	"nl":    "Dutch",
	"pl":    "Polish",
	"pt-BR": "Brazilian Portuguese",
	"pt-PT": "European Portuguese",
	"ro":    "Romanian",
	"ru":    "Russian",
	"sk":    "Slovak",
	"sl":    "Slovenian",
	"sv":    "Swedish",
	"th":    "Thai",
	"tr":    "Turkish",
	"uk":    "Ukrainian",
	"vi":    "Vietnamese",
	"zh-CN": "Simplified Chinese",
	"zh-TW": "Traditional Chinese",
}

func canonicalLocale(code string) string {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	parts := strings.SplitN(code, "-", 2)
	if len(parts) == 2 {
		return strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[1])
	}
	return strings.ToLower(code)
}

// LanguageName resolves a locale code to a human-readable language name.
// Unknown codes are returned unchanged.
func LanguageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	c := canonicalLocale(code)
	if n, ok := languageNames[c]; ok {
		return n
	}
	if base, _, found := strings.Cut(c, "-"); found {
		if n, ok := languageNames[base]; ok {
			return n
		}
	}
	if c == "zh" {
		return languageNames["zh-CN"]
	}
	return code
}

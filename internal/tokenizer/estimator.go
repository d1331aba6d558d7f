// Package tokenizer counts model tokens with cached per-model encoders and a
// character-based fallback estimate.
package tokenizer

import "unicode/utf8"

// EstimateTokens approximates the token count of text as
// ceil(chars * 0.25 * 1.2): roughly four characters per token with a 20%
// safety margin. Used whenever no encoder is available for a model.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	// ceil(n * 3 / 10) in integer arithmetic.
	return (3*n + 9) / 10
}

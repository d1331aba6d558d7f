// Package filter decides which source strings are not worth translating.
package filter

import (
	"regexp"
	"strings"
)

// ExclusionMarker anywhere in the content opts it out of translation.
const ExclusionMarker = "notranslate"

// Skip reasons reported by Reason.
const (
	ReasonEmpty       = "empty"
	ReasonReference   = "platform_reference"
	ReasonNumeric     = "numeric"
	ReasonDateFormat  = "date_format"
	ReasonReservedKey = "reserved_key"
	ReasonSocialLink  = "social_link"
	ReasonTitle       = "product_title"
	ReasonWidget      = "widget_markup"
	ReasonMarker      = "exclusion_marker"
)

// emptyValues are stored values that mean "no content" once trimmed. Some
// theme exports serialise missing values as these literals.
var emptyValues = map[string]struct{}{
	"":          {},
	"null":      {},
	"undefined": {},
	"NaN":       {},
}

var referencePrefixes = []string{"gid://shopify/", "shopify://"}

var reservedKeys = map[string]struct{}{
	"handle":  {},
	"email":   {},
	"phone":   {},
	"url":     {},
	"sku":     {},
	"barcode": {},
}

var dateFormats = map[string]struct{}{
	"YYYY-MM-DD":  {},
	"MM/DD/YYYY":  {},
	"DD/MM/YYYY":  {},
	"DD.MM.YYYY":  {},
	"YYYY/MM/DD":  {},
	"MMM D, YYYY": {},
}

var widgetMarkers = []string{
	"jdgm-",         // Judge.me reviews
	"klaviyo-form-", // Klaviyo embeds
	"data-pf-type",  // PageFly sections
	"loox-rating",   // Loox reviews
	"shopify-app-block",
}

var (
	numericRe    = regexp.MustCompile(`^[+-]?[\d\s]*\d([.,]\d+)*\s*%?$`)
	strftimeRe   = regexp.MustCompile(`^(\s*%-?[a-zA-Z][\s/.,:-]*)+$`)
	socialKeyRe  = regexp.MustCompile(`(?i)(^|[._-])social[._-]?(link|url)|(facebook|instagram|twitter|tiktok|youtube|pinterest|snapchat|tumblr|vimeo|linkedin)[._-]?(link|url)`)
	keySegmentRe = regexp.MustCompile(`[.:]`)
)

// ShouldSkip reports whether content under (resourceID, key) should not be
// sent for translation.
func ShouldSkip(content, resourceID, key string) bool {
	_, skip := Reason(content, resourceID, key)
	return skip
}

// Reason is ShouldSkip that also names the rule that matched.
func Reason(content, resourceID, key string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if _, ok := emptyValues[trimmed]; ok {
		return ReasonEmpty, true
	}
	for _, p := range referencePrefixes {
		if strings.HasPrefix(trimmed, p) {
			return ReasonReference, true
		}
	}
	if numericRe.MatchString(trimmed) {
		return ReasonNumeric, true
	}
	if _, ok := dateFormats[trimmed]; ok || strftimeRe.MatchString(trimmed) {
		return ReasonDateFormat, true
	}
	if isReservedKey(key) {
		return ReasonReservedKey, true
	}
	if socialKeyRe.MatchString(key) {
		return ReasonSocialLink, true
	}
	if key == "title" && strings.HasPrefix(resourceID, "gid://shopify/Product/") {
		return ReasonTitle, true
	}
	for _, m := range widgetMarkers {
		if strings.Contains(content, m) {
			return ReasonWidget, true
		}
	}
	if strings.Contains(content, ExclusionMarker) {
		return ReasonMarker, true
	}
	return "", false
}

// isReservedKey matches the last segment of dotted theme keys too, so
// "section.footer.email" counts as "email".
func isReservedKey(key string) bool {
	parts := keySegmentRe.Split(strings.ToLower(key), -1)
	_, ok := reservedKeys[parts[len(parts)-1]]
	return ok
}

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldSkip_Scenario(t *testing.T) {
	assert.True(t, ShouldSkip("gid://shopify/GenericFile/123", "gid://shopify/OnlineStoreTheme/1", "image"))
	assert.False(t, ShouldSkip("Welcome to our store", "gid://shopify/OnlineStoreTheme/1", "welcome"))
}

func TestReason(t *testing.T) {
	const theme = "gid://shopify/OnlineStoreTheme/1"
	cases := []struct {
		name, content, resourceID, key, want string
	}{
		{"empty", "", theme, "k", ReasonEmpty},
		{"whitespace", "   \n", theme, "k", ReasonEmpty},
		{"null literal", "null", theme, "k", ReasonEmpty},
		{"shopify url", "shopify://shop_images/logo.png", theme, "logo", ReasonReference},
		{"integer", "42", theme, "k", ReasonNumeric},
		{"decimal", "19.99", theme, "k", ReasonNumeric},
		{"percent", "15 %", theme, "k", ReasonNumeric},
		{"strftime", "%b %d, %Y", theme, "k", ReasonDateFormat},
		{"literal format", "YYYY-MM-DD", theme, "k", ReasonDateFormat},
		{"reserved key", "support@example.com", theme, "email", ReasonReservedKey},
		{"reserved dotted key", "Call +1 555 0100", theme, "sections.footer.phone", ReasonReservedKey},
		{"social link", "https://instagram.com/shop", theme, "settings.social_instagram_link", ReasonSocialLink},
		{"social url", "https://x.com/a", theme, "footer.social-url", ReasonSocialLink},
		{"product title", "Blue T-Shirt", "gid://shopify/Product/9", "title", ReasonTitle},
		{"widget", `<div class="jdgm-widget">`, theme, "k", ReasonWidget},
		{"marker", `<span class="notranslate">ACME</span>`, theme, "k", ReasonMarker},
	}
	for _, tc := range cases {
		got, skip := Reason(tc.content, tc.resourceID, tc.key)
		assert.True(t, skip, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestShouldSkip_KeepsTranslatableText(t *testing.T) {
	keep := []struct{ content, resourceID, key string }{
		{"Free shipping on orders over $50", "gid://shopify/Shop/1", "announcement"},
		{"Blue T-Shirt", "gid://shopify/Collection/3", "title"},
		{"Top 10 gifts", "gid://shopify/Article/2", "title"},
		{"Email us anytime", "gid://shopify/Page/5", "body_html"},
		{"2024 collection", "gid://shopify/Page/5", "heading"},
	}
	for _, k := range keep {
		assert.False(t, ShouldSkip(k.content, k.resourceID, k.key), k.content)
	}
}

package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLooksRateLimited(t *testing.T) {
	assert.True(t, LooksRateLimited("Error: rate limit exceeded, please try again"))
	assert.True(t, LooksRateLimited("429 Too Many Requests"))
	assert.True(t, LooksRateLimited("RESOURCE_EXHAUSTED: quota"))
	assert.False(t, LooksRateLimited("invalid api key"))
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		msg  string
		want time.Duration
	}{
		{"please retry after 1m30s", 90 * time.Second},
		{"Please retry in 34.5s.", 34500 * time.Millisecond},
		{"try again in 1h2m3s", time.Hour + 2*time.Minute + 3*time.Second},
		{"15 requests per minute exceeded, retry in 7s", 7 * time.Second},
		{`"retryDelay": "20s"`, 20 * time.Second},
	}
	for _, tc := range cases {
		got, ok := ParseRetryAfter(tc.msg)
		assert.True(t, ok, tc.msg)
		assert.Equal(t, tc.want, got, tc.msg)
	}

	_, ok := ParseRetryAfter("slow down")
	assert.False(t, ok)
}

func TestErrRateLimit(t *testing.T) {
	err := &ErrRateLimit{Message: "rate limit hit"}
	assert.Contains(t, err.Error(), "rate limit detected")

	err = &ErrRateLimit{Cooldown: 90 * time.Second, Message: "x"}
	assert.Contains(t, err.Error(), "1m30s")
}

func TestRetryHint(t *testing.T) {
	d, ok := RetryHint("please retry after 1m30s")
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	_, ok = RetryHint("context deadline exceeded after 30s")
	assert.False(t, ok)
}

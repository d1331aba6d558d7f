package manager

import (
	"errors"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/limiter"
	"github.com/lizhenmiao/shopify-translation/internal/prompt"
)

// terminalError is implemented by errors that retrying cannot fix, such as
// llm.APIError for authentication failures.
type terminalError interface {
	Terminal() bool
}

func isRateLimit(err error) bool {
	var rl *limiter.ErrRateLimit
	return errors.As(err, &rl)
}

func isTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, catalog.ErrRowMissing) || errors.Is(err, prompt.ErrSeparatorCollision) {
		return true
	}
	var t terminalError
	return errors.As(err, &t) && t.Terminal()
}

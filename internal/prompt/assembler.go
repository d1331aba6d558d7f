// Package prompt builds system instructions and packs batches of source
// strings into a single payload using one of three framing strategies.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Strategy selects how multiple segments share one request.
type Strategy string

const (
	Single Strategy = "single" // joined by one separator
	Pair   Strategy = "pair"   // each wrapped in start/end markers
	JSON   Strategy = "json"   // {"segments": [...]}
)

// ErrSeparatorCollision is returned by Check when a source text contains the
// active framing markers and could not be split back unambiguously.
var ErrSeparatorCollision = errors.New("source text contains framing markers")

// Options configures an Assembler.
type Options struct {
	Strategy  Strategy
	Separator string
	PairStart string
	PairEnd   string
	// Guidance returns extra instructions for a language pair. It must be
	// deterministic; token counts of system prompts are cached.
	Guidance func(sourceLocale, targetLocale string) string
}

// Assembler packs and unpacks segment batches. Safe for concurrent use.
type Assembler struct {
	strategy Strategy
	sep      string
	start    string
	end      string
	pairRe   *regexp.Regexp
	guidance func(sourceLocale, targetLocale string) string
}

type envelope struct {
	Segments []string `json:"segments"`
}

// New validates opts and returns an Assembler.
func New(opts Options) (*Assembler, error) {
	a := &Assembler{strategy: opts.Strategy, sep: opts.Separator, start: opts.PairStart, end: opts.PairEnd, guidance: opts.Guidance}
	switch opts.Strategy {
	case Single:
		if a.sep == "" {
			return nil, fmt.Errorf("prompt.New: single strategy needs a separator")
		}
	case Pair:
		if a.start == "" || a.end == "" {
			return nil, fmt.Errorf("prompt.New: pair strategy needs start and end markers")
		}
		a.pairRe = regexp.MustCompile("(?s)" + regexp.QuoteMeta(a.start) + "(.*?)" + regexp.QuoteMeta(a.end))
	case JSON:
	default:
		return nil, fmt.Errorf("prompt.New: unknown strategy %q", opts.Strategy)
	}
	return a, nil
}

// Strategy returns the active framing strategy.
func (a *Assembler) Strategy() Strategy { return a.strategy }

// Check reports ErrSeparatorCollision when text cannot travel through the
// active framing intact.
func (a *Assembler) Check(text string) error {
	switch a.strategy {
	case Single:
		if strings.Contains(text, a.sep) {
			return ErrSeparatorCollision
		}
	case Pair:
		if strings.Contains(text, a.start) || strings.Contains(text, a.end) {
			return ErrSeparatorCollision
		}
	}
	return nil
}

// Assemble combines segments into one payload.
func (a *Assembler) Assemble(segments []string) string {
	switch a.strategy {
	case Single:
		return strings.Join(segments, a.sep)
	case Pair:
		var b strings.Builder
		for _, s := range segments {
			b.WriteString(a.start)
			b.WriteString(s)
			b.WriteString(a.end)
		}
		return b.String()
	default:
		if segments == nil {
			segments = []string{}
		}
		return marshalEnvelope(segments)
	}
}

// Split reverses Assemble on a provider reply. It never fails: a reply that
// cannot be parsed yields an empty list. With a single separator a reply
// always holds at least one segment, so "" splits to [""]; batches are never
// empty, which leaves Assemble(nil) out of the round trip.
func (a *Assembler) Split(reply string) []string {
	switch a.strategy {
	case Single:
		return strings.Split(reply, a.sep)
	case Pair:
		matches := a.pairRe.FindAllStringSubmatch(reply, -1)
		out := make([]string, 0, len(matches))
		for _, m := range matches {
			out = append(out, m[1])
		}
		return out
	default:
		return splitJSON(reply)
	}
}

// Overhead describes the framing text whose token cost the scheduler adds to
// a batch: Item is paid once per segment (pair markers), Between once per gap
// between segments (single separator) and Once per request (JSON envelope).
type Overhead struct {
	Item    string
	Between string
	Once    string
}

// Overhead returns the framing text of the active strategy.
func (a *Assembler) Overhead() Overhead {
	switch a.strategy {
	case Single:
		return Overhead{Between: a.sep}
	case Pair:
		return Overhead{Item: a.start + a.end}
	default:
		return Overhead{Once: marshalEnvelope([]string{})}
	}
}

func marshalEnvelope(segments []string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(envelope{Segments: segments})
	return strings.TrimSuffix(b.String(), "\n")
}

func splitJSON(reply string) []string {
	if out, ok := decodeSegments(reply); ok {
		return out
	}
	// Models sometimes wrap the object in a code fence or prose.
	if i, j := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); i >= 0 && j > i {
		if out, ok := decodeSegments(reply[i : j+1]); ok {
			return out
		}
	}
	if i, j := strings.Index(reply, "["), strings.LastIndex(reply, "]"); i >= 0 && j > i {
		var arr []string
		if err := json.Unmarshal([]byte(reply[i:j+1]), &arr); err == nil {
			return arr
		}
	}
	return []string{}
}

func decodeSegments(s string) ([]string, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &env); err != nil || env.Segments == nil {
		return nil, false
	}
	return env.Segments, true
}

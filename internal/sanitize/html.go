package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	iframeBlock  = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`)
	strayTag     = regexp.MustCompile(`(?i)</?(?:script|iframe)\b[^>]*>?`)
	jsURL        = regexp.MustCompile(`(?i)javascript\s*:`)
	dataHTMLURL  = regexp.MustCompile(`(?i)data\s*:\s*text/html`)
	eventHandler = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]*)`)
	cssExpr      = regexp.MustCompile(`(?i)expression\s*\(`)

	strict = bluemonday.StrictPolicy()
)

type Options struct {
	// StripTags removes every remaining tag, leaving plain text.
	StripTags bool
	// EscapeHTML escapes < > " ' & after stripping. Escaping is not
	// idempotent, so leave it to the rendering edge when possible.
	EscapeHTML bool
	// MaxLength truncates the input to this many runes when positive.
	MaxLength int
}

// DefaultOptions is what Text uses for untrusted free text.
var DefaultOptions = Options{StripTags: true}

// HTML removes script and iframe blocks, javascript: and data:text/html URLs,
// inline event handlers and CSS expression() constructs.
func HTML(input string, opts Options) string {
	out := truncate(input, opts.MaxLength)
	for i, limit := 0, passLimit(out); i < limit; i++ {
		next := stripMarkup(out, opts.StripTags)
		if next == out {
			break
		}
		out = next
	}
	if opts.EscapeHTML {
		out = html.EscapeString(out)
	}
	return out
}

func stripMarkup(s string, stripTags bool) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = iframeBlock.ReplaceAllString(s, "")
	s = strayTag.ReplaceAllString(s, "")
	s = jsURL.ReplaceAllString(s, "")
	s = dataHTMLURL.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	s = cssExpr.ReplaceAllString(s, "")
	if stripTags {
		// Escaping & first means the unescape only reverses bluemonday's own
		// text escaping; entities the user typed come back verbatim.
		s = html.UnescapeString(strict.Sanitize(strings.ReplaceAll(s, "&", "&amp;")))
	}
	return s
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

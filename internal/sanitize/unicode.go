package sanitize

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// invisible are zero-width, bidirectional-override and invisible-operator
// characters that are always removed.
var invisible = map[rune]string{
	0x00AD: "SOFT HYPHEN",
	0x200B: "ZERO WIDTH SPACE",
	0x200C: "ZERO WIDTH NON-JOINER",
	0x200D: "ZERO WIDTH JOINER",
	0x200E: "LEFT-TO-RIGHT MARK",
	0x200F: "RIGHT-TO-LEFT MARK",
	0x202A: "LEFT-TO-RIGHT EMBEDDING",
	0x202B: "RIGHT-TO-LEFT EMBEDDING",
	0x202C: "POP DIRECTIONAL FORMATTING",
	0x202D: "LEFT-TO-RIGHT OVERRIDE",
	0x202E: "RIGHT-TO-LEFT OVERRIDE",
	0x2060: "WORD JOINER",
	0x2061: "FUNCTION APPLICATION",
	0x2062: "INVISIBLE TIMES",
	0x2063: "INVISIBLE SEPARATOR",
	0x2064: "INVISIBLE PLUS",
	0x2066: "LEFT-TO-RIGHT ISOLATE",
	0x2067: "RIGHT-TO-LEFT ISOLATE",
	0x2068: "FIRST STRONG ISOLATE",
	0x2069: "POP DIRECTIONAL ISOLATE",
	0xFEFF: "ZERO WIDTH NO-BREAK SPACE",
}

// Rejected names one removed character.
type Rejected struct {
	Rune  rune   `json:"rune"`
	Name  string `json:"name"`
	Index int    `json:"index"` // byte offset in the normalized input
}

func (r Rejected) String() string {
	return fmt.Sprintf("U+%04X %s", r.Rune, r.Name)
}

type UnicodeResult struct {
	Clean    string     `json:"clean"`
	Rejected []Rejected `json:"rejected,omitempty"`
	// Flagged lists non-Latin scripts seen in the input. Flagged text is
	// kept; the list exists for audit logging only.
	Flagged []string `json:"flagged,omitempty"`
}

// Unicode normalizes input to NFC and removes control codes and invisible
// characters. Printable ASCII, tab, newline and carriage return always pass;
// other visible characters pass too, with their script flagged.
func Unicode(input string) UnicodeResult {
	s := norm.NFC.String(input)
	var (
		b       strings.Builder
		res     UnicodeResult
		flagged = map[string]bool{}
	)
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '\t' || r == '\n' || r == '\r' || (r >= 0x20 && r <= 0x7E):
			b.WriteRune(r)
		case r == utf8.RuneError && size == 1:
			res.Rejected = append(res.Rejected, Rejected{Rune: r, Name: "INVALID UTF-8", Index: i})
		case r < 0x20 || r == 0x7F || (r >= 0x80 && r <= 0x9F):
			res.Rejected = append(res.Rejected, Rejected{Rune: r, Name: "CONTROL", Index: i})
		case invisible[r] != "":
			res.Rejected = append(res.Rejected, Rejected{Rune: r, Name: invisible[r], Index: i})
		default:
			if script := scriptOf(r); script != "" && !flagged[script] {
				flagged[script] = true
				res.Flagged = append(res.Flagged, script)
			}
			b.WriteRune(r)
		}
		i += size
	}
	res.Clean = b.String()
	if len(res.Rejected) > 0 {
		// Removing a character can leave a newly composable pair behind.
		res.Clean = norm.NFC.String(res.Clean)
	}
	return res
}

func scriptOf(r rune) string {
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return "CJK"
	case unicode.Is(unicode.Arabic, r):
		return "Arabic"
	case unicode.Is(unicode.Hebrew, r):
		return "Hebrew"
	case (r >= 0x1F000 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF):
		return "Emoji"
	}
	return ""
}

// Package suggest produces short writing hints for a piece of text. It is
// rule based and stateless.
package suggest

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxHints caps the number of hints returned for one request.
const MaxHints = 3

var misspellings = []struct{ wrong, right string }{
	{"teh", "the"},
	{"recieve", "receive"},
	{"seperate", "separate"},
	{"occured", "occurred"},
	{"definately", "definitely"},
}

// Suggester turns text into hints.
type Suggester interface {
	Suggest(text string) []string
}

// Rules is the built-in Suggester.
type Rules struct{}

func (Rules) Suggest(text string) []string {
	return Suggest(text)
}

// Suggest returns at most MaxHints hints for text.
func Suggest(text string) []string {
	var hints []string

	if len(strings.Fields(text)) < 3 {
		hints = append(hints, "Consider adding more detail to your sentence.")
	}

	lower := strings.ToLower(text)
	for _, m := range misspellings {
		if strings.Contains(lower, m.wrong) {
			hints = append(hints, fmt.Sprintf("Did you mean '%s' instead of '%s'?", m.right, m.wrong))
		}
	}

	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(sentence); !unicode.IsUpper(r) {
			hints = append(hints, "Consider capitalizing the first letter of your sentence.")
		}
	}

	if len(hints) > MaxHints {
		hints = hints[:MaxHints]
	}
	return hints
}

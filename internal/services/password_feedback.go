package services

import (
	"strings"

	"github.com/nbutton23/zxcvbn-go/match"
)

const (
	suggestMoreWords = "Add another word or two. Uncommon words are better."
	suggestNoSymbols = "Use a few words, avoid common phrases. No need for symbols, digits, or uppercase letters."
)

// strengthFeedback turns the estimator's match sequence into one warning
// and a short list of suggestions. Strong passwords get neither.
func strengthFeedback(score int, sequence []match.Match) (string, []string) {
	if len(sequence) == 0 {
		return "", []string{suggestNoSymbols}
	}
	if score > 2 {
		return "", []string{}
	}

	longest := sequence[0]
	for _, m := range sequence[1:] {
		if len(m.Token) > len(longest.Token) {
			longest = m
		}
	}

	warning, extra := matchFeedback(longest, len(sequence) == 1)
	suggestions := []string{suggestMoreWords}
	if extra != "" {
		suggestions = append(suggestions, extra)
	}
	return warning, suggestions
}

func matchFeedback(m match.Match, soleMatch bool) (string, string) {
	switch m.Pattern {
	case "dictionary":
		return dictionaryWarning(m, soleMatch), dictionarySuggestion(m.Token)
	case "spatial":
		if m.J-m.I < 6 {
			return "Short keyboard patterns are easy to guess", "Use a longer keyboard pattern with more turns"
		}
		return "Straight rows of keys are easy to guess", "Use a longer keyboard pattern with more turns"
	case "repeat":
		return `Repeats like "aaa" are easy to guess`, "Avoid repeated words and characters"
	case "sequence":
		return "Sequences like abc or 6543 are easy to guess", "Avoid sequences"
	case "date":
		return "Dates are often easy to guess", "Avoid dates and years that are associated with you"
	}
	return "", ""
}

func dictionaryWarning(m match.Match, soleMatch bool) string {
	name := strings.ToLower(m.DictionaryName)
	switch {
	case strings.Contains(name, "password"):
		if soleMatch {
			return "This is a very common password"
		}
		return "This is similar to a commonly used password"
	case strings.Contains(name, "user"):
		return "Avoid using your name or email address"
	case strings.Contains(name, "name"):
		if soleMatch {
			return "Names and surnames by themselves are easy to guess"
		}
		return "Common names and surnames are easy to guess"
	case strings.Contains(name, "english"):
		if soleMatch {
			return "A word by itself is easy to guess"
		}
	}
	return ""
}

func dictionarySuggestion(token string) string {
	switch {
	case token == strings.ToUpper(token) && token != strings.ToLower(token):
		return "All-uppercase is almost as easy to guess as all-lowercase"
	case len(token) > 1 && token[1:] == strings.ToLower(token[1:]) && token[:1] != strings.ToLower(token[:1]):
		return "Capitalization doesn't help very much"
	}
	return ""
}

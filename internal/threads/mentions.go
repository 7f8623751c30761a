package threads

import (
	"strings"
	"unicode"
)

// ExtractMentions returns the distinct user names referenced by @name tokens
// in the message content, in first-appearance order. A mention ends at the
// first character that is not a letter, digit, underscore, or hyphen, so
// punctuation after a mention ("thanks @ada!") does not leak into the name.
func ExtractMentions(content string) []string {
	var mentions []string
	seen := make(map[string]struct{})

	runes := []rune(content)
	for index := 0; index < len(runes); index++ {
		if runes[index] != '@' {
			continue
		}
		// An @ glued to a preceding word is an email or handle fragment.
		if index > 0 && isMentionRune(runes[index-1]) {
			continue
		}
		end := index + 1
		for end < len(runes) && isMentionRune(runes[end]) {
			end++
		}
		if end == index+1 {
			continue
		}
		name := string(runes[index+1 : end])
		key := strings.ToLower(name)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		mentions = append(mentions, name)
		index = end - 1
	}
	return mentions
}

func isMentionRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

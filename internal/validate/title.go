package validate

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxTitleLen is the maximum accepted thread title length.
const MaxTitleLen = 255

// SanitizeTitle strips control characters from a thread title and
// validates the result. Returns an error when the title is empty or
// longer than 255 characters.
func SanitizeTitle(title string) (string, error) {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	sanitized := strings.TrimSpace(b.String())
	if sanitized == "" {
		return "", fmt.Errorf("title must not be empty")
	}
	if len(sanitized) > MaxTitleLen {
		return "", fmt.Errorf("title must be at most %d characters", MaxTitleLen)
	}
	return sanitized, nil
}

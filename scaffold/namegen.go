package scaffold

import (
	"fmt"
	"regexp"
	"strings"
)

var nonNameChars = regexp.MustCompile(`[^a-z0-9\s]`)

// maxNameWords caps how much of the description ends up in the name.
const maxNameWords = 4

// GenerateName derives a function-safe capability name from a description:
// lowercased, punctuation stripped, at most four words joined by
// underscores. When taken reports a collision, a numeric suffix is appended
// until the name is free.
func GenerateName(description string, taken func(string) bool) string {
	cleaned := nonNameChars.ReplaceAllString(strings.ToLower(description), "")

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		words = []string{"unnamed", "capability"}
	}
	if len(words) > maxNameWords {
		words = words[:maxNameWords]
	}

	name := strings.Join(words, "_")
	if name[0] >= '0' && name[0] <= '9' {
		name = "capability_" + name
	}

	if taken == nil {
		return name
	}

	base := name
	for counter := 1; taken(name); counter++ {
		name = fmt.Sprintf("%s_%d", base, counter)
	}
	return name
}

package history

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseQuery converts free-text user input into FTS5 match syntax.
// Supports bare terms (AND-joined, prefix-matched when long enough),
// quoted exact phrases, and a "type:" filter on the classified
// CommandType (e.g. "type:version_control merge").
func ParseQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	tokenRe := regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)'`)
	tokens := tokenRe.FindAllString(input, -1)

	var parts []string
	for _, token := range tokens {
		if strings.HasPrefix(token, `"`) || strings.HasPrefix(token, "'") {
			parts = append(parts, token)
			continue
		}

		lower := strings.ToLower(token)
		if strings.HasPrefix(lower, "type:") {
			term := token[len("type:"):]
			if term != "" {
				parts = append(parts, fmt.Sprintf("type:%s", term))
			}
			continue
		}

		if len(token) > 3 && regexp.MustCompile(`^[a-zA-Z0-9_]+$`).MatchString(token) {
			parts = append(parts, token+"*")
		} else {
			parts = append(parts, token)
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " AND ")
}

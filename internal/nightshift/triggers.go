package nightshift

import "strings"

// Trigger detection: case-insensitive substring match of the latest
// user-authored message body against the configured phrase lists.

func matchesAny(text string, phrases []string) bool {
	t := strings.ToLower(text)
	if strings.TrimSpace(t) == "" {
		return false
	}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// flattenContent joins the textual segments of a structured message body
// with single spaces. Non-text blocks carry no matchable content.
func flattenContent(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type != "" && b.Type != "text" {
			continue
		}
		if s := strings.TrimSpace(b.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

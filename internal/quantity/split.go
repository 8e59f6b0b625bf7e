package quantity

import "regexp"

// listSeparator matches " and " (with any run of spaces around it), a comma
// followed by optional spaces, or a run of spaces.
var listSeparator = regexp.MustCompile(` +and +|, *| +`)

// ListSplit splits a human list as written in a scenario ("a, b and c",
// "x y z") into its items. Empty items are dropped.
func ListSplit(s string) []string {
	parts := listSeparator.Split(s, -1)
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			items = append(items, p)
		}
	}
	return items
}

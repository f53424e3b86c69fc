// Package sqlgen pulls SQL out of free-form model output and checks it
// statically before it is handed to a database.
package sqlgen

import (
	"regexp"
	"strings"
)

var (
	// fencedSQL captures a fenced block, tagged sql or bare, up to the first
	// semicolon, bracket or closing fence.
	fencedSQL = regexp.MustCompile("(?is)```(?:sql)?[ \\t]*\\r?\\n(.*?)(?:;|\\[|```)")

	// selectWith captures from the first SELECT, or a WITH ... AS ( clause,
	// up to a semicolon, bracket, fence or the end of the output.
	selectWith = regexp.MustCompile("(?is)\\b((?:select\\b|with\\b.*?\\bas\\s*\\().*?)(?:;|\\[|```|$)")
)

// Extract returns the first SQL statement found in a model response. A
// fenced block wins over a bare SELECT/WITH; with neither the response is
// returned unchanged apart from escape clean-up.
func Extract(response string) string {
	response = strings.ReplaceAll(response, `\_`, "_")
	response = strings.ReplaceAll(response, `\`, "")

	if m := fencedSQL.FindStringSubmatch(response); m != nil {
		if sql := clean(m[1]); sql != "" {
			return sql
		}
	}
	if m := selectWith.FindStringSubmatch(response); m != nil {
		return clean(m[1])
	}
	return strings.TrimSpace(response)
}

func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

// Explanation returns the prose around the SQL in a model response, used
// as the human-readable note of a correction.
func Explanation(response, sql string) string {
	text := fencedBlock.ReplaceAllString(response, "")
	if sql != "" {
		text = strings.ReplaceAll(text, sql, "")
	}
	return strings.Join(strings.Fields(text), " ")
}

var fencedBlock = regexp.MustCompile("(?s)```.*?```")

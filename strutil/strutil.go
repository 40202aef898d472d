// Package strutil has string helpers for emitting OpenCL C source.
package strutil

import "strings"

var cEscaper = strings.NewReplacer(
	`'`, `\'`,
	`"`, `\"`,
	`?`, `\?`,
	`\`, `\\`,
	"\a", `\a`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\v", `\v`,
)

// Escape returns s with the C special characters replaced by their escape sequences, so it can be used
// in a C string or character literal. Other characters, including non-ASCII ones, are kept as is.
func Escape(s string) string {
	return cEscaper.Replace(s)
}

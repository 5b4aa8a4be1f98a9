package repository

import "strings"

// EscapeLike escapes the LIKE wildcards in s so it matches literally.
// Queries pair it with ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

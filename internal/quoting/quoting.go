// Package quoting provides shared identifier quoting utilities.
package quoting

import "strings"

// DoubleQuote quotes a SQL identifier using double quotes (PostgreSQL, SQLite, ANSI SQL).
// Internal double quotes are escaped by doubling them.
func DoubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Backtick quotes a SQL identifier using backticks (MySQL).
// Internal backticks are escaped by doubling them.
func Backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Bracket quotes a SQL identifier using square brackets (SQL Server).
// Internal closing brackets are escaped by doubling them.
func Bracket(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// UpperDoubleQuote upper-cases and double-quotes an identifier (Oracle).
func UpperDoubleQuote(s string) string {
	return DoubleQuote(strings.ToUpper(s))
}

// EscapeStandard escapes a string literal by doubling single quotes only
// (ANSI SQL, PostgreSQL, SQLite, SQL Server, Oracle).
func EscapeStandard(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// EscapeString escapes a string literal for SQL by doubling single quotes
// and escaping backslashes (for MySQL compatibility).
//
// SECURITY: This escaping is intended for inline literals only.
// User-provided values should travel as parameters. In particular, MySQL with non-default
// character sets (GBK, SJIS) may have multi-byte sequences where a trailing
// byte coincides with backslash or quote; parameterized queries avoid this
// class of attack entirely.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", "''")
}

// EscapeLikePattern escapes LIKE wildcard characters (%, _) in a string
// so they are matched literally. The backslash is used as the escape character.
func EscapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

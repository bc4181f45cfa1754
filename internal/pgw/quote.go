package pgw

import "strings"

// QuoteIdent wraps a schema, table or column name in double quotes,
// doubling any embedded quotes. Every identifier interpolated into SQL
// anywhere in this repository must pass through here, constants
// included.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifyTable renders "schema"."table" for interpolation.
func QualifyTable(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

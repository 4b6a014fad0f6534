package table

import (
	"strings"
)

// --------------------------------------------------------------------------
// Query rewrite
// --------------------------------------------------------------------------

// RewriteQuery replaces references to a collection by its view name and
// normalizes quoting to the engine dialect:
//
//   - bare, backtick-quoted or double-quoted occurrences of collection
//     become `view`
//   - double-quoted names for which isColumn returns true become
//     backtick-quoted identifiers
//   - any other double-quoted text becomes a single-quoted string literal
//
// Single-quoted string literals are copied unchanged, so a collection name
// inside a literal is not replaced. isColumn may be nil.
func RewriteQuery(query, collection, view string, isColumn func(string) bool) string {
	var sb strings.Builder
	sb.Grow(len(query) + len(view))

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'':
			j := skipQuoted(query, i)
			sb.WriteString(query[i:j])
			i = j

		case c == '`':
			j := skipQuoted(query, i)
			if unquote(query[i:j]) == collection {
				sb.WriteString(quoteIdent(view))
			} else {
				sb.WriteString(query[i:j])
			}
			i = j

		case c == '"':
			j := skipQuoted(query, i)
			name := unquote(query[i:j])
			switch {
			case name == collection:
				sb.WriteString(quoteIdent(view))
			case isColumn != nil && isColumn(name):
				sb.WriteString(quoteIdent(name))
			default:
				sb.WriteString("'" + strings.ReplaceAll(name, "'", "''") + "'")
			}
			i = j

		case collection != "" && strings.HasPrefix(query[i:], collection) && isBoundary(query, i+len(collection)):
			sb.WriteString(view)
			i += len(collection)

		case isIdentChar(c):
			j := i
			for j < len(query) && isIdentChar(query[j]) {
				j++
			}
			sb.WriteString(query[i:j])
			i = j

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// skipQuoted returns the index after the quoted section starting at i. A
// doubled quote and a backslash escape the quote character. An unterminated
// section runs to the end of the query.
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			if q != '`' {
				j++
			}
		case q:
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(s)
}

// unquote strips the quotes of a quoted section and collapses doubled quotes
func unquote(s string) string {
	if len(s) < 2 {
		return ""
	}
	q := s[:1]
	inner := s[1:]
	if strings.HasSuffix(inner, q) {
		inner = inner[:len(inner)-1]
	}
	return strings.ReplaceAll(inner, q+q, q)
}

// quoteIdent returns name as a backtick-quoted identifier
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// isBoundary reports whether position i of s does not continue an identifier
func isBoundary(s string, i int) bool {
	return i >= len(s) || !isIdentChar(s[i])
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

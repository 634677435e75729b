// Package sql screens SQL reaching the database outside the tenant-scoped
// query builder: predicate values are checked for injection payloads and raw
// statements are restricted to a single statement.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyStatement indicates a raw statement with no SQL in it.
	ErrEmptyStatement = errors.New("empty SQL statement")

	// ErrMultipleStatements indicates the raw SQL contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// NormalizeStatement trims sqlQuery and strips one trailing semicolon.
// Semicolons inside quoted strings, quoted identifiers and comments are ignored;
// any other remaining semicolon means more than one statement.
func NormalizeStatement(sqlQuery string) (string, error) {
	normalized := strings.TrimSpace(sqlQuery)
	normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))

	if normalized == "" {
		return "", ErrEmptyStatement
	}
	if hasStatementSeparator(normalized) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// hasStatementSeparator scans sqlQuery for a semicolon in plain SQL text.
// Quotes close on the next matching quote; a doubled quote reopens immediately,
// which keeps the scanner inside the literal.
func hasStatementSeparator(sqlQuery string) bool {
	const (
		plain = iota
		singleQuote
		doubleQuote
		lineComment
		blockComment
	)

	state := plain
	for i := 0; i < len(sqlQuery); i++ {
		c := sqlQuery[i]
		next := byte(0)
		if i+1 < len(sqlQuery) {
			next = sqlQuery[i+1]
		}

		switch state {
		case plain:
			switch {
			case c == ';':
				return true
			case c == '\'':
				state = singleQuote
			case c == '"':
				state = doubleQuote
			case c == '-' && next == '-':
				state = lineComment
				i++
			case c == '/' && next == '*':
				state = blockComment
				i++
			}
		case singleQuote:
			if c == '\'' {
				state = plain
			}
		case doubleQuote:
			if c == '"' {
				state = plain
			}
		case lineComment:
			if c == '\n' {
				state = plain
			}
		case blockComment:
			if c == '*' && next == '/' {
				state = plain
				i++
			}
		}
	}
	return false
}

// Package sqlguard vets model-generated SQL before it reaches the read-only replica.
//
// The check is lexical: the text must start with SELECT and no word token may match
// the mutation blocklist. Keywords inside string literals or comments are scanned like
// any other token, so `SELECT 'drop' AS x` is rejected. This is a known limitation of a
// keyword scan and is kept as-is; switching to a parser changes which inputs pass.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxRows is the row ceiling written into every sanitized statement.
const DefaultMaxRows = 200

// Rejection reasons.
const (
	ReasonEmpty         = "empty SQL"
	ReasonNotSelect     = "only SELECT queries are allowed"
	ReasonMultipleLimit = "multiple LIMIT clauses are not allowed"
	ReasonLimitNotPlain = "LIMIT must be a plain integer"
)

var forbiddenKeywords = map[string]struct{}{
	"INSERT":   {},
	"UPDATE":   {},
	"DELETE":   {},
	"DROP":     {},
	"CREATE":   {},
	"ALTER":    {},
	"TRUNCATE": {},
	"EXEC":     {},
	"EXECUTE":  {},
	"GRANT":    {},
	"REVOKE":   {},
}

var (
	fenceOpen  = regexp.MustCompile("^```\\w*\\n?")
	fenceClose = regexp.MustCompile("\\n?```$")
	wordToken  = regexp.MustCompile(`\b\w+\b`)
	limitWord  = regexp.MustCompile(`(?i)\bLIMIT\b`)
	// limitTerm accepts only `LIMIT n` followed by the end of the text, OFFSET or a
	// closing parenthesis. Signs, expressions and `LIMIT a, b` do not match.
	limitTerm  = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)(?:\s*$|\s+OFFSET\b|\s*\))`)
)

// Result is either Valid (SQL set, Reason empty) or Invalid (Reason set).
type Result struct {
	SQL    string
	Reason string
}

// Valid reports whether the statement passed every check.
func (r Result) Valid() bool {
	return r.Reason == ""
}

func invalid(reason string) Result {
	return Result{Reason: reason}
}

// Validator checks candidate SQL and bounds it to MaxRows.
type Validator struct {
	MaxRows int
}

// New returns a Validator; a non-positive maxRows falls back to DefaultMaxRows.
func New(maxRows int) *Validator {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Validator{MaxRows: maxRows}
}

// Validate returns the sanitized, bounded statement or the reason it was rejected.
func (v *Validator) Validate(sqlText string) Result {
	if strings.TrimSpace(sqlText) == "" {
		return invalid(ReasonEmpty)
	}

	cleaned := strings.TrimSpace(sqlText)
	cleaned = strings.TrimSuffix(cleaned, ";")
	cleaned = fenceOpen.ReplaceAllString(cleaned, "")
	cleaned = fenceClose.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, ";"))
	if cleaned == "" {
		return invalid(ReasonEmpty)
	}

	if !strings.HasPrefix(strings.ToUpper(cleaned), "SELECT") {
		return invalid(ReasonNotSelect)
	}

	for _, token := range wordToken.FindAllString(strings.ToUpper(cleaned), -1) {
		if _, blocked := forbiddenKeywords[token]; blocked {
			return invalid("forbidden keyword: " + token)
		}
	}

	bounded, err := v.enforceLimit(cleaned)
	if err != nil {
		return invalid(err.Error())
	}
	return Result{SQL: bounded}
}

func (v *Validator) enforceLimit(sqlText string) (string, error) {
	maxRows := v.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	switch len(limitWord.FindAllStringIndex(sqlText, -1)) {
	case 0:
		return fmt.Sprintf("%s LIMIT %d", sqlText, maxRows), nil
	case 1:
	default:
		return "", errors.New(ReasonMultipleLimit)
	}

	m := limitTerm.FindStringSubmatchIndex(sqlText)
	if m == nil {
		return "", errors.New(ReasonLimitNotPlain)
	}
	requested, err := strconv.Atoi(sqlText[m[2]:m[3]])
	if err != nil || requested > maxRows {
		// Overflowing digits are treated like any other oversized limit.
		return sqlText[:m[0]] + "LIMIT " + strconv.Itoa(maxRows) + sqlText[m[3]:], nil
	}
	return sqlText, nil
}

package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialects the validator knows about. They match config's dialect names.
const (
	DialectMySQL     = "mysql"
	DialectPostgres  = "postgres"
	DialectSQLite    = "sqlite"
	DialectSQLServer = "sqlserver"
)

// Result reports whether a statement passed validation and, if not, why.
type Result struct {
	Valid  bool
	Reason string
}

func invalid(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

var allowedStatements = map[string]bool{
	"select":   true,
	"insert":   true,
	"update":   true,
	"delete":   true,
	"with":     true,
	"show":     true,
	"describe": true,
	"explain":  true,
}

var readStatements = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"describe": true,
	"explain":  true,
}

var writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|grant|revoke)\b`)

var danglingKeywords = map[string]bool{
	"WHERE": true,
	"AND":   true,
	"OR":    true,
	"FROM":  true,
	"JOIN":  true,
	"ON":    true,
	"BY":    true,
	"SET":   true,
}

type dialectRule struct {
	name    string
	pattern *regexp.Regexp
	// native lists the dialects where the construct is legitimate.
	native map[string]bool
}

var dialectRules = []dialectRule{
	{
		name:    "TOP n row limiting",
		pattern: regexp.MustCompile(`(?i)\bselect\s+(?:distinct\s+)?top\s*\(?\s*\d+`),
		native:  map[string]bool{DialectSQLServer: true},
	},
	{
		name:    "bracket-quoted identifiers",
		pattern: regexp.MustCompile(`\[[A-Za-z_][\w ]*\]`),
		native:  map[string]bool{DialectSQLServer: true, DialectSQLite: true},
	},
	{
		name:    "LIMIT n OFFSET m pagination",
		pattern: regexp.MustCompile(`(?i)\blimit\s+\d+\s+offset\s+\d+`),
		native:  map[string]bool{DialectPostgres: true, DialectSQLite: true},
	},
	{
		name:    "positional $n parameters",
		pattern: regexp.MustCompile(`\$\d+`),
	},
}

// Validator checks statements against one target dialect.
type Validator struct {
	dialect string
}

// NewValidator returns a validator for dialect. Unknown or empty dialects
// are validated as MySQL.
func NewValidator(dialect string) *Validator {
	switch dialect {
	case DialectPostgres, DialectSQLite, DialectSQLServer:
	default:
		dialect = DialectMySQL
	}
	return &Validator{dialect: dialect}
}

// Dialect returns the dialect the validator enforces.
func (v *Validator) Dialect() string { return v.dialect }

// Validate checks sql without executing it.
func (v *Validator) Validate(sql string) Result {
	stmt := strings.TrimSpace(sql)
	if stmt == "" {
		return invalid("empty statement")
	}
	stmt = stripTrailingSemicolon(stmt)

	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return invalid("empty statement")
	}
	first := strings.ToLower(strings.TrimLeft(fields[0], "("))
	if !allowedStatements[first] {
		return invalid("statement must start with SELECT, INSERT, UPDATE, DELETE, WITH, SHOW, DESCRIBE or EXPLAIN, got %q", fields[0])
	}

	s := scan(stmt)
	switch {
	case s.openQuote != 0:
		return invalid("unbalanced %c quote", s.openQuote)
	case s.depth != 0 || s.underflow:
		return invalid("unbalanced parentheses")
	case s.semicolon:
		return invalid("multiple statements are not allowed")
	}

	last := strings.ToUpper(strings.TrimRight(fields[len(fields)-1], ","))
	if danglingKeywords[last] {
		return invalid("statement ends with a dangling %s", last)
	}

	for _, rule := range dialectRules {
		if rule.native[v.dialect] {
			continue
		}
		if rule.pattern.MatchString(s.unquoted) {
			return invalid("%s is not valid %s syntax", rule.name, v.dialect)
		}
	}

	return Result{Valid: true}
}

// IsValid reports whether sql passes validation.
func (v *Validator) IsValid(sql string) bool {
	return v.Validate(sql).Valid
}

// ValidateQuery checks that sql is a single read-only query. Leading
// comments are dropped and the remaining statement is returned for
// execution.
func (v *Validator) ValidateQuery(sql string) (string, Result) {
	stmt := StripLeadingComments(sql)
	if res := v.Validate(stmt); !res.Valid {
		return stmt, res
	}
	first := strings.ToLower(strings.TrimLeft(strings.Fields(stmt)[0], "("))
	if !readStatements[first] {
		return stmt, invalid("only read queries may run here, got %q", strings.Fields(stmt)[0])
	}
	if m := writeKeyword.FindString(scan(stmt).unquoted); m != "" {
		return stmt, invalid("read query contains %s", strings.ToUpper(m))
	}
	return stmt, Result{Valid: true}
}

// StripLeadingComments removes -- and /* */ comments before the first
// statement keyword.
func StripLeadingComments(sql string) string {
	s := strings.TrimSpace(sql)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+1:])
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = strings.TrimSpace(s[i+2:])
		default:
			return s
		}
	}
}

var defaultValidator = NewValidator(DialectMySQL)

// Validate checks sql against the MySQL rules.
func Validate(sql string) Result { return defaultValidator.Validate(sql) }

// IsValid reports whether sql passes the MySQL rules.
func IsValid(sql string) bool { return defaultValidator.IsValid(sql) }

type scanResult struct {
	depth     int
	underflow bool
	openQuote rune
	semicolon bool
	// unquoted is the statement with string literal contents blanked, so
	// dialect patterns never match inside data.
	unquoted string
}

// scan walks the statement once, tracking quote state and paren depth.
// Doubled quotes ('') close and reopen the literal, which keeps the state
// correct; backslash-escaped quotes stay inside it.
func scan(stmt string) scanResult {
	var r scanResult
	var out strings.Builder
	out.Grow(len(stmt))

	prev := rune(0)
	for _, ch := range stmt {
		if r.openQuote != 0 {
			if ch == r.openQuote && prev != '\\' {
				r.openQuote = 0
				out.WriteRune(ch)
			} else {
				out.WriteRune(' ')
			}
			prev = ch
			continue
		}

		switch ch {
		case '\'', '"', '`':
			r.openQuote = ch
		case '(':
			r.depth++
		case ')':
			r.depth--
			if r.depth < 0 {
				r.underflow = true
			}
		case ';':
			r.semicolon = true
		}
		out.WriteRune(ch)
		prev = ch
	}

	r.unquoted = out.String()
	return r
}

// stripTrailingSemicolon removes one trailing semicolon and surrounding
// whitespace.
func stripTrailingSemicolon(stmt string) string {
	stmt = strings.TrimRight(stmt, " \t\n\r")
	if strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimRight(strings.TrimSuffix(stmt, ";"), " \t\n\r")
	}
	return stmt
}

// CorrectiveInstruction is appended to the prompt after an invalid attempt.
func CorrectiveInstruction(dialect string, previous Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The previous SQL was rejected: %s.\n", previous.Reason)
	fmt.Fprintf(&b, "Write a single, complete %s statement and return only the SQL.\n", dialect)
	switch dialect {
	case DialectSQLServer:
		b.WriteString("Use TOP n for row limits. Do not use LIMIT or positional $n parameters.")
	case DialectPostgres:
		b.WriteString("Use LIMIT n OFFSET m for pagination. Do not use TOP, [bracketed] identifiers or positional $n parameters.")
	case DialectSQLite:
		b.WriteString("Use LIMIT n for row limits. Do not use TOP or positional $n parameters.")
	default:
		b.WriteString("Use LIMIT n or LIMIT offset, count for row limits. Do not use TOP, [bracketed] identifiers, LIMIT n OFFSET m or positional $n parameters.")
	}
	return b.String()
}

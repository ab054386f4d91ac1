package binlog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DDL handling is restricted tokenizing, not SQL parsing: enough to
// follow the column list of CREATE TABLE and ALTER TABLE.

var (
	createTableRE = regexp.MustCompile(`(?i)^\s*create\s+(or\s+replace\s+)?(temporary\s+)?table\b`)
	alterTableRE  = regexp.MustCompile(`(?i)^\s*alter\s+(online\s+)?(ignore\s+)?table\b`)
)

func isCreateTable(sql string) bool { return createTableRE.MatchString(stripComments(sql)) }
func isAlterTable(sql string) bool  { return alterTableRE.MatchString(stripComments(sql)) }

// ColumnDef is a column of a CREATE TABLE statement.
type ColumnDef struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`              // definition text following the name
	Symbols []string `json:"symbols,omitempty"` // ENUM and SET values
}

// stripComments removes /* */ and -- comments outside quotes.
func stripComments(sql string) string {
	var sb strings.Builder
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == '\\' && quote != '`' && i+1 < len(sql) {
				sb.WriteByte(c)
				i++
				c = sql[i]
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end == -1 {
				return sb.String()
			}
			i += end + 3
			sb.WriteByte(' ')
			continue
		case c == '-' && strings.HasPrefix(sql[i:], "-- "), c == '#':
			end := strings.IndexByte(sql[i:], '\n')
			if end == -1 {
				return sb.String()
			}
			i += end
			sb.WriteByte(' ')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// tokenize splits s on whitespace and top-level commas. Parenthesised
// groups and quoted strings stay inside their token; a top-level comma
// is returned as a token of its own.
func tokenize(s string) []string {
	var tokens []string
	var quote byte
	depth, start := 0, -1
	flush := func(end int) {
		if start != -1 {
			tokens = append(tokens, s[start:end])
			start = -1
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' && quote != '`' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			if start == -1 {
				start = i
			}
		case c == '(':
			if depth == 0 && start != -1 && !isIdentTail(s[start:i]) {
				flush(i)
			}
			if start == -1 {
				start = i
			}
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && c == ',':
			flush(i)
			tokens = append(tokens, ",")
		case depth == 0 && unicode.IsSpace(rune(c)):
			flush(i)
		default:
			if start == -1 {
				start = i
			}
		}
	}
	flush(len(s))
	return tokens
}

// isIdentTail reports whether a '(' right after s belongs to the same
// token, as in "decimal(10,2)" or "enum('a','b')".
func isIdentTail(s string) bool {
	return s != "" && s[0] != '(' && s[0] != '`'
}

// splitTopLevel splits s on commas outside parentheses and quotes.
func splitTopLevel(s string) []string {
	var parts []string
	var cur []string
	for _, tok := range tokenize(s) {
		if tok == "," {
			parts = append(parts, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, " "))
	}
	return parts
}

// unquote removes identifier backticks.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	}
	return s
}

// splitIdent splits a possibly qualified identifier like `db`.`t` or db.t.
func splitIdent(s string) (db, table string) {
	var parts []string
	var quote bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '`':
			quote = !quote
		case s[i] == '.' && !quote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if len(parts) == 2 {
		return unquote(strings.TrimSpace(parts[0])), unquote(strings.TrimSpace(parts[1]))
	}
	return "", unquote(strings.TrimSpace(parts[len(parts)-1]))
}

func eqFold(tok string, words ...string) bool {
	for _, w := range words {
		if strings.EqualFold(tok, w) {
			return true
		}
	}
	return false
}

// keywords that start a table constraint or index instead of a column
var constraintWords = []string{"PRIMARY", "KEY", "INDEX", "UNIQUE", "CONSTRAINT", "FOREIGN",
	"FULLTEXT", "SPATIAL", "CHECK", "PERIOD", "PARTITION"}

// parseColumnDef parses "name type ...". ok is false for index and
// constraint definitions.
func parseColumnDef(s string) (col ColumnDef, ok bool) {
	tokens := tokenize(s)
	if len(tokens) == 0 || (tokens[0][0] != '`' && eqFold(tokens[0], constraintWords...)) {
		return col, false
	}
	col.Name = unquote(tokens[0])
	col.Type = strings.Join(tokens[1:], " ")
	if len(tokens) > 1 {
		col.Symbols = parseSymbols(tokens[1])
	}
	return col, true
}

// parseSymbols returns the values of an enum('a','b') or set('a','b')
// type token.
func parseSymbols(typ string) []string {
	open := strings.IndexByte(typ, '(')
	if open == -1 || !eqFold(typ[:open], "enum", "set") || !strings.HasSuffix(typ, ")") {
		return nil
	}
	body := typ[open+1 : len(typ)-1]
	var symbols []string
	for i := 0; i < len(body); i++ {
		q := body[i]
		if q != '\'' && q != '"' {
			continue
		}
		var sb strings.Builder
		for i++; i < len(body); i++ {
			c := body[i]
			if c == '\\' && i+1 < len(body) {
				i++
				sb.WriteByte(body[i])
				continue
			}
			if c == q {
				if i+1 < len(body) && body[i+1] == q {
					sb.WriteByte(q)
					i++
					continue
				}
				break
			}
			sb.WriteByte(c)
		}
		symbols = append(symbols, sb.String())
	}
	return symbols
}

// createTable is a parsed CREATE TABLE statement.
type createTable struct {
	db, table         string
	columns           []ColumnDef
	likeDB, likeTable string // CREATE TABLE ... LIKE
}

// parseCreateTable extracts the table name and column list. Columns are
// found by depth-balanced scanning of the first parenthesised block.
func parseCreateTable(sql, defaultDB string) (*createTable, error) {
	sql = stripComments(sql)
	loc := createTableRE.FindStringIndex(sql)
	if loc == nil {
		return nil, fmt.Errorf("%w: not a CREATE TABLE: %q", ErrMalformedDDL, abbrev(sql))
	}
	tokens := tokenize(sql[loc[1]:])
	tokens = skipWords(tokens, "IF", "NOT", "EXISTS")
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no table name: %q", ErrMalformedDDL, abbrev(sql))
	}

	ct := &createTable{}
	name := tokens[0]
	var body string
	if i := strings.IndexByte(name, '('); i > 0 && name[0] != '`' {
		// "t(a int)" without space
		name, body = name[:i], name[i:]
	}
	ct.db, ct.table = splitIdent(name)
	if ct.db == "" {
		ct.db = defaultDB
	}
	if ct.table == "" {
		return nil, fmt.Errorf("%w: no table name: %q", ErrMalformedDDL, abbrev(sql))
	}

	rest := tokens[1:]
	if body == "" && len(rest) > 0 {
		body = rest[0]
		rest = rest[1:]
	}
	like := func(tok string) bool { return eqFold(tok, "LIKE") }
	switch {
	case like(body) && len(rest) > 0:
		ct.likeDB, ct.likeTable = splitIdent(rest[0])
	case strings.HasPrefix(body, "(") && strings.HasSuffix(body, ")"):
		inner := strings.TrimSpace(body[1 : len(body)-1])
		if t := tokenize(inner); len(t) == 2 && like(t[0]) {
			ct.likeDB, ct.likeTable = splitIdent(t[1])
			break
		}
		for _, def := range splitTopLevel(inner) {
			if col, ok := parseColumnDef(def); ok {
				ct.columns = append(ct.columns, col)
			}
		}
		if len(ct.columns) == 0 {
			return nil, fmt.Errorf("%w: no columns in %q", ErrMalformedDDL, abbrev(sql))
		}
	default:
		return nil, fmt.Errorf("%w: no column list in %q", ErrMalformedDDL, abbrev(sql))
	}
	if ct.likeTable != "" && ct.likeDB == "" {
		ct.likeDB = defaultDB
	}
	return ct, nil
}

// alterTable is a parsed ALTER TABLE statement.
type alterTable struct {
	db, table string
	specs     [][]string // tokens of each comma separated alter specification
}

func parseAlterTable(sql, defaultDB string) (*alterTable, error) {
	sql = stripComments(sql)
	loc := alterTableRE.FindStringIndex(sql)
	if loc == nil {
		return nil, fmt.Errorf("%w: not an ALTER TABLE: %q", ErrMalformedDDL, abbrev(sql))
	}
	tokens := skipWords(tokenize(sql[loc[1]:]), "IF", "EXISTS")
	if len(tokens) == 0 || tokens[0] == "," {
		return nil, fmt.Errorf("%w: no table name: %q", ErrMalformedDDL, abbrev(sql))
	}
	at := &alterTable{}
	at.db, at.table = splitIdent(tokens[0])
	if at.db == "" {
		at.db = defaultDB
	}
	var spec []string
	for _, tok := range tokens[1:] {
		if tok == "," {
			if len(spec) > 0 {
				at.specs = append(at.specs, spec)
			}
			spec = nil
			continue
		}
		spec = append(spec, tok)
	}
	if len(spec) > 0 {
		at.specs = append(at.specs, spec)
	}
	return at, nil
}

// apply applies the column changes of the statement to cols and returns
// the new list, and the new table name for RENAME TO.
func (at *alterTable) apply(cols []ColumnDef) ([]ColumnDef, string, string, error) {
	cols = append([]ColumnDef(nil), cols...)
	db, table := at.db, at.table
	for _, spec := range at.specs {
		op, args := strings.ToUpper(spec[0]), spec[1:]
		switch op {
		case "ADD":
			args = skipWords(args, "COLUMN")
			args = skipWords(args, "IF", "NOT", "EXISTS")
			if len(args) == 0 {
				return nil, "", "", fmt.Errorf("%w: ADD without column", ErrMalformedDDL)
			}
			if strings.HasPrefix(args[0], "(") {
				inner := strings.TrimSuffix(strings.TrimPrefix(args[0], "("), ")")
				for _, def := range splitTopLevel(inner) {
					if col, ok := parseColumnDef(def); ok {
						cols = append(cols, col)
					}
				}
				continue
			}
			def, pos := splitPosition(args)
			col, ok := parseColumnDef(strings.Join(def, " "))
			if !ok {
				continue // index or constraint
			}
			cols = insertColumn(cols, col, pos)
		case "DROP":
			args = skipWords(args, "COLUMN")
			args = skipWords(args, "IF", "EXISTS")
			if len(args) == 0 || (args[0][0] != '`' && eqFold(args[0], constraintWords...)) {
				continue
			}
			i := lastIndex(cols, unquote(args[0]))
			if i == -1 {
				return nil, "", "", fmt.Errorf("%w: drop of unknown column %s", ErrMalformedDDL, args[0])
			}
			cols = append(cols[:i], cols[i+1:]...)
		case "CHANGE", "MODIFY":
			args = skipWords(args, "COLUMN")
			args = skipWords(args, "IF", "EXISTS")
			if len(args) == 0 {
				return nil, "", "", fmt.Errorf("%w: %s without column", ErrMalformedDDL, op)
			}
			old := unquote(args[0])
			if op == "CHANGE" {
				args = args[1:]
			}
			def, pos := splitPosition(args)
			col, ok := parseColumnDef(strings.Join(def, " "))
			i := lastIndex(cols, old)
			if !ok || i == -1 {
				return nil, "", "", fmt.Errorf("%w: %s of unknown column %s", ErrMalformedDDL, op, old)
			}
			if pos == "" {
				cols[i] = col
			} else {
				cols = insertColumn(append(cols[:i], cols[i+1:]...), col, pos)
			}
		case "RENAME":
			switch {
			case len(args) >= 3 && eqFold(args[0], "COLUMN"):
				i := lastIndex(cols, unquote(args[1]))
				if i == -1 || !eqFold(args[2], "TO") || len(args) < 4 {
					return nil, "", "", fmt.Errorf("%w: rename of unknown column %s", ErrMalformedDDL, args[1])
				}
				cols[i].Name = unquote(args[3])
			case len(args) >= 1 && (eqFold(args[0], "INDEX", "KEY")):
			default:
				args = skipWords(args, "TO")
				args = skipWords(args, "AS")
				if len(args) > 0 {
					db, table = splitIdent(args[0])
					if db == "" {
						db = at.db
					}
				}
			}
		}
	}
	return cols, db, table, nil
}

// splitPosition separates a trailing FIRST or AFTER col from a column
// definition. pos is "", "FIRST" or the name of the preceding column.
func splitPosition(tokens []string) (def []string, pos string) {
	n := len(tokens)
	switch {
	case n >= 1 && eqFold(tokens[n-1], "FIRST"):
		return tokens[:n-1], "FIRST"
	case n >= 2 && eqFold(tokens[n-2], "AFTER"):
		return tokens[:n-2], unquote(tokens[n-1])
	}
	return tokens, ""
}

func insertColumn(cols []ColumnDef, col ColumnDef, pos string) []ColumnDef {
	i := len(cols)
	switch pos {
	case "":
	case "FIRST":
		i = 0
	default:
		if j := lastIndex(cols, pos); j != -1 {
			i = j + 1
		}
	}
	cols = append(cols, ColumnDef{})
	copy(cols[i+1:], cols[i:])
	cols[i] = col
	return cols
}

func lastIndex(cols []ColumnDef, name string) int {
	for i := len(cols) - 1; i >= 0; i-- {
		if strings.EqualFold(cols[i].Name, name) {
			return i
		}
	}
	return -1
}

// skipWords drops the leading tokens matching words in order.
func skipWords(tokens []string, words ...string) []string {
	for i, w := range words {
		if i >= len(tokens) || !strings.EqualFold(tokens[i], w) {
			return tokens
		}
	}
	return tokens[len(words):]
}

func abbrev(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

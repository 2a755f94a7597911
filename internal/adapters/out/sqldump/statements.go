package sqldump

import (
	"fmt"
	"strings"

	"github.com/bnema/snapkeep/internal/domain"
)

var allowedPrefixes = []string{
	"DROP TABLE IF EXISTS ",
	"DROP VIEW IF EXISTS ",
	"CREATE TABLE ",
	"CREATE INDEX ",
	"CREATE UNIQUE INDEX ",
	"CREATE VIEW ",
	"INSERT INTO ",
	"DELETE FROM ",
}

// ParseSnapshot validates the framing of a SQL dump and splits it into
// statements. It never touches a database.
func ParseSnapshot(text string) ([]string, error) {
	trimmed := strings.TrimLeft(text, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, DumpHeader) {
		return nil, fmt.Errorf("%w: missing dump header", domain.ErrInvalidSnapshotFormat)
	}
	if !strings.HasSuffix(strings.TrimRight(trimmed, " \t\r\n"), DumpTrailer) {
		return nil, fmt.Errorf("%w: missing dump trailer, the snapshot is truncated", domain.ErrInvalidSnapshotFormat)
	}

	stmts, err := splitStatements(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSnapshotFormat, err)
	}
	for i, stmt := range stmts {
		if !allowedStatement(stmt) {
			return nil, fmt.Errorf("%w: statement %d is not allowed in a snapshot: %s",
				domain.ErrInvalidSnapshotFormat, i+1, abbreviate(stmt, 60))
		}
	}
	return stmts, nil
}

func allowedStatement(stmt string) bool {
	head := statementHead(stmt)
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

// statementHead returns the normalized, upper-cased leading keywords of stmt.
func statementHead(stmt string) string {
	head := stmt
	if len(head) > 64 {
		head = head[:64]
	}
	return strings.ToUpper(strings.Join(strings.Fields(head), " ")) + " "
}

// splitStatements splits SQL text on semicolons outside of literals,
// quoted identifiers and comments. Comments are dropped.
func splitStatements(text string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s+";")
		}
		cur.Reset()
	}

	n := len(text)
	for i := 0; i < n; i++ {
		c := text[i]
		switch {
		case c == '-' && i+1 < n && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				i = n
			} else {
				i += end
			}
			cur.WriteByte(' ')
		case c == '/' && i+1 < n && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment")
			}
			i += end + 3
			cur.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closing := c
			if c == '[' {
				closing = ']'
			}
			end, ok := scanQuoted(text, i, closing)
			if !ok {
				return nil, fmt.Errorf("unterminated quoted text starting at offset %d", i)
			}
			cur.WriteString(text[i : end+1])
			i = end
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}

	if rest := strings.TrimSpace(cur.String()); rest != "" {
		return nil, fmt.Errorf("unterminated statement: %s", abbreviate(rest, 60))
	}
	return stmts, nil
}

// scanQuoted returns the index of the closing quote of the literal opened at
// start. A doubled quote is an escaped quote.
func scanQuoted(text string, start int, closing byte) (int, bool) {
	for j := start + 1; j < len(text); j++ {
		if text[j] != closing {
			continue
		}
		if closing != ']' && j+1 < len(text) && text[j+1] == closing {
			j++
			continue
		}
		return j, true
	}
	return 0, false
}

func abbreviate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

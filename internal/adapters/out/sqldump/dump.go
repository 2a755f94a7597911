// Package sqldump produces and replays logical snapshots of a SQLite database.
package sqldump

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/domain"
)

// Dump framing. The trailer is how a restore tells a complete dump from a truncated one.
const (
	DumpHeader  = "-- snapkeep database dump"
	DumpTrailer = "-- snapkeep dump complete"

	// JSONFormatVersion identifies JSON dumps.
	JSONFormatVersion = "snapkeep-json/1"
)

// Dumper streams consistent snapshots of db.
type Dumper struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDumper creates a dumper over the live database.
func NewDumper(db *sql.DB, log zerolog.Logger) *Dumper {
	return &Dumper{db: db, log: log.With().Str("component", "dump_engine").Logger()}
}

// Dump starts a snapshot in a single read transaction and returns the stream.
// The stream fails with domain.ErrDumpFailed if the snapshot cannot complete,
// so consumers never see a partial dump as a clean EOF.
func (d *Dumper) Dump(ctx context.Context, format domain.BackupFormat) (io.ReadCloser, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: unknown format %q", domain.ErrDumpFailed, format)
	}

	pr, pw := io.Pipe()
	go func() {
		err := d.write(ctx, pw, format)
		if err != nil {
			d.log.Warn().Err(err).Str("format", string(format)).Msg("dump aborted")
			pw.CloseWithError(fmt.Errorf("%w: %w", domain.ErrDumpFailed, err))
			return
		}
		pw.Close()
	}()
	return pr, nil
}

type tableInfo struct {
	name   string
	schema string
}

type objectInfo struct {
	kind   string
	name   string
	schema string
}

// sequenceInfo is an AUTOINCREMENT counter from sqlite_sequence.
type sequenceInfo struct {
	table string
	seq   int64
}

type snapshotSchema struct {
	tables    []tableInfo
	indexes   []objectInfo
	views     []objectInfo
	sequences []sequenceInfo
}

func (d *Dumper) write(ctx context.Context, w io.Writer, format domain.BackupFormat) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	schema, err := loadSchema(ctx, tx)
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	switch format {
	case domain.BackupFormatJSON:
		err = writeJSON(ctx, tx, bw, schema)
	default:
		err = writeSQL(ctx, tx, bw, schema)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func loadSchema(ctx context.Context, tx *sql.Tx) (snapshotSchema, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT type, name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return snapshotSchema{}, fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var (
		schema snapshotSchema
		tables = map[string]tableInfo{}
	)
	for rows.Next() {
		var kind, name, ddl string
		if err := rows.Scan(&kind, &name, &ddl); err != nil {
			return snapshotSchema{}, fmt.Errorf("scan schema: %w", err)
		}
		switch kind {
		case "table":
			// Virtual tables cannot be recreated from a plain dump.
			if strings.HasPrefix(strings.ToUpper(ddl), "CREATE VIRTUAL") {
				continue
			}
			tables[name] = tableInfo{name: name, schema: ddl}
		case "index":
			schema.indexes = append(schema.indexes, objectInfo{kind: kind, name: name, schema: ddl})
		case "view":
			schema.views = append(schema.views, objectInfo{kind: kind, name: name, schema: ddl})
		}
	}
	if err := rows.Err(); err != nil {
		return snapshotSchema{}, fmt.Errorf("read schema: %w", err)
	}
	rows.Close()

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	deps := make(map[string][]string, len(names))
	for _, name := range names {
		parents, err := foreignKeyParents(ctx, tx, name)
		if err != nil {
			return snapshotSchema{}, err
		}
		deps[name] = parents
	}

	for _, name := range orderTables(names, deps) {
		schema.tables = append(schema.tables, tables[name])
	}

	seqs, err := loadSequences(ctx, tx, tables)
	if err != nil {
		return snapshotSchema{}, err
	}
	schema.sequences = seqs
	return schema, nil
}

// loadSequences reads the AUTOINCREMENT counters of the dumped tables.
func loadSequences(ctx context.Context, tx *sql.Tx, tables map[string]tableInfo) ([]sequenceInfo, error) {
	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'`,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	if exists == 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT name, seq FROM sqlite_sequence ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	defer rows.Close()

	var seqs []sequenceInfo
	for rows.Next() {
		var sq sequenceInfo
		if err := rows.Scan(&sq.table, &sq.seq); err != nil {
			return nil, fmt.Errorf("scan sequences: %w", err)
		}
		if _, ok := tables[sq.table]; ok {
			seqs = append(seqs, sq)
		}
	}
	return seqs, rows.Err()
}

func foreignKeyParents(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT "table" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("read foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, fmt.Errorf("scan foreign keys of %s: %w", table, err)
		}
		parents = append(parents, parent)
	}
	return parents, rows.Err()
}

// orderTables sorts tables so referenced tables come before the tables that
// reference them. Ties and cycle members are ordered by name.
func orderTables(names []string, deps map[string][]string) []string {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	indegree := make(map[string]int, len(names))
	children := make(map[string][]string, len(names))
	for _, child := range names {
		seen := map[string]bool{}
		for _, parent := range deps[child] {
			if parent == child || !known[parent] || seen[parent] {
				continue
			}
			seen[parent] = true
			indegree[child]++
			children[parent] = append(children[parent], child)
		}
	}

	var ready []string
	for _, n := range names {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(names))
	placed := make(map[string]bool, len(names))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)
		placed[next] = true

		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) < len(names) {
		var cyclic []string
		for _, n := range names {
			if !placed[n] {
				cyclic = append(cyclic, n)
			}
		}
		sort.Strings(cyclic)
		ordered = append(ordered, cyclic...)
	}
	return ordered
}

func writeSQL(ctx context.Context, tx *sql.Tx, w *bufio.Writer, schema snapshotSchema) error {
	var b strings.Builder
	b.WriteString(DumpHeader + "\n")
	for _, v := range schema.views {
		fmt.Fprintf(&b, "DROP VIEW IF EXISTS %s;\n", quoteIdent(v.name))
	}
	for i := len(schema.tables) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s;\n", quoteIdent(schema.tables[i].name))
	}
	for _, t := range schema.tables {
		b.WriteString(terminate(t.schema))
	}
	if _, err := w.WriteString(b.String()); err != nil {
		return err
	}

	for _, t := range schema.tables {
		if err := writeInserts(ctx, tx, w, t.name); err != nil {
			return err
		}
	}

	b.Reset()
	for _, sq := range schema.sequences {
		fmt.Fprintf(&b, "DELETE FROM %s WHERE name = %s;\n", quoteIdent(sequenceTable), quoteString(sq.table))
		fmt.Fprintf(&b, "INSERT INTO %s (name, seq) VALUES (%s, %d);\n", quoteIdent(sequenceTable), quoteString(sq.table), sq.seq)
	}
	for _, idx := range schema.indexes {
		b.WriteString(terminate(idx.schema))
	}
	for _, v := range schema.views {
		b.WriteString(terminate(v.schema))
	}
	b.WriteString(DumpTrailer + "\n")
	_, err := w.WriteString(b.String())
	return err
}

// writeInserts renders rows with SQLite's own quote(), so every value is
// written back with its exact storage class and text.
func writeInserts(ctx context.Context, tx *sql.Tx, w *bufio.Writer, table string) error {
	columns, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	cols := make([]string, len(columns))
	exprs := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
		exprs[i] = "quote(" + quoteIdent(c) + ")"
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES (", quoteIdent(table), strings.Join(cols, ", "))

	lits := make([]string, len(columns))
	dest := make([]any, len(columns))
	for i := range lits {
		dest[i] = &lits[i]
	}
	return scanTable(ctx, tx, table, exprs, dest, func() error {
		_, err := w.WriteString(prefix + strings.Join(lits, ", ") + ");\n")
		return err
	})
}

// scanTable selects exprs from table and calls fn after scanning each row into dest.
func scanTable(ctx context.Context, tx *sql.Tx, table string, exprs []string, dest []any, fn func() error) error {
	if len(exprs) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, "SELECT "+strings.Join(exprs, ", ")+" FROM "+quoteIdent(table))
	if err != nil {
		return fmt.Errorf("read table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan row of %s: %w", table, err)
		}
		if err := fn(); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read table %s: %w", table, err)
	}
	return nil
}

func terminate(ddl string) string {
	ddl = strings.TrimSpace(ddl)
	if !strings.HasSuffix(ddl, ";") {
		ddl += ";"
	}
	return ddl + "\n"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sequenceTable holds SQLite's AUTOINCREMENT counters.
const sequenceTable = "sqlite_sequence"

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type jsonTableHeader struct {
	Name    string   `json:"name"`
	Schema  string   `json:"schema"`
	Columns []string `json:"columns"`
}

func writeJSON(ctx context.Context, tx *sql.Tx, w *bufio.Writer, schema snapshotSchema) error {
	if _, err := fmt.Fprintf(w, `{"format":%q,"tables":[`, JSONFormatVersion); err != nil {
		return err
	}
	for i, t := range schema.tables {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := writeJSONTable(ctx, tx, w, t); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(`],"sequences":`); err != nil {
		return err
	}
	seqs := make(map[string]int64, len(schema.sequences))
	for _, sq := range schema.sequences {
		seqs[sq.table] = sq.seq
	}
	data, err := json.Marshal(seqs)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.WriteString("}\n")
	return err
}

func writeJSONTable(ctx context.Context, tx *sql.Tx, w *bufio.Writer, t tableInfo) error {
	columns, err := tableColumns(ctx, tx, t.name)
	if err != nil {
		return err
	}
	head, err := json.Marshal(jsonTableHeader{Name: t.name, Schema: t.schema, Columns: columns})
	if err != nil {
		return err
	}
	// Reopen the object to append the rows array.
	if _, err := w.Write(head[:len(head)-1]); err != nil {
		return err
	}
	if _, err := w.WriteString(`,"rows":[`); err != nil {
		return err
	}

	// Unary plus drops the declared column type, so the driver hands back
	// storage-class values instead of converting DATE/DATETIME text.
	exprs := make([]string, len(columns))
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i, c := range columns {
		exprs[i] = "+" + quoteIdent(c)
		dest[i] = &values[i]
	}

	first := true
	err = scanTable(ctx, tx, t.name, exprs, dest, func() error {
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = jsonValue(v)
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if !first {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		first = false
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	_, err = w.WriteString("]}")
	return err
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan columns of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case []byte:
		// Blobs are hex encoded so the document stays diffable.
		return hex.EncodeToString(val)
	default:
		return val
	}
}

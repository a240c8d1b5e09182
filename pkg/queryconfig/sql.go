package queryconfig

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/partition"
	"github.com/dsrkit/dsrkit/pkg/policy"
)

// SQLStatement is a parameterized SQL statement in the dialect's placeholder format.
type SQLStatement struct {
	SQL  string
	Args []any

	// Partitions holds one statement per time window for partitioned
	// collections. When set, the windows are executed instead of SQL.
	Partitions []SQLStatement

	// raw is SQL with '?' placeholders, used to inline values for display.
	raw string
}

func (*SQLStatement) statement() {}

// Windows returns the statements to execute, one per partition or just s.
func (s *SQLStatement) Windows() []SQLStatement {
	if len(s.Partitions) > 0 {
		return s.Partitions
	}
	return []SQLStatement{*s}
}

type sqlDialect struct {
	name        string
	quote       func(string) string
	placeholder sq.PlaceholderFormat
	// arrayParam binds multiple values as one array parameter instead of one parameter per value.
	arrayParam bool
	partition  partition.Dialect
}

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func bracket(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

var (
	postgresDialect = sqlDialect{name: "postgres", quote: doubleQuote, placeholder: sq.Dollar, arrayParam: true, partition: partition.Postgres}
	mysqlDialect    = sqlDialect{name: "mysql", quote: backtick, placeholder: sq.Question, partition: partition.MySQL}
	sqliteDialect   = sqlDialect{name: "sqlite", quote: doubleQuote, placeholder: sq.Question, partition: partition.SQLite}
	mssqlDialect    = sqlDialect{name: "mssql", quote: bracket, placeholder: sq.AtP, partition: partition.MSSQL}
)

type sqlQueryConfig struct {
	base
	dialect sqlDialect
	now     func() time.Time
}

func newSQLQueryConfig(n Node, o options, d sqlDialect) *sqlQueryConfig {
	return &sqlQueryConfig{base: base{node: n}, dialect: d, now: o.now}
}

func (q *sqlQueryConfig) table() string {
	return q.dialect.quote(q.node.Collection.Name)
}

func (q *sqlQueryConfig) column(path graph.FieldPath) (string, error) {
	if len(path.Levels()) != 1 {
		return "", fmt.Errorf("%w: %s: nested field %q cannot be addressed in %s", ErrSQLTranslation, q.node.Address, path, q.dialect.name)
	}
	return q.dialect.quote(path.String()), nil
}

func (q *sqlQueryConfig) selectBuilder(fvs []fieldValues) (sq.SelectBuilder, error) {
	names := q.node.Collection.TopLevelFieldNames()
	columns := make([]string, 0, len(names))
	for _, name := range names {
		columns = append(columns, q.dialect.quote(name))
	}

	clauses := make([]sq.Sqlizer, 0, len(fvs))
	for _, fv := range fvs {
		col, err := q.column(fv.path)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		switch {
		case len(fv.values) == 1:
			clauses = append(clauses, sq.Eq{col: fv.values[0]})
		case q.dialect.arrayParam:
			clauses = append(clauses, sq.Expr(col+" = ANY(?)", arrayValue(fv.values)))
		default:
			clauses = append(clauses, sq.Eq{col: fv.values})
		}
	}

	sb := sq.Select(columns...).From(q.table())
	if len(clauses) == 1 {
		return sb.Where(clauses[0]), nil
	}
	return sb.Where(sq.Or(clauses)), nil
}

func (q *sqlQueryConfig) withPartitions(stmt *SQLStatement, sb sq.SelectBuilder) (*SQLStatement, error) {
	specs := q.node.Collection.Partitioning
	if len(specs) == 0 {
		return stmt, nil
	}

	exprs, err := partition.Combine(specs, q.dialect.partition, q.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSQLTranslation, q.node.Address, err)
	}
	for _, expr := range exprs {
		windowed := sb.Where(sq.Expr(expr))
		window, err := newSQLStatement(windowed.PlaceholderFormat(q.dialect.placeholder), windowed)
		if err != nil {
			return nil, err
		}
		stmt.Partitions = append(stmt.Partitions, *window)
	}
	return stmt, nil
}

func (q *sqlQueryConfig) GenerateQuery(inputs Inputs) (Statement, error) {
	fvs := q.filteredInputs(inputs)
	if len(fvs) == 0 {
		return nil, nil
	}
	return q.generate(fvs)
}

func (q *sqlQueryConfig) generate(fvs []fieldValues) (*SQLStatement, error) {
	sb, err := q.selectBuilder(fvs)
	if err != nil {
		return nil, err
	}
	stmt, err := newSQLStatement(sb.PlaceholderFormat(q.dialect.placeholder), sb)
	if err != nil {
		return nil, err
	}
	return q.withPartitions(stmt, sb)
}

func (q *sqlQueryConfig) GenerateUpdate(row Row, p *policy.Policy, requestID string) (Statement, error) {
	keys := q.primaryKeys(row)
	if len(keys) == 0 {
		return nil, nil
	}
	masked, err := q.maskedValues(row, p, requestID, false)
	if err != nil {
		return nil, err
	}
	if len(masked) == 0 {
		return nil, nil
	}

	set := make(map[string]any, len(masked))
	for path, v := range masked {
		set[q.dialect.quote(path.String())] = v
	}

	where := sq.Eq{}
	for _, path := range sortedPaths(keys) {
		col, err := q.column(path)
		if err != nil {
			return nil, err
		}
		where[col] = keys[path]
	}

	ub := sq.Update(q.table()).SetMap(set).Where(where)
	return newSQLStatement(ub.PlaceholderFormat(q.dialect.placeholder), ub)
}

func (q *sqlQueryConfig) DryRunQuery() (string, error) {
	fvs := q.placeholderInputs("?")
	if len(fvs) == 0 {
		return "", fmt.Errorf("%w: %s has no query fields", ErrSQLTranslation, q.node.Address)
	}
	stmt, err := q.generate(fvs)
	if err != nil {
		return "", err
	}

	windows := stmt.Windows()
	out := make([]string, 0, len(windows))
	for _, w := range windows {
		out = append(out, w.SQL)
	}
	return strings.Join(out, "\n"), nil
}

func (q *sqlQueryConfig) QueryToString(stmt Statement) string {
	s, ok := stmt.(*SQLStatement)
	if !ok || s == nil {
		return ""
	}
	windows := s.Windows()
	out := make([]string, 0, len(windows))
	for _, w := range windows {
		out = append(out, inline(w.raw, w.Args, q.dialect))
	}
	return strings.Join(out, "\n")
}

func newSQLStatement(formatted, raw sq.Sqlizer) (*SQLStatement, error) {
	query, args, err := formatted.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLTranslation, err)
	}
	rawQuery, _, err := raw.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLTranslation, err)
	}
	return &SQLStatement{SQL: query, Args: args, raw: rawQuery}, nil
}

// arrayValue converts values into a slice the postgres driver binds as an array.
func arrayValue(values []any) any {
	switch values[0].(type) {
	case string:
		out := make([]string, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return stringArray(values)
			}
			out = append(out, s)
		}
		return out
	case int64:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			i, ok := v.(int64)
			if !ok {
				return stringArray(values)
			}
			out = append(out, i)
		}
		return out
	}
	return stringArray(values)
}

func stringArray(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// inline replaces each '?' placeholder of query with the literal form of its argument.
func inline(query string, args []any, d sqlDialect) string {
	if query == "" {
		return ""
	}
	var sb strings.Builder
	i := 0
	for _, r := range query {
		if r == '?' && i < len(args) {
			sb.WriteString(literal(args[i], d))
			i++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func literal(v any, d sqlDialect) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case []string:
		items := make([]any, 0, len(t))
		for _, s := range t {
			items = append(items, s)
		}
		return arrayLiteral(items, d)
	case []int64:
		items := make([]any, 0, len(t))
		for _, n := range t {
			items = append(items, n)
		}
		return arrayLiteral(items, d)
	case int, int32, int64, float32, float64:
		return fmt.Sprint(t)
	}
	return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
}

func arrayLiteral(items []any, d sqlDialect) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, literal(item, d))
	}
	return "ARRAY[" + strings.Join(parts, ", ") + "]"
}

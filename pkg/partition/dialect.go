package partition

import (
	"fmt"
	"strings"
	"time"
)

// Dialect renders bounds for one store.
type Dialect interface {
	Name() string
	QuoteField(name string) string
	Literal(l Literal, t time.Time) string
	Now() string
	Today() string
	// Shift renders base moved by a signed amount of units with the store's
	// native interval arithmetic.
	Shift(base string, amount int, unit Unit) string
	// NativeCalendar reports whether month and year steps between literals are
	// rendered through Shift instead of being computed up front.
	NativeCalendar() bool
}

var (
	Generic  Dialect = genericDialect{}
	Postgres Dialect = postgresDialect{}
	MySQL    Dialect = mysqlDialect{}
	SQLite   Dialect = sqliteDialect{}
	MSSQL    Dialect = mssqlDialect{}
	BigQuery Dialect = bigqueryDialect{}
)

var dialects = map[string]Dialect{
	"generic":  Generic,
	"postgres": Postgres,
	"mysql":    MySQL,
	"sqlite":   SQLite,
	"mssql":    MSSQL,
	"bigquery": BigQuery,
}

// DialectFor looks up a dialect by name.
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported partition dialect %q", name)
	}
	return d, nil
}

func quoted(s string) string {
	return "'" + s + "'"
}

func pluralUnit(amount int, unit Unit) string {
	if amount == 1 || amount == -1 {
		return unit.String()
	}
	return unit.String() + "S"
}

// genericDialect renders expressions the way they are written in dataset files.
// Literals keep the quoting they were written with.
type genericDialect struct{}

func (genericDialect) Name() string                  { return "generic" }
func (genericDialect) QuoteField(name string) string { return name }
func (genericDialect) Now() string                   { return "NOW()" }
func (genericDialect) Today() string                 { return "TODAY()" }
func (genericDialect) NativeCalendar() bool          { return false }

func (genericDialect) Literal(l Literal, t time.Time) string {
	if l.Quoted {
		return quoted(l.format(t))
	}
	return l.format(t)
}

func (genericDialect) Shift(base string, amount int, unit Unit) string {
	sign := "+"
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s %d %s", base, sign, amount, pluralUnit(amount, unit))
}

type postgresDialect struct{}

func (postgresDialect) Name() string                  { return "postgres" }
func (postgresDialect) QuoteField(name string) string { return `"` + name + `"` }
func (postgresDialect) Now() string                   { return "NOW()" }
func (postgresDialect) Today() string                 { return "CURRENT_DATE" }
func (postgresDialect) NativeCalendar() bool          { return true }

func (postgresDialect) Literal(l Literal, t time.Time) string {
	if l.HasTime {
		return "TIMESTAMP " + quoted(l.format(t))
	}
	return "DATE " + quoted(l.format(t))
}

func (postgresDialect) Shift(base string, amount int, unit Unit) string {
	op := "+"
	if amount < 0 {
		op = "-"
		amount = -amount
	}
	return fmt.Sprintf("(%s %s INTERVAL '%d %s')", base, op, amount, strings.ToLower(pluralUnit(amount, unit)))
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string                  { return "mysql" }
func (mysqlDialect) QuoteField(name string) string { return "`" + name + "`" }
func (mysqlDialect) Now() string                   { return "NOW()" }
func (mysqlDialect) Today() string                 { return "CURDATE()" }
func (mysqlDialect) NativeCalendar() bool          { return true }

func (mysqlDialect) Literal(l Literal, t time.Time) string {
	return quoted(l.format(t))
}

func (mysqlDialect) Shift(base string, amount int, unit Unit) string {
	fn := "DATE_ADD"
	if amount < 0 {
		fn = "DATE_SUB"
		amount = -amount
	}
	return fmt.Sprintf("%s(%s, INTERVAL %d %s)", fn, base, amount, unit)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                  { return "sqlite" }
func (sqliteDialect) QuoteField(name string) string { return `"` + name + `"` }
func (sqliteDialect) Now() string                   { return "datetime('now')" }
func (sqliteDialect) Today() string                 { return "date('now')" }
func (sqliteDialect) NativeCalendar() bool          { return true }

func (sqliteDialect) Literal(l Literal, t time.Time) string {
	return quoted(l.format(t))
}

// Shift uses datetime modifiers. SQLite has no week modifier.
func (sqliteDialect) Shift(base string, amount int, unit Unit) string {
	if unit == Week {
		amount *= 7
		unit = Day
	}
	return fmt.Sprintf("datetime(%s, '%+d %s')", base, amount, strings.ToLower(pluralUnit(amount, unit)))
}

type mssqlDialect struct{}

func (mssqlDialect) Name() string                  { return "mssql" }
func (mssqlDialect) QuoteField(name string) string { return "[" + name + "]" }
func (mssqlDialect) Now() string                   { return "GETDATE()" }
func (mssqlDialect) Today() string                 { return "CAST(GETDATE() AS DATE)" }
func (mssqlDialect) NativeCalendar() bool          { return true }

func (mssqlDialect) Literal(l Literal, t time.Time) string {
	return quoted(l.format(t))
}

func (mssqlDialect) Shift(base string, amount int, unit Unit) string {
	return fmt.Sprintf("DATEADD(%s, %d, %s)", strings.ToLower(unit.String()), amount, base)
}

type bigqueryDialect struct{}

func (bigqueryDialect) Name() string                  { return "bigquery" }
func (bigqueryDialect) QuoteField(name string) string { return "`" + name + "`" }
func (bigqueryDialect) Now() string                   { return "CURRENT_DATETIME()" }
func (bigqueryDialect) Today() string                 { return "DATETIME(CURRENT_DATE())" }
func (bigqueryDialect) NativeCalendar() bool          { return true }

// Literal renders every bound as DATETIME so Shift can use one function family.
func (bigqueryDialect) Literal(l Literal, t time.Time) string {
	return "DATETIME(" + quoted(l.format(t)) + ")"
}

func (bigqueryDialect) Shift(base string, amount int, unit Unit) string {
	fn := "DATETIME_ADD"
	if amount < 0 {
		fn = "DATETIME_SUB"
		amount = -amount
	}
	return fmt.Sprintf("%s(%s, INTERVAL %d %s)", fn, base, amount, unit)
}

// render renders a parsed bound for d.
func render(d Dialect, e Expr) string {
	switch v := e.(type) {
	case Literal:
		return d.Literal(v, v.Time)
	case Now:
		return d.Now()
	case Today:
		return d.Today()
	case Offset:
		base := render(d, v.Base)
		if v.Amount == 0 {
			return base
		}
		return d.Shift(base, v.Amount, v.Unit)
	}
	return ""
}

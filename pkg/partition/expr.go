// Package partition splits a bounded range scan on one column into a sequence of
// non-overlapping boundary expressions, rendered for a target SQL dialect.
package partition

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	ErrInvalidExpression = errors.New("invalid partition expression")
	ErrForbiddenKeyword  = errors.New("partition expression contains a forbidden keyword")
	ErrInvalidInterval   = errors.New("invalid partition interval")
)

// Unit is the calendar unit of an offset or interval.
type Unit int

const (
	Day Unit = iota
	Week
	Month
	Year
)

func (u Unit) String() string {
	switch u {
	case Week:
		return "WEEK"
	case Month:
		return "MONTH"
	case Year:
		return "YEAR"
	default:
		return "DAY"
	}
}

// fixed reports whether the unit has a fixed length.
func (u Unit) fixed() bool {
	return u == Day || u == Week
}

func parseUnit(word string) (Unit, bool) {
	switch strings.ToUpper(word) {
	case "DAY", "DAYS":
		return Day, true
	case "WEEK", "WEEKS":
		return Week, true
	case "MONTH", "MONTHS":
		return Month, true
	case "YEAR", "YEARS":
		return Year, true
	}
	return 0, false
}

// shift moves t by amount units. Day and week are fixed-length; month and year step the calendar.
func shift(t time.Time, amount int, unit Unit) time.Time {
	switch unit {
	case Week:
		return t.Add(time.Duration(amount) * 7 * 24 * time.Hour)
	case Month:
		return addMonths(t, amount)
	case Year:
		return addMonths(t, 12*amount)
	default:
		return t.Add(time.Duration(amount) * 24 * time.Hour)
	}
}

// addMonths moves t by n calendar months, clamping the day to the last day of
// the target month the way SQL interval arithmetic does (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// Expr is a parsed start or end bound.
type Expr interface {
	// Eval resolves the expression against the given evaluation time.
	Eval(now time.Time) time.Time
	// Dynamic reports whether the expression depends on the evaluation time.
	Dynamic() bool
}

// Literal is a fixed date or datetime.
type Literal struct {
	Time    time.Time
	HasTime bool
	Quoted  bool
}

func (l Literal) Eval(time.Time) time.Time { return l.Time }
func (l Literal) Dynamic() bool            { return false }

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// format renders t using the layout of l, without quotes.
func (l Literal) format(t time.Time) string {
	if l.HasTime {
		return t.Format(datetimeLayout)
	}
	return t.Format(dateLayout)
}

// Now is the current timestamp.
type Now struct{}

func (Now) Eval(now time.Time) time.Time { return now }
func (Now) Dynamic() bool                { return true }

// Today is the current date at midnight.
type Today struct{}

func (Today) Eval(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
func (Today) Dynamic() bool { return true }

// Offset is NOW() or TODAY() shifted by a signed amount of units.
type Offset struct {
	Base   Expr
	Amount int // signed
	Unit   Unit
}

func (o Offset) Eval(now time.Time) time.Time {
	return shift(o.Base.Eval(now), o.Amount, o.Unit)
}
func (o Offset) Dynamic() bool { return true }

var forbiddenKeywords = regexp.MustCompile(`(?i)\b(UNION|INSERT|UPDATE|CREATE|DROP|SELECT|CHAR|HAVING|EXEC)\b`)

var literalLayouts = []struct {
	layout  string
	hasTime bool
}{
	{dateLayout, false},
	{datetimeLayout, true},
	{"2006-01-02T15:04:05", true},
	{time.RFC3339, true},
}

// Parse parses a bound expression: a date or datetime literal (optionally single
// or double quoted), NOW(), TODAY(), or either of those followed by
// "+ N UNIT" or "- N UNIT". Keywords are case-insensitive.
func Parse(s string) (Expr, error) {
	if forbiddenKeywords.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", ErrForbiddenKeyword, s)
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	if lit, ok := parseLiteral(trimmed); ok {
		return lit, nil
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	p := &parser{input: trimmed, tokens: tokens}
	return p.parse()
}

func parseLiteral(s string) (Literal, bool) {
	quoted := false
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
		quoted = true
	}
	for _, l := range literalLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return Literal{Time: t, HasTime: l.hasTime, Quoted: quoted}, true
		}
	}
	return Literal{}, false
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokLParen
	tokRParen
	tokPlus
	tokMinus
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var tokens []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case r == '+':
			tokens = append(tokens, token{tokPlus, "+"})
			i++
		case r == '-':
			tokens = append(tokens, token{tokMinus, "-"})
			i++
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, r, s)
		}
	}
	return tokens, nil
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s in %q", ErrInvalidExpression, fmt.Sprintf(format, args...), p.input)
}

func (p *parser) next() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	t := p.tokens[p.pos]
	p.pos++
	return t, true
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t, ok := p.next()
	if !ok || t.kind != kind {
		return token{}, p.errorf("expected %s", what)
	}
	return t, nil
}

// parse: expr := base [ ('+' | '-') NUMBER UNIT ]
func (p *parser) parse() (Expr, error) {
	base, err := p.parseBase()
	if err != nil {
		return nil, err
	}

	op, ok := p.next()
	if !ok {
		return base, nil
	}

	sign := 1
	switch op.kind {
	case tokPlus:
	case tokMinus:
		sign = -1
	default:
		return nil, p.errorf("unexpected %q", op.text)
	}

	num, err := p.expect(tokNumber, "a number")
	if err != nil {
		return nil, err
	}
	amount, err := strconv.Atoi(num.text)
	if err != nil {
		return nil, p.errorf("invalid number %q", num.text)
	}

	word, err := p.expect(tokWord, "a unit")
	if err != nil {
		return nil, err
	}
	unit, ok := parseUnit(word.text)
	if !ok {
		return nil, p.errorf("unknown unit %q", word.text)
	}

	if t, ok := p.next(); ok {
		return nil, p.errorf("unexpected trailing %q", t.text)
	}

	return Offset{Base: base, Amount: sign * amount, Unit: unit}, nil
}

// parseBase: base := ( NOW | TODAY ) '(' ')'
func (p *parser) parseBase() (Expr, error) {
	word, err := p.expect(tokWord, "NOW() or TODAY()")
	if err != nil {
		return nil, err
	}

	var base Expr
	switch strings.ToUpper(word.text) {
	case "NOW":
		base = Now{}
	case "TODAY":
		base = Today{}
	default:
		return nil, p.errorf("unknown function %q", word.text)
	}

	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return base, nil
}

// Interval is a positive step between partition boundaries.
type Interval struct {
	Amount int
	Unit   Unit
}

// ParseInterval parses intervals such as "7 days", "1 MONTH" or "2 weeks".
func ParseInterval(s string) (Interval, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	amount, err := strconv.Atoi(parts[0])
	if err != nil || amount <= 0 {
		return Interval{}, fmt.Errorf("%w: %q must start with a positive integer", ErrInvalidInterval, s)
	}

	unit, ok := parseUnit(parts[1])
	if !ok {
		return Interval{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidInterval, s)
	}

	return Interval{Amount: amount, Unit: unit}, nil
}

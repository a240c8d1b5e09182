package partition

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSpec = errors.New("invalid partition spec")
	ErrOverlap     = errors.New("partition specs overlap")
)

// maxSlices bounds the number of windows a single spec may expand into.
const maxSlices = 50000

// ValidationError reports which spec failed validation and why.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("partition on %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Spec describes the time window of one partitioned column.
type Spec struct {
	Field    string `json:"field"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Interval string `json:"interval,omitempty"`

	// ExclusiveStart makes the lower bound of the first slice exclusive.
	ExclusiveStart bool `json:"exclusive_start,omitempty"`
}

type parsedSpec struct {
	start, end Expr
	interval   Interval
}

func (s Spec) invalid(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: s.Field, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (s Spec) parse() (parsedSpec, error) {
	var p parsedSpec

	if s.Field == "" {
		return p, s.invalid(ErrInvalidSpec, "field is required")
	}
	if s.Start == "" && s.End == "" {
		return p, s.invalid(ErrInvalidSpec, "at least one of start or end is required")
	}

	var err error
	if s.Start != "" {
		if p.start, err = Parse(s.Start); err != nil {
			return p, s.invalid(err, "start: %v", err)
		}
	}
	if s.End != "" {
		if p.end, err = Parse(s.End); err != nil {
			return p, s.invalid(err, "end: %v", err)
		}
	}

	if p.start != nil && p.end != nil {
		if s.Interval == "" {
			return p, s.invalid(ErrInvalidSpec, "interval is required when both start and end are set")
		}
		if p.interval, err = ParseInterval(s.Interval); err != nil {
			return p, s.invalid(err, "%v", err)
		}
		if !p.start.Dynamic() && !p.end.Dynamic() && p.start.Eval(time.Time{}).After(p.end.Eval(time.Time{})) {
			return p, s.invalid(ErrInvalidSpec, "start is after end")
		}
	} else if s.Interval != "" {
		if p.interval, err = ParseInterval(s.Interval); err != nil {
			return p, s.invalid(err, "%v", err)
		}
	}

	return p, nil
}

// Validate checks the spec without rendering it.
func (s Spec) Validate() error {
	_, err := s.parse()
	return err
}

type boundary struct {
	sql string
	at  time.Time
}

// Expressions renders one boundary expression per slice, earliest first. Dynamic
// bounds are resolved against now only to decide how many slices are needed;
// they are rendered with the dialect's own functions.
func (s Spec) Expressions(d Dialect, now time.Time) ([]string, error) {
	p, err := s.parse()
	if err != nil {
		return nil, err
	}

	field := d.QuoteField(s.Field)
	lowerOp := ">="
	if s.ExclusiveStart {
		lowerOp = ">"
	}

	switch {
	case p.end == nil:
		return []string{fmt.Sprintf("%s %s %s", field, lowerOp, render(d, p.start))}, nil
	case p.start == nil:
		return []string{fmt.Sprintf("%s <= %s", field, render(d, p.end))}, nil
	}

	startAt, endAt := p.start.Eval(now), p.end.Eval(now)
	if startAt.After(endAt) {
		return nil, s.invalid(ErrInvalidSpec, "start resolves after end")
	}

	var bounds []boundary
	switch {
	case !p.start.Dynamic():
		bounds, err = forwardFromLiteral(d, p, startAt, endAt)
	case !p.end.Dynamic():
		bounds, err = backwardFromLiteral(d, p, startAt, endAt)
	default:
		bounds, err = backwardFromDynamic(d, p, startAt, endAt, now)
	}
	if err != nil {
		return nil, s.invalid(err, "%v", err)
	}

	exprs := make([]string, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		op := ">"
		if i == 0 {
			op = lowerOp
		}
		exprs = append(exprs, fmt.Sprintf("%s %s %s AND %s <= %s", field, op, bounds[i].sql, field, bounds[i+1].sql))
	}
	return exprs, nil
}

var errTooManySlices = fmt.Errorf("%w: more than %d slices", ErrInvalidSpec, maxSlices)

// anchorLiteral returns l carrying the datetime layout when either bound has a time component.
func anchorLiteral(l Literal, other Expr) Literal {
	if o, ok := other.(Literal); ok && o.HasTime {
		l.HasTime = true
	}
	return l
}

// literalStep renders anchor moved by k intervals.
func literalStep(d Dialect, anchor Literal, k int, iv Interval) boundary {
	at := shift(anchor.Time, k*iv.Amount, iv.Unit)
	if !iv.Unit.fixed() && d.NativeCalendar() {
		return boundary{sql: d.Shift(d.Literal(anchor, anchor.Time), k*iv.Amount, iv.Unit), at: at}
	}
	return boundary{sql: d.Literal(anchor, at), at: at}
}

func forwardFromLiteral(d Dialect, p parsedSpec, startAt, endAt time.Time) ([]boundary, error) {
	anchor := anchorLiteral(p.start.(Literal), p.end)
	bounds := []boundary{{sql: d.Literal(anchor, anchor.Time), at: startAt}}

	for k := 1; ; k++ {
		if k > maxSlices {
			return nil, errTooManySlices
		}
		b := literalStep(d, anchor, k, p.interval)
		if !b.at.Before(endAt) {
			break
		}
		bounds = append(bounds, b)
	}

	return append(bounds, boundary{sql: renderEnd(d, p.end, anchor), at: endAt}), nil
}

// renderEnd renders the final upper bound in the anchor's layout when it is a literal.
func renderEnd(d Dialect, end Expr, anchor Literal) string {
	if l, ok := end.(Literal); ok {
		anchor.Quoted = l.Quoted
		return d.Literal(anchor, l.Time)
	}
	return render(d, end)
}

func backwardFromLiteral(d Dialect, p parsedSpec, startAt, endAt time.Time) ([]boundary, error) {
	anchor := p.end.(Literal)
	bounds := []boundary{{sql: d.Literal(anchor, anchor.Time), at: endAt}}

	for k := 1; ; k++ {
		if k > maxSlices {
			return nil, errTooManySlices
		}
		b := literalStep(d, anchor, -k, p.interval)
		if !b.at.After(startAt) {
			break
		}
		bounds = append(bounds, b)
	}

	bounds = append(bounds, boundary{sql: render(d, p.start), at: startAt})
	reverse(bounds)
	return bounds, nil
}

// dynamicStep renders end moved back by k intervals, folding the step into
// end's own offset when the units agree.
func dynamicStep(d Dialect, end Expr, k int, iv Interval, now time.Time) boundary {
	amount := -k * iv.Amount
	var e Expr
	switch v := end.(type) {
	case Offset:
		if v.Unit == iv.Unit {
			e = Offset{Base: v.Base, Amount: v.Amount + amount, Unit: v.Unit}
		} else {
			return boundary{
				sql: d.Shift(render(d, v), amount, iv.Unit),
				at:  shift(v.Eval(now), amount, iv.Unit),
			}
		}
	default:
		e = Offset{Base: end, Amount: amount, Unit: iv.Unit}
	}
	return boundary{sql: render(d, e), at: e.Eval(now)}
}

func backwardFromDynamic(d Dialect, p parsedSpec, startAt, endAt, now time.Time) ([]boundary, error) {
	bounds := []boundary{{sql: render(d, p.end), at: endAt}}
	for k := 1; ; k++ {
		if k > maxSlices {
			return nil, errTooManySlices
		}
		b := dynamicStep(d, p.end, k, p.interval, now)
		if !b.at.After(startAt) {
			break
		}
		bounds = append(bounds, b)
	}

	bounds = append(bounds, boundary{sql: render(d, p.start), at: startAt})
	reverse(bounds)
	return bounds, nil
}

func reverse(b []boundary) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

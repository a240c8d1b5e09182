package partition

import (
	"fmt"
	"time"
)

// literalRange returns the resolved bounds of a spec whose start and end are both literals.
func literalRange(s Spec) (start, end time.Time, ok bool) {
	p, err := s.parse()
	if err != nil || p.start == nil || p.end == nil || p.start.Dynamic() || p.end.Dynamic() {
		return time.Time{}, time.Time{}, false
	}
	return p.start.Eval(time.Time{}), p.end.Eval(time.Time{}), true
}

func literalBound(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	e, err := Parse(raw)
	if err != nil {
		return time.Time{}, false
	}
	l, ok := e.(Literal)
	return l.Time, ok
}

// Chain returns a copy of specs in which every spec whose literal start equals the
// previous spec's literal end has an exclusive first slice, so the shared boundary
// row is read once. Only neighbours in list order are compared.
func Chain(specs []Spec) []Spec {
	chained := make([]Spec, len(specs))
	copy(chained, specs)

	for i := 1; i < len(chained); i++ {
		prevEnd, ok := literalBound(chained[i-1].End)
		if !ok {
			continue
		}
		start, ok := literalBound(chained[i].Start)
		if ok && start.Equal(prevEnd) {
			chained[i].ExclusiveStart = true
		}
	}
	return chained
}

// ValidateNoOverlap rejects any two specs on the same field whose literal ranges
// overlap. Ranges that only share an endpoint are allowed; Chain makes them
// disjoint. Specs with a dynamic bound are not compared.
func ValidateNoOverlap(specs []Spec) error {
	for i := 0; i < len(specs); i++ {
		aStart, aEnd, ok := literalRange(specs[i])
		if !ok {
			continue
		}
		for j := i + 1; j < len(specs); j++ {
			if specs[i].Field != specs[j].Field {
				continue
			}
			bStart, bEnd, ok := literalRange(specs[j])
			if !ok {
				continue
			}
			if aStart.Before(bEnd) && bStart.Before(aEnd) {
				return &ValidationError{
					Field:  specs[j].Field,
					Reason: fmt.Sprintf("[%s, %s] overlaps [%s, %s]", specs[i].Start, specs[i].End, specs[j].Start, specs[j].End),
					Err:    ErrOverlap,
				}
			}
		}
	}
	return nil
}

// Combine validates specs, chains adjacent ones and concatenates their expressions in list order.
func Combine(specs []Spec, d Dialect, now time.Time) ([]string, error) {
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if err := ValidateNoOverlap(specs); err != nil {
		return nil, err
	}

	var exprs []string
	for _, s := range Chain(specs) {
		e, err := s.Expressions(d, now)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e...)
	}
	return exprs, nil
}

package queryconfig

import (
	"fmt"
	"sort"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/policy"
)

// maskedValues computes the replacement of every field of row targeted by an
// erasure rule of p. The strategy is taken from the field override, then the
// collection override, then the rule. When several rules target a field the
// first one wins. Fields absent from row are left alone.
func (b base) maskedValues(row Row, p *policy.Policy, requestID string, nested bool) (map[graph.FieldPath]any, error) {
	out := make(map[graph.FieldPath]any)
	if p == nil {
		return out, nil
	}

	c := b.node.Collection
	byCategory := c.FieldsByCategory()

	for _, rule := range p.RulesFor(policy.ActionErasure) {
		for _, category := range sortedCategories(byCategory) {
			if !rule.Targets(category) {
				continue
			}
			for _, path := range byCategory[category] {
				if _, done := out[path]; done {
					continue
				}
				if !nested && len(path.Levels()) > 1 {
					continue
				}
				values := path.RetrieveFrom(row)
				if len(values) == 0 {
					continue
				}

				f, _ := c.FieldByPath(path)
				cfg := rule.MaskingStrategy
				switch {
				case f.MaskingStrategyOverride != nil:
					cfg = f.MaskingStrategyOverride
				case c.MaskingStrategyOverride != nil:
					cfg = c.MaskingStrategyOverride
				}
				if cfg == nil {
					return nil, fmt.Errorf("%w: no masking strategy for %s", ErrSQLTranslation, path)
				}

				strategy, err := masking.Get(*cfg)
				if err != nil {
					return nil, err
				}
				masked, err := strategy.Mask(values[:1], requestID)
				if err != nil {
					return nil, fmt.Errorf("mask %s: %w", path, err)
				}
				out[path] = masking.Truncate(masked[0], f.Length)
			}
		}
	}
	return out, nil
}

func sortedCategories(byCategory map[string][]graph.FieldPath) []string {
	out := make([]string, 0, len(byCategory))
	for k := range byCategory {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

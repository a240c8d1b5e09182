package queryconfig

import (
	"encoding/json"
	"fmt"

	"github.com/dsrkit/dsrkit/pkg/policy"
)

// ManualAction tells whoever resolves the collection which records to find,
// which fields to report and, for erasure, which fields to overwrite with what.
// HTTP connectors resolve the same descriptor against an API.
type ManualAction struct {
	Locators map[string][]any `json:"locators"`
	Get      []string         `json:"get,omitempty"`
	Update   map[string]any   `json:"update,omitempty"`
}

func (*ManualAction) statement() {}

type manualQueryConfig struct {
	base
}

func (q *manualQueryConfig) fieldsToGet() []string {
	var out []string
	for _, ff := range q.node.Collection.FieldPaths() {
		if len(ff.Field.Fields) == 0 {
			out = append(out, ff.Path.String())
		}
	}
	return out
}

func (q *manualQueryConfig) GenerateQuery(inputs Inputs) (Statement, error) {
	fvs := q.filteredInputs(inputs)
	if len(fvs) == 0 {
		return nil, nil
	}

	locators := make(map[string][]any, len(fvs))
	for _, fv := range fvs {
		locators[fv.path.String()] = fv.values
	}
	return &ManualAction{Locators: locators, Get: q.fieldsToGet()}, nil
}

func (q *manualQueryConfig) GenerateUpdate(row Row, p *policy.Policy, requestID string) (Statement, error) {
	keys := q.primaryKeys(row)
	if len(keys) == 0 {
		return nil, nil
	}
	masked, err := q.maskedValues(row, p, requestID, true)
	if err != nil {
		return nil, err
	}
	if len(masked) == 0 {
		return nil, nil
	}

	locators := make(map[string][]any, len(keys))
	for path, v := range keys {
		locators[path.String()] = []any{v}
	}
	update := make(map[string]any, len(masked))
	for path, v := range masked {
		update[path.String()] = v
	}
	return &ManualAction{Locators: locators, Update: update}, nil
}

func (q *manualQueryConfig) DryRunQuery() (string, error) {
	fvs := q.placeholderInputs("?")
	if len(fvs) == 0 {
		return "", fmt.Errorf("%w: %s has no query fields", ErrSQLTranslation, q.node.Address)
	}
	locators := make(map[string][]any, len(fvs))
	for _, fv := range fvs {
		locators[fv.path.String()] = fv.values
	}
	return q.QueryToString(&ManualAction{Locators: locators, Get: q.fieldsToGet()}), nil
}

func (q *manualQueryConfig) QueryToString(stmt Statement) string {
	a, ok := stmt.(*ManualAction)
	if !ok || a == nil {
		return ""
	}
	data, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(data)
}

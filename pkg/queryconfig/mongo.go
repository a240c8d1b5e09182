package queryconfig

import (
	"encoding/json"
	"fmt"

	"github.com/juju/mgo/v3/bson"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/policy"
)

// MongoStatement is a filter and projection for a read, or a filter and update
// document for a write. Database is left to the connector.
type MongoStatement struct {
	Database   string
	Collection string
	Filter     bson.M
	Projection bson.M
	Update     bson.M
}

func (*MongoStatement) statement() {}

type mongoQueryConfig struct {
	base
}

func mongoValue(f *graph.Field, v any) any {
	if s, ok := v.(string); ok && f.DataType == graph.ObjectIDType && bson.IsObjectIdHex(s) {
		return bson.ObjectIdHex(s)
	}
	return v
}

func (q *mongoQueryConfig) filter(fvs []fieldValues) bson.M {
	clauses := make([]bson.M, 0, len(fvs))
	for _, fv := range fvs {
		values := make([]any, 0, len(fv.values))
		for _, v := range fv.values {
			values = append(values, mongoValue(fv.field, v))
		}
		if len(values) == 1 {
			clauses = append(clauses, bson.M{fv.path.String(): values[0]})
		} else {
			clauses = append(clauses, bson.M{fv.path.String(): bson.M{"$in": values}})
		}
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return bson.M{"$or": clauses}
}

func (q *mongoQueryConfig) projection() bson.M {
	p := bson.M{}
	for _, name := range q.node.Collection.TopLevelFieldNames() {
		p[name] = 1
	}
	return p
}

func (q *mongoQueryConfig) GenerateQuery(inputs Inputs) (Statement, error) {
	fvs := q.filteredInputs(inputs)
	if len(fvs) == 0 {
		return nil, nil
	}
	return &MongoStatement{
		Collection: q.node.Collection.Name,
		Filter:     q.filter(fvs),
		Projection: q.projection(),
	}, nil
}

// GenerateUpdate masks nested fields too, addressing them with dot notation.
func (q *mongoQueryConfig) GenerateUpdate(row Row, p *policy.Policy, requestID string) (Statement, error) {
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

	filter := bson.M{}
	for path, v := range keys {
		f, _ := q.node.Collection.FieldByPath(path)
		filter[path.String()] = mongoValue(f, v)
	}
	set := bson.M{}
	for path, v := range masked {
		set[path.String()] = v
	}

	return &MongoStatement{
		Collection: q.node.Collection.Name,
		Filter:     filter,
		Update:     bson.M{"$set": set},
	}, nil
}

func (q *mongoQueryConfig) DryRunQuery() (string, error) {
	fvs := q.placeholderInputs("?")
	if len(fvs) == 0 {
		return "", fmt.Errorf("%w: %s has no query fields", ErrSQLTranslation, q.node.Address)
	}
	return q.QueryToString(&MongoStatement{
		Collection: q.node.Collection.Name,
		Filter:     q.filter(fvs),
		Projection: q.projection(),
	}), nil
}

func (q *mongoQueryConfig) QueryToString(stmt Statement) string {
	s, ok := stmt.(*MongoStatement)
	if !ok || s == nil {
		return ""
	}

	doc := s.Projection
	verb := "find"
	if s.Update != nil {
		doc, verb = s.Update, "update"
	}
	filter, _ := json.Marshal(s.Filter)
	second, _ := json.Marshal(doc)
	return fmt.Sprintf("db.%s.%s(%s, %s)", s.Collection, verb, filter, second)
}

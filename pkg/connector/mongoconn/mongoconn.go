// Package mongoconn executes find and update documents against MongoDB.
package mongoconn

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
)

var tracer = otel.Tracer("dsrkit/pkg/connector/mongoconn")

// store is the part of a MongoDB session the connector uses.
type store interface {
	find(database, collection string, filter, projection bson.M) ([]bson.M, error)
	updateAll(database, collection string, filter, update bson.M) (int, error)
	ping() error
	close()
}

type sessionStore struct {
	session *mgo.Session
}

func (s sessionStore) find(database, collection string, filter, projection bson.M) ([]bson.M, error) {
	session := s.session.Copy()
	defer session.Close()

	var docs []bson.M
	q := session.DB(database).C(collection).Find(filter)
	if len(projection) > 0 {
		q = q.Select(projection)
	}
	if err := q.All(&docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s sessionStore) updateAll(database, collection string, filter, update bson.M) (int, error) {
	session := s.session.Copy()
	defer session.Close()

	info, err := session.DB(database).C(collection).UpdateAll(filter, update)
	if err != nil {
		return 0, err
	}
	return info.Updated, nil
}

func (s sessionStore) ping() error {
	return s.session.Ping()
}

func (s sessionStore) close() {
	s.session.Close()
}

type Connector struct {
	key      string
	database string
	store    store
}

var _ connector.Connector = (*Connector)(nil)

// Dial connects to the MongoDB deployment at url. Statements run against database.
func Dial(key, url, database string, timeout time.Duration) (*Connector, error) {
	session, err := mgo.DialWithTimeout(url, timeout)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", key, err)
	}
	return &Connector{key: key, database: database, store: sessionStore{session: session}}, nil
}

func (c *Connector) Key() string { return c.key }

func (c *Connector) ConnectionType() queryconfig.ConnectionType { return queryconfig.MongoDB }

func (c *Connector) databaseFor(s *queryconfig.MongoStatement) string {
	if s.Database != "" {
		return s.Database
	}
	return c.database
}

func (c *Connector) Retrieve(ctx context.Context, stmt queryconfig.Statement) connector.Result {
	_, span := tracer.Start(ctx, "mongoconn.Retrieve")
	span.SetAttributes(attribute.String("connector", c.key))
	defer span.End()

	s, ok := stmt.(*queryconfig.MongoStatement)
	if !ok {
		return connector.Failed(fmt.Errorf("connector %s cannot run %T", c.key, stmt))
	}
	docs, err := c.store.find(c.databaseFor(s), s.Collection, s.Filter, s.Projection)
	if err != nil {
		span.RecordError(err)
		return connector.Failed(fmt.Errorf("connector %s: find in %s: %w", c.key, s.Collection, err))
	}

	rows := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, normalize(doc).(map[string]any))
	}
	return connector.Ready(rows)
}

func (c *Connector) Mask(ctx context.Context, stmts []queryconfig.Statement) connector.Result {
	_, span := tracer.Start(ctx, "mongoconn.Mask")
	span.SetAttributes(attribute.String("connector", c.key), attribute.Int("statements", len(stmts)))
	defer span.End()

	masked := 0
	for _, stmt := range stmts {
		s, ok := stmt.(*queryconfig.MongoStatement)
		if !ok {
			return connector.Failed(fmt.Errorf("connector %s cannot run %T", c.key, stmt))
		}
		n, err := c.store.updateAll(c.databaseFor(s), s.Collection, s.Filter, s.Update)
		if err != nil {
			span.RecordError(err)
			return connector.Failed(fmt.Errorf("connector %s: update %s: %w", c.key, s.Collection, err))
		}
		masked += n
	}
	return connector.Masked(masked)
}

func (c *Connector) Test(context.Context) error {
	return c.store.ping()
}

func (c *Connector) Close() error {
	c.store.close()
	return nil
}

// normalize turns BSON documents into plain maps so rows can feed downstream
// queries and be stored as JSON. Object ids become their hex form.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Name] = normalize(e.Value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case bson.ObjectId:
		return t.Hex()
	default:
		return v
	}
}

// Package manual is the connector for collections a person looks up and edits.
// Every call asks for input; the operator answers through the scheduler.
package manual

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
)

type Connector struct {
	key string
}

var _ connector.Connector = (*Connector)(nil)

func New(key string) *Connector {
	return &Connector{key: key}
}

func (c *Connector) Key() string { return c.key }

func (c *Connector) ConnectionType() queryconfig.ConnectionType { return queryconfig.Manual }

func describe(verb string, actions ...queryconfig.Statement) connector.Result {
	payload, err := json.Marshal(actions)
	if err != nil {
		return connector.Failed(err)
	}
	return connector.NeedsInput(fmt.Sprintf("%s: %s", verb, payload))
}

func (c *Connector) Retrieve(_ context.Context, stmt queryconfig.Statement) connector.Result {
	if _, ok := stmt.(*queryconfig.ManualAction); !ok {
		return connector.Failed(fmt.Errorf("manual connector %s cannot run %T", c.key, stmt))
	}
	return describe("retrieve records", stmt)
}

func (c *Connector) Mask(_ context.Context, stmts []queryconfig.Statement) connector.Result {
	for _, stmt := range stmts {
		if _, ok := stmt.(*queryconfig.ManualAction); !ok {
			return connector.Failed(fmt.Errorf("manual connector %s cannot run %T", c.key, stmt))
		}
	}
	return describe("mask records", stmts...)
}

func (c *Connector) Test(context.Context) error { return nil }

func (c *Connector) Close() error { return nil }

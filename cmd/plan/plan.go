// Package plan contains the command that prints the traversal of the dataset
// graph for an identity without contacting any datastore.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsrkit/dsrkit/cmd/util"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

const (
	datasetsFlag       = "datasets"
	identityFlag       = "identity"
	formatFlag         = "format"
	connectionTypeFlag = "connection-type"
)

func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the traversal of the dataset graph for an identity",
		Long: `Print the order in which collections are visited for the given identity.

The 'json' format prints every collection with its inbound and outbound field
edges, 'dot' prints a Graphviz digraph and 'queries' prints the read query of
every collection with placeholders in place of values.`,
		Example: `dsrkit plan --datasets ./datasets --identity email=jane@example.com
dsrkit plan --datasets shop.yml --identity email=jane@example.com --format queries --connection-type mysql`,
		RunE: runPlan,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.StringSlice(datasetsFlag, nil, "(required) dataset YAML files, or directories of them")
	flags.StringToString(identityFlag, nil, "(required) identity values seeding the traversal, e.g. email=jane@example.com")
	flags.String(formatFlag, "json", "output format: 'json', 'dot' or 'queries'")
	flags.String(connectionTypeFlag, string(queryconfig.Postgres), "the connection type queries are rendered for with --format queries")

	_ = cmd.MarkFlagRequired(datasetsFlag)
	_ = cmd.MarkFlagRequired(identityFlag)

	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	paths, _ := flags.GetStringSlice(datasetsFlag)
	identity, _ := flags.GetStringToString(identityFlag)
	format, _ := flags.GetString(formatFlag)
	connectionType, _ := flags.GetString(connectionTypeFlag)

	if len(identity) == 0 {
		return errors.New("at least one identity value is required")
	}

	g, err := util.LoadGraph(paths)
	if err != nil {
		return err
	}

	seeds := make(map[string]any, len(identity))
	for k, v := range identity {
		seeds[k] = v
	}
	t, err := traversal.New(g, seeds)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(t.Map())
	case "dot":
		_, err := fmt.Fprintln(out, t.DOT())
		return err
	case "queries":
		ct := queryconfig.ConnectionType(connectionType)
		for _, n := range t.Nodes() {
			qc, err := queryconfig.New(ct, queryconfig.NodeFromTraversal(n))
			if err != nil {
				return err
			}
			query, err := qc.DryRunQuery()
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "-- %s\n%s\n\n", n.Address, query); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q, must be one of 'json', 'dot' or 'queries'", format)
	}
}

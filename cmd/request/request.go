// Package request contains the commands that submit and manage privacy
// requests against the configured datastore and queue. A worker started with
// 'dsrkit run' against the same datastore and queue executes them.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsrkit/dsrkit/cmd/run"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/storage"
)

// StackOpener builds the stack a command runs against. The returned func releases it.
type StackOpener func(ctx context.Context) (*run.Stack, func(), error)

// OpenConfiguredStack reads the dsrkit configuration and builds its stack.
func OpenConfiguredStack(_ context.Context) (*run.Stack, func(), error) {
	cfg, err := run.ReadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Verify(); err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level, cfg.Log.TimestampFormat)
	if err != nil {
		return nil, nil, err
	}
	stack, err := run.NewStack(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return stack, stack.Close, nil
}

func NewRequestCommand() *cobra.Command {
	return newRequestCommand(OpenConfiguredStack)
}

func newRequestCommand(open StackOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Submit and manage privacy requests",
	}
	cmd.AddCommand(
		newSubmitCommand(open),
		newStatusCommand(open),
		newCancelCommand(open),
		newRerunCommand(open),
		newResolveCommand(open),
		newLogsCommand(open),
	)
	return cmd
}

// withStack runs fn against an opened stack and releases it afterwards.
func withStack(cmd *cobra.Command, open StackOpener, fn func(*run.Stack) error) error {
	stack, release, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer release()
	return fn(stack)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type requestView struct {
	ID        string                `json:"id"`
	Status    storage.RequestStatus `json:"status"`
	Policy    string                `json:"policy"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Tasks     []taskView            `json:"tasks,omitempty"`
}

type taskView struct {
	ID         string             `json:"id"`
	Collection string             `json:"collection"`
	Action     policy.ActionType  `json:"action"`
	Status     storage.TaskStatus `json:"status"`
	Rows       int                `json:"rows"`
	RowsMasked int                `json:"rows_masked"`
	Message    string             `json:"message,omitempty"`
}

func viewRequest(pr *storage.PrivacyRequest, tasks []*storage.RequestTask) requestView {
	v := requestView{
		ID:        pr.ID,
		Status:    pr.Status,
		CreatedAt: pr.CreatedAt,
		UpdatedAt: pr.UpdatedAt,
	}
	if pr.Policy != nil {
		v.Policy = pr.Policy.Key
	}
	for _, t := range tasks {
		if t.IsRoot() || t.IsTerminator() {
			continue
		}
		v.Tasks = append(v.Tasks, taskView{
			ID:         t.ID,
			Collection: t.Address.String(),
			Action:     t.ActionType,
			Status:     t.Status,
			Rows:       len(t.Rows),
			RowsMasked: t.RowsMasked,
			Message:    t.Message,
		})
	}
	return v
}

func newSubmitCommand(open StackOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a privacy request for an identity",
		Example: "dsrkit request submit --policy erasure.yml --identity email=jane@example.com",
		Args:    cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.String("policy", "", "(required) the policy YAML or JSON file")
	flags.StringToString("identity", nil, "(required) identity values, e.g. email=jane@example.com")
	_ = cmd.MarkFlagRequired("policy")
	_ = cmd.MarkFlagRequired("identity")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		policyPath, _ := cmd.Flags().GetString("policy")
		identity, _ := cmd.Flags().GetStringToString("identity")

		p, err := policy.LoadFile(policyPath)
		if err != nil {
			return err
		}
		seeds := make(map[string]any, len(identity))
		for k, v := range identity {
			seeds[k] = v
		}

		return withStack(cmd, open, func(s *run.Stack) error {
			pr, err := s.Scheduler.Submit(cmd.Context(), seeds, p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewRequest(pr, nil))
		})
	}
	return cmd
}

func newStatusCommand(open StackOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "status <privacy-request-id>",
		Short: "Print a privacy request and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, open, func(s *run.Stack) error {
				pr, err := s.Datastore.GetPrivacyRequest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tasks, err := s.Datastore.ListRequestTasks(cmd.Context(), storage.TaskFilter{PrivacyRequestID: pr.ID})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewRequest(pr, tasks))
			})
		},
	}
}

func newCancelCommand(open StackOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <privacy-request-id>",
		Short: "Cancel a privacy request that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, open, func(s *run.Stack) error {
				if err := s.Scheduler.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "privacy request %s canceled\n", args[0])
				return err
			})
		},
	}
}

func newRerunCommand(open StackOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <privacy-request-id>",
		Short: "Run a failed privacy request again, reusing the collections that need no rerun",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, open, func(s *run.Stack) error {
				diff, err := s.Scheduler.Rerun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), diff)
			})
		},
	}
}

func newResolveCommand(open StackOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <request-task-id>",
		Short: "Complete a manual task with the records found or the number of records erased",
		Example: `dsrkit request resolve rt_01J... --rows rows.json
dsrkit request resolve rt_01J... --masked 3`,
		Args: cobra.ExactArgs(1),
	}
	flags := cmd.Flags()
	flags.String("rows", "", "a JSON file holding the array of records found for an access task")
	flags.Int("masked", 0, "the number of records erased for an erasure task")
	cmd.MarkFlagsMutuallyExclusive("rows", "masked")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		rowsPath, _ := cmd.Flags().GetString("rows")
		masked, _ := cmd.Flags().GetInt("masked")
		if masked < 0 {
			return errors.New("--masked must not be negative")
		}

		var rows []map[string]any
		if rowsPath != "" {
			data, err := os.ReadFile(rowsPath)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &rows); err != nil {
				return fmt.Errorf("%s: %w", rowsPath, err)
			}
		}

		return withStack(cmd, open, func(s *run.Stack) error {
			if err := s.Scheduler.ResolveManualTask(cmd.Context(), args[0], rows, masked); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "request task %s resolved\n", args[0])
			return err
		})
	}
	return cmd
}

func newLogsCommand(open StackOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <privacy-request-id>",
		Short: "Print the execution log of a privacy request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, open, func(s *run.Stack) error {
				logs, err := s.Scheduler.ExecutionLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, l := range logs {
					if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
						l.CreatedAt.Format(time.RFC3339), l.Address, l.ActionType, l.Status, l.Message); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

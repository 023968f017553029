package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
)

// NewWorkflowCmd создаёт группу команд для управления workflow.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowCreateCmd(clientFn, outputFn),
	)
	return cmd
}

func workflowRow(wf domain.Workflow) []string {
	return []string{
		wf.ID.String(), wf.Name, strconv.FormatBool(wf.IsActive),
		strconv.Itoa(len(wf.Nodes)), strconv.Itoa(wf.ExecutionCount), formatTime(wf.LastExecutedAt),
	}
}

var workflowHeaders = []string{"ID", "NAME", "ACTIVE", "NODES", "EXECUTIONS", "LAST_EXECUTED"}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := clientFn().ListWorkflows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = workflowRow(wf)
			}
			outputFn().Print(workflowHeaders, rows, workflows)
			return nil
		},
	}
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show WORKFLOW_ID",
		Short: "Show workflow nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().GetWorkflow(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(wf)
				return nil
			}

			out.Table(workflowHeaders, [][]string{workflowRow(*wf)})
			fmt.Fprintln(out.w)

			rows := make([][]string, len(wf.Nodes))
			for i, n := range wf.Nodes {
				var targets []string
				for _, e := range wf.Edges {
					if e.Source != n.ID {
						continue
					}
					if e.SourceHandle != "" {
						targets = append(targets, e.Target+"["+e.SourceHandle+"]")
					} else {
						targets = append(targets, e.Target)
					}
				}
				rows[i] = []string{n.ID, n.Type, n.Name, strings.Join(targets, ", ")}
			}
			out.Table([]string{"NODE", "TYPE", "NAME", "NEXT"}, rows)
			return nil
		},
	}
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create a workflow from a JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			result, err := clientFn().CreateWorkflow(document)
			if err != nil {
				return validationDetails(err)
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Workflow created: %s", result.Workflow.ID))
			out.Print(workflowHeaders, [][]string{workflowRow(result.Workflow)}, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// validationDetails дополняет ошибку API списком нарушений.
func validationDetails(err error) error {
	apiErr, ok := err.(*APIError)
	if !ok || len(apiErr.Details) == 0 {
		return err
	}
	return fmt.Errorf("%w:\n  - %s", err, strings.Join(apiErr.Details, "\n  - "))
}

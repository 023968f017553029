package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
)

// NewExecutionCmd создаёт группу команд для управления выполнениями.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Manage executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionStepsCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
		newExecutionRetryCmd(clientFn, outputFn),
	)
	return cmd
}

var executionHeaders = []string{"ID", "WORKFLOW_ID", "STATUS", "MODE", "STARTED", "DURATION"}

func executionRow(e domain.Execution) []string {
	return []string{
		e.ID.String(), e.WorkflowID.String(), string(e.Status), string(e.Mode),
		formatTime(e.StartedAt), formatDuration(e.DurationMs),
	}
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListExecutionsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := clientFn().ListExecutions(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(execs))
			for i, e := range execs {
				rows[i] = executionRow(e)
			}
			outputFn().Print(executionHeaders, rows, execs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCESS, FAILED, CANCELED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		inputs []string
		data   string
		wait   bool
		poll   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start WORKFLOW_ID",
		Short: "Start a workflow execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := triggerData(data, inputs)
			if err != nil {
				return err
			}

			client := clientFn()
			out := outputFn()

			exec, err := client.Execute(args[0], ExecuteRequest{TriggerData: payload, TriggeredBy: "cli"})
			if err != nil {
				return validationDetails(err)
			}
			out.Success(fmt.Sprintf("Execution queued: %s", exec.ID))

			if wait {
				exec, err = waitFinished(cmd, client, exec.ID.String(), poll)
				if err != nil {
					return err
				}
			}

			out.Print(executionHeaders, [][]string{executionRow(*exec)}, exec)
			if wait && exec.Status != domain.ExecutionStatusSuccess {
				return fmt.Errorf("execution finished with status %s", exec.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Trigger values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "Trigger data as a JSON object")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the execution to finish")
	cmd.Flags().DurationVar(&poll, "poll-interval", time.Second, "Status poll interval with --wait")
	return cmd
}

// waitFinished опрашивает выполнение до терминального статуса.
func waitFinished(cmd *cobra.Command, client *Client, id string, poll time.Duration) (*domain.Execution, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		exec, err := client.GetExecution(id)
		if err != nil {
			return nil, err
		}
		if exec.Status.IsTerminal() {
			return exec, nil
		}

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show EXECUTION_ID",
		Short: "Show an execution and its node results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().GetExecution(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(exec)
				return nil
			}

			out.Table(executionHeaders, [][]string{executionRow(*exec)})
			if exec.Error != nil {
				fmt.Fprintf(out.w, "\nError: %s (node %s)\n", exec.Error.Message, exec.Error.NodeID)
			}
			if len(exec.NodeResults) > 0 {
				fmt.Fprintln(out.w)
				out.Table(resultHeaders, resultRows(exec.NodeResults))
			}
			return nil
		},
	}
}

func newExecutionStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps EXECUTION_ID",
		Short: "Show the step log of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := clientFn().ListSteps(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(result.Steps))
			for i, s := range result.Steps {
				rows[i] = []string{
					s.NodeID, s.NodeType, string(s.Status), strconv.Itoa(s.Attempt),
					formatDuration(s.DurationMs), s.Error,
				}
			}
			outputFn().Print([]string{"NODE", "TYPE", "STATUS", "ATTEMPT", "DURATION", "ERROR"}, rows, result)
			return nil
		},
	}
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel EXECUTION_ID",
		Short: "Cancel a pending or running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().CancelExecution(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Execution canceled: %s", exec.ID))
			out.Print(executionHeaders, [][]string{executionRow(*exec)}, exec)
			return nil
		},
	}
}

func newExecutionRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry EXECUTION_ID",
		Short: "Retry a failed or canceled execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().RetryExecution(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Retry queued: %s (attempt %d)", exec.ID, exec.RetryCount+1))
			out.Print(executionHeaders, [][]string{executionRow(*exec)}, exec)
			return nil
		},
	}
}

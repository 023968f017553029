package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/trigger"
)

// NewLocalCmd создаёт команду локального выполнения файла workflow.
//
// Workflow выполняется в процессе на хранилище в памяти: API, очередь
// и база не нужны. Узлы с credentials завершатся ошибкой credential.
func NewLocalCmd(outputFn func() *Output, loggerFn func() *slog.Logger) *cobra.Command {
	var (
		file    string
		inputs  []string
		data    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "local -f FILE",
		Short: "Execute a workflow file in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			payload, err := triggerData(data, inputs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			outcome, err := RunLocal(ctx, document, payload, loggerFn())
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(outcome)
			} else {
				out.Table(resultHeaders, resultRows(outcome.Results))
			}
			out.Success(fmt.Sprintf("Execution %s: %s", outcome.ExecutionID, outcome.Status))

			if outcome.Status != domain.ExecutionStatusSuccess {
				return fmt.Errorf("execution finished with status %s", outcome.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow JSON")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Trigger values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "Trigger data as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the execution after this duration")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// RunLocal разбирает документ workflow и выполняет его ручным запуском.
//
// Путь тот же, что у сервиса: trigger.Service создаёт PENDING выполнение,
// задание передаётся оркестратору напрямую вместо очереди.
func RunLocal(ctx context.Context, document []byte, payload map[string]any, logger *slog.Logger) (*orchestrator.Outcome, error) {
	wf, err := engine.ParseWorkflow(document)
	if err != nil {
		return nil, err
	}
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	wf.IsActive = true

	registry := nodes.DefaultRegistry()
	stores := repo.NewMemoryStore()
	if err := stores.Workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	eng := orchestrator.New(orchestrator.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Registry:   registry,
		Logger:     logger,
	})

	var job *domain.ExecutionJob
	triggers := trigger.NewService(trigger.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Publisher: trigger.PublisherFunc(func(_ context.Context, j *domain.ExecutionJob) error {
			job = j
			return nil
		}),
		IsTrigger: registry.IsTrigger,
		Logger:    logger,
	})

	if _, err := triggers.Enqueue(ctx, trigger.Request{
		WorkflowID:  wf.ID,
		TriggerData: payload,
		Mode:        domain.ModeManual,
		TriggeredBy: "cli:local",
	}); err != nil {
		return nil, err
	}
	return eng.Execute(ctx, job)
}

var resultHeaders = []string{"NODE", "SUCCESS", "PATH", "ERROR"}

// resultRows строит строки таблицы результатов в порядке ID узлов.
func resultRows(results map[string]domain.NodeResult) [][]string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, len(ids))
	for i, id := range ids {
		r := results[id]
		errMsg := ""
		if r.Error != nil {
			errMsg = r.Error.Kind + ": " + r.Error.Message
		}
		rows[i] = []string{id, fmt.Sprint(r.Success), r.Path(), errMsg}
	}
	return rows
}

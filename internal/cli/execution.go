package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
)

// NewExecutionCmd создаёт группу команд для управления выполнениями.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Manage workflow executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionResumeCmd(clientFn, outputFn),
		newExecutionFailCmd(clientFn, outputFn),
	)

	return cmd
}

// NewRunCmd создаёт команду запуска выполнения workflow.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "run WORKFLOW_ID",
		Short: "Start a workflow execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			exec, err := client.StartExecution(cmd.Context(), args[0], parsed)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Execution started: %s", exec.ID))

			if wait {
				exec, err = waitForExecution(cmd.Context(), client, exec.ID)
				if err != nil {
					return err
				}
			}

			out.PrintDetails(executionDetails(exec), exec)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the execution finishes or pauses for approval")

	return cmd
}

// NewStatusCmd создаёт команду просмотра статуса выполнения.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status EXECUTION_ID",
		Short: "Show execution status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.PrintDetails(executionDetails(exec), exec)
			return nil
		},
	}
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListExecutionsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			execs, err := client.ListExecutions(cmd.Context(), opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW", "STATUS", "STARTED", "FINISHED"}
			rows := make([][]string, len(execs))
			for i, e := range execs {
				rows[i] = []string{e.ID, e.WorkflowID, e.Status, e.StartedAt, e.FinishedAt}
			}

			out.Print(headers, rows, execs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of executions")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.PrintDetails(executionDetails(exec), exec)
			return nil
		},
	}
}

func newExecutionResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume ID",
		Short: "Resume a paused execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.ResumeExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution resumed: %s", exec.ID))
			out.PrintDetails(executionDetails(exec), exec)
			return nil
		},
	}
}

func newExecutionFailCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail ID",
		Short: "Force an execution into the failed state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.FailExecution(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution failed: %s", exec.ID))
			out.PrintDetails(executionDetails(exec), exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded on the execution")

	return cmd
}

// parseInputs разбирает пары KEY=VALUE. Значение сначала пробуется как
// JSON (числа, булевы, объекты), иначе передаётся строкой: входы
// workflow типизированы, и "3" не пройдёт проверку числового входа.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}

		var v any
		if err := json.Unmarshal([]byte(parts[1]), &v); err == nil {
			inputs[parts[0]] = v
		} else {
			inputs[parts[0]] = parts[1]
		}
	}
	return inputs, nil
}

// executionDetails собирает пары поле-значение для вертикального вывода.
func executionDetails(exec *ExecutionResponse) [][2]string {
	version := ""
	if exec.WorkflowVersion > 0 {
		version = strconv.Itoa(exec.WorkflowVersion)
	}

	pairs := [][2]string{
		{"ID", exec.ID},
		{"Workflow", exec.WorkflowID},
		{"Version", version},
		{"Status", exec.Status},
		{"Error", exec.Error},
		{"Failed step", exec.FailedStepID},
		{"Pending approval", exec.PendingApprovalID},
		{"Started", exec.StartedAt},
		{"Finished", exec.FinishedAt},
	}

	stepIDs := make([]string, 0, len(exec.Steps))
	for id := range exec.Steps {
		stepIDs = append(stepIDs, id)
	}
	sort.Strings(stepIDs)

	for _, id := range stepIDs {
		step := exec.Steps[id]
		value := step.Status
		if step.Error != "" {
			value += ": " + step.Error
		}
		if step.Attempts > 1 {
			value += fmt.Sprintf(" (%d attempts)", step.Attempts)
		}
		pairs = append(pairs, [2]string{"Step " + id, value})
	}

	return pairs
}

// waitForExecution опрашивает API, пока выполнение не достигнет
// конечного состояния или не остановится в ожидании согласования.
func waitForExecution(ctx context.Context, client *Client, id string) (*ExecutionResponse, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		exec, err := client.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if executionSettled(exec.Status) {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// executionSettled — статус, в котором ждать дальше бессмысленно.
func executionSettled(status string) bool {
	s := domain.ExecutionStatus(status)
	return s.IsTerminal() || s == domain.ExecutionPaused
}

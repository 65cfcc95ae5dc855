package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// workflowDetail — усечённое определение workflow для табличного вывода.
type workflowDetail struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
	Steps       []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"steps"`
	CreatedAt string `json:"created_at"`
}

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow definitions",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowRegisterCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "VERSION", "STEPS", "CREATED"}
			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = []string{wf.ID, wf.Name, strconv.Itoa(wf.Version), strconv.Itoa(wf.Steps), wf.CreatedAt}
			}

			out.Print(headers, rows, workflows)
			return nil
		},
	}
}

func newWorkflowRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a workflow definition from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			// Синтаксис проверяем локально, семантику проверит сервер
			if !json.Valid(data) {
				return fmt.Errorf("definition file is not valid JSON")
			}

			wf, err := client.RegisterWorkflow(cmd.Context(), json.RawMessage(data))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow registered: %s version %d", wf.ID, wf.Version))
			out.Print(
				[]string{"ID", "NAME", "VERSION", "STEPS", "CREATED"},
				[][]string{{wf.ID, wf.Name, strconv.Itoa(wf.Version), strconv.Itoa(wf.Steps), wf.CreatedAt}},
				wf,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to workflow definition JSON (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			raw, err := client.GetWorkflow(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}

			var def workflowDetail
			if err := json.Unmarshal(raw, &def); err != nil {
				return fmt.Errorf("failed to decode workflow: %w", err)
			}

			steps := make([]string, len(def.Steps))
			for i, s := range def.Steps {
				steps[i] = fmt.Sprintf("%s (%s)", s.ID, s.Type)
			}

			out.PrintDetails([][2]string{
				{"ID", def.ID},
				{"Name", def.Name},
				{"Version", strconv.Itoa(def.Version)},
				{"Description", def.Description},
				{"Steps", strings.Join(steps, ", ")},
				{"Created", def.CreatedAt},
			}, raw)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Workflow version (current if not specified)")

	return cmd
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workflow with its versions and schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

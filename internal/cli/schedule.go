package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления расписаниями.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleEnableCmd(clientFn, outputFn),
		newScheduleDisableCmd(clientFn, outputFn),
	)

	return cmd
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workflowID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedules, err := client.ListSchedules(cmd.Context(), workflowID)
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW", "NAME", "CRON", "INTERVAL", "ENABLED", "NEXT_DUE"}
			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = []string{
					s.ID, s.WorkflowID, s.Name, s.CronExpr, formatInterval(s.IntervalSec),
					strconv.FormatBool(s.Enabled), s.NextDueAt,
				}
			}

			out.Print(headers, rows, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "Filter by workflow ID")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var cronExpr string
	var intervalSec int
	var timezone string
	var inputs []string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create WORKFLOW_ID",
		Short: "Create a schedule for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			schedule, err := client.CreateSchedule(cmd.Context(), args[0], CreateScheduleRequest{
				Name:        name,
				CronExpr:    cronExpr,
				IntervalSec: intervalSec,
				Timezone:    timezone,
				Enabled:     !disabled,
				Inputs:      parsed,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			out.PrintDetails(scheduleDetails(schedule), schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Schedule name (required)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (e.g. '0 * * * *')")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "Interval in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "", "Timezone (e.g. 'Europe/Moscow')")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedule, err := client.GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.PrintDetails(scheduleDetails(schedule), schedule)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var cronExpr string
	var intervalSec int
	var timezone string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateScheduleRequest{}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("cron") {
				req.CronExpr = &cronExpr
			}
			if cmd.Flags().Changed("interval") {
				req.IntervalSec = &intervalSec
			}
			if cmd.Flags().Changed("timezone") {
				req.Timezone = &timezone
			}
			if cmd.Flags().Changed("input") {
				parsed, err := parseInputs(inputs)
				if err != nil {
					return err
				}
				req.Inputs = &parsed
			}

			schedule, err := client.UpdateSchedule(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success("Schedule updated")
			out.PrintDetails(scheduleDetails(schedule), schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New schedule name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "New cron expression")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "New interval in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "", "New timezone")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Replacement input values as KEY=VALUE (repeatable)")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

func newScheduleEnableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "enable ID",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedule, err := client.EnableSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule enabled: %s, next due %s", schedule.ID, schedule.NextDueAt))
			return nil
		},
	}
}

func newScheduleDisableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "disable ID",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.DisableSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule disabled: %s", args[0]))
			return nil
		},
	}
}

// scheduleDetails собирает пары поле-значение для вертикального вывода.
func scheduleDetails(s *ScheduleResponse) [][2]string {
	return [][2]string{
		{"ID", s.ID},
		{"Workflow", s.WorkflowID},
		{"Name", s.Name},
		{"Cron", s.CronExpr},
		{"Interval", formatInterval(s.IntervalSec)},
		{"Timezone", s.Timezone},
		{"Enabled", strconv.FormatBool(s.Enabled)},
		{"Next due", s.NextDueAt},
		{"Last run", s.LastRunAt},
		{"Last execution", s.LastExecutionID},
		{"Created", s.CreatedAt},
	}
}

func formatInterval(sec int) string {
	if sec <= 0 {
		return ""
	}
	return strconv.Itoa(sec) + "s"
}

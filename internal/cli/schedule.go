package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
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
		newScheduleToggleCmd(clientFn, outputFn, true),
		newScheduleToggleCmd(clientFn, outputFn, false),
	)
	return cmd
}

var scheduleHeaders = []string{"ID", "NAME", "CRON", "INTERVAL", "TIMEZONE", "ENABLED", "NEXT_DUE"}

func scheduleRow(s domain.Schedule) []string {
	interval := ""
	if s.IntervalSec > 0 {
		interval = strconv.Itoa(s.IntervalSec) + "s"
	}
	return []string{
		s.ID.String(), s.Name, s.CronExpr, interval, s.Timezone,
		strconv.FormatBool(s.Enabled), formatTime(s.NextDueAt),
	}
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list WORKFLOW_ID",
		Short: "List schedules of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = scheduleRow(s)
			}
			outputFn().Print(scheduleHeaders, rows, schedules)
			return nil
		},
	}
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		req    CreateScheduleRequest
		inputs []string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "create WORKFLOW_ID",
		Short: "Create a schedule for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.CronExpr == "" && req.IntervalSec <= 0 {
				return fmt.Errorf("either --cron or --interval is required")
			}

			payload, err := triggerData(data, inputs)
			if err != nil {
				return err
			}
			req.TriggerData = payload

			sched, err := clientFn().CreateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Schedule created: %s", sched.ID))
			out.Print(scheduleHeaders, [][]string{scheduleRow(*sched)}, sched)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&req.NodeID, "node", "", "Trigger node ID")
	cmd.Flags().StringVar(&req.CronExpr, "cron", "", "Cron expression (e.g. \"0 9 * * 1-5\")")
	cmd.Flags().IntVar(&req.IntervalSec, "interval", 0, "Interval in seconds")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "Timezone (default: workflow timezone or UTC)")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Trigger values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "Trigger data as a JSON object")
	cmd.MarkFlagsMutuallyExclusive("cron", "interval")
	return cmd
}

func newScheduleToggleCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short, verb := "disable", "Disable a schedule", "disabled"
	if enabled {
		use, short, verb = "enable", "Enable a schedule", "enabled"
	}

	return &cobra.Command{
		Use:   use + " SCHEDULE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := clientFn().SetScheduleEnabled(args[0], enabled)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Schedule %s: %s", verb, sched.ID))
			out.Print(scheduleHeaders, [][]string{scheduleRow(*sched)}, sched)
			return nil
		},
	}
}

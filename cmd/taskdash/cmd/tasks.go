package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskdash/backend"
	"taskdash/internal/utils"
)

// newTasksCmd creates the 'tasks' command and its subcommands
func newTasksCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage tasks",
		Long:  "Show the task list, optionally filtered by status or a search term and sorted by due date, priority or creation time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := taskQueryFromFlags(cmd)
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				list, err := fresh(ctx, a, func(ctx context.Context) (backend.TaskList, error) {
					return a.sess.Tasks(ctx, query)
				})
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(list)
				}
				printTasks(a.stdout, list.Tasks)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	tasksCmd.Flags().StringP("status", "s", "", "Filter by status (pending, completed, overdue)")
	tasksCmd.Flags().String("sort", "", "Sort by dueDate, priority or createdAt")
	tasksCmd.Flags().StringP("search", "q", "", "Only show tasks whose title or description contains this text")

	tasksCmd.AddCommand(newTaskGetCmd(stdout, stderr, cfg))
	tasksCmd.AddCommand(newTaskAddCmd(stdout, stderr, cfg))
	tasksCmd.AddCommand(newTaskUpdateCmd(stdout, stderr, cfg))
	tasksCmd.AddCommand(newTaskDoneCmd(stdout, stderr, cfg))
	tasksCmd.AddCommand(newTaskDeleteCmd(stdout, stderr, cfg))
	tasksCmd.AddCommand(newTaskCompletedCmd(stdout, stderr, cfg))

	return tasksCmd
}

func taskQueryFromFlags(cmd *cobra.Command) (backend.TaskQuery, error) {
	status, _ := cmd.Flags().GetString("status")
	sortBy, _ := cmd.Flags().GetString("sort")
	search, _ := cmd.Flags().GetString("search")

	q := backend.TaskQuery{
		Status: backend.TaskStatus(strings.ToLower(status)),
		SortBy: backend.SortKey(sortBy),
		Search: search,
	}
	if err := (backend.TaskQuery{Status: q.Status}).Validate(); err != nil {
		return q, utils.ErrInvalidStatus(status, backend.ValidTaskStatuses)
	}
	if err := q.Validate(); err != nil {
		return q, utils.WrapWithSuggestion(err, "Valid sort keys: "+strings.Join(backend.ValidSortKeys, ", "))
	}
	return q, nil
}

func newTaskGetCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				task, err := fresh(ctx, a, func(ctx context.Context) (backend.Task, error) {
					return a.sess.Task(ctx, args[0])
				})
				if err != nil {
					if apiErr, ok := utils.AsAPIError(err); ok && apiErr.Status == 404 {
						return utils.ErrTaskNotFound(args[0])
					}
					return err
				}
				if a.json {
					return a.outputData(task)
				}
				printTaskDetail(a.stdout, task)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTaskAddCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			dueStr, _ := cmd.Flags().GetString("due")
			priorityStr, _ := cmd.Flags().GetString("priority")

			due, err := utils.ParseDateFlag(dueStr)
			if err != nil {
				return err
			}
			priority, err := parsePriority(priorityStr)
			if err != nil {
				return err
			}
			req := backend.CreateTaskRequest{
				Title:       args[0],
				Description: description,
				Priority:    priority,
			}
			if due != nil {
				req.DueDate = *due
			}

			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				task, err := a.sess.CreateTask(ctx, req)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputAction("create", task)
				}
				printTaskLine(a.stdout, task)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringP("description", "d", "", "Task description")
	cmd.Flags().String("due", "", "Due date: YYYY-MM-DD, RFC 3339, today, tomorrow or +Nd/+Nw/+Nm")
	cmd.Flags().StringP("priority", "p", "medium", "Priority: 1/high, 2/medium or 3/low")
	return cmd
}

func newTaskUpdateCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a task",
		Long:  "Change fields of a task. The change is shown immediately and undone if the server rejects it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := updateRequestFromFlags(cmd)
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				task, err := a.sess.UpdateTask(ctx, args[0], req)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputAction("update", task)
				}
				printTaskLine(a.stdout, task)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().String("title", "", "New title")
	cmd.Flags().StringP("description", "d", "", "New description")
	cmd.Flags().String("due", "", "New due date")
	cmd.Flags().StringP("priority", "p", "", "New priority: 1/high, 2/medium or 3/low")
	cmd.Flags().StringP("status", "s", "", "New status: pending or completed")
	return cmd
}

func updateRequestFromFlags(cmd *cobra.Command) (backend.UpdateTaskRequest, error) {
	var req backend.UpdateTaskRequest
	flags := cmd.Flags()

	if flags.Changed("title") {
		title, _ := flags.GetString("title")
		req.Title = &title
	}
	if flags.Changed("description") {
		description, _ := flags.GetString("description")
		req.Description = &description
	}
	if flags.Changed("due") {
		dueStr, _ := flags.GetString("due")
		due, err := utils.ParseDateFlag(dueStr)
		if err != nil {
			return req, err
		}
		if due == nil {
			return req, utils.ErrInvalidDate(dueStr)
		}
		req.DueDate = due
	}
	if flags.Changed("priority") {
		priorityStr, _ := flags.GetString("priority")
		priority, err := parsePriority(priorityStr)
		if err != nil {
			return req, err
		}
		req.Priority = &priority
	}
	if flags.Changed("status") {
		statusStr, _ := flags.GetString("status")
		status := backend.TaskStatus(strings.ToLower(statusStr))
		if status != backend.StatusPending && status != backend.StatusCompleted {
			return req, utils.ErrInvalidStatus(statusStr, []string{string(backend.StatusPending), string(backend.StatusCompleted)})
		}
		req.Status = &status
	}
	if req.IsEmpty() {
		return req, utils.WrapWithSuggestion(fmt.Errorf("nothing to update"), "Pass at least one of --title, --description, --due, --priority or --status")
	}
	return req, nil
}

func newTaskDoneCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				task, err := a.sess.CompleteTask(ctx, args[0])
				if err != nil {
					return err
				}
				if a.json {
					return a.outputAction("complete", task)
				}
				printTaskLine(a.stdout, task)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTaskDeleteCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				if err := a.sess.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				if a.json {
					return a.outputAction("delete", map[string]string{"id": args[0]})
				}
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTaskCompletedCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "completed",
		Short: "List completed tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				list, err := fresh(ctx, a, a.sess.CompletedTasks)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(list)
				}
				printTasks(a.stdout, list.Tasks)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// =============================================================================
// Calendar, report, export and import
// =============================================================================

func newCalendarCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "calendar",
		Short: "Show tasks by due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				view, err := fresh(ctx, a, a.sess.Calendar)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(view)
				}
				printCalendar(a.stdout, view.Events)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newReportCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show completion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			periodStr, _ := cmd.Flags().GetString("period")
			period := backend.ReportPeriod(strings.ToLower(periodStr))
			if err := period.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				report, err := fresh(ctx, a, func(ctx context.Context) (backend.TaskReport, error) {
					return a.sess.Report(ctx, period)
				})
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(report)
				}
				label := string(period)
				if label == "" {
					label = "default"
				}
				_, _ = fmt.Fprintf(a.stdout, "Report (%s)\n", label)
				_, _ = fmt.Fprintf(a.stdout, "  Completed: %d\n", report.CompletedTasks)
				_, _ = fmt.Fprintf(a.stdout, "  Overdue:   %d\n", report.OverdueTasks)
				_, _ = fmt.Fprintf(a.stdout, "  Progress:  %.0f%%\n", report.TaskProgress*100)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("period", "", "Reporting period: weekly or monthly")
	return cmd
}

func newExportCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all tasks as JSON",
		Long:  "Export all tasks as JSON to a file, or to stdout when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				export, err := a.sess.ExportTasks(ctx)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(export, "", "  ")
				if err != nil {
					return err
				}
				if len(args) == 0 {
					_, _ = fmt.Fprintln(a.stdout, string(data))
					return nil
				}
				if err := os.WriteFile(args[0], append(data, '\n'), 0644); err != nil {
					return fmt.Errorf("failed to write export file: %w", err)
				}
				if a.json {
					return a.outputAction("export", map[string]any{"file": args[0], "count": len(export.Tasks)})
				}
				_, _ = fmt.Fprintf(a.stdout, "Exported %d tasks to %s\n", len(export.Tasks), args[0])
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newImportCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import tasks from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return utils.ErrInvalidImport(err.Error())
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				list, err := a.sess.ImportTasksJSON(ctx, raw)
				if err != nil {
					if utils.IsValidation(err) {
						return utils.ErrInvalidImport(err.Error())
					}
					return err
				}
				if a.json {
					return a.outputAction("import", list)
				}
				_, _ = fmt.Fprintf(a.stdout, "%d tasks after import\n", list.TotalCount)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// =============================================================================
// Parsing and text output
// =============================================================================

// parsePriority accepts 1-3 or high/medium/low
func parsePriority(s string) (backend.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h":
		return backend.PriorityHigh, nil
	case "medium", "m", "":
		return backend.PriorityMedium, nil
	case "low", "l":
		return backend.PriorityLow, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, utils.WrapWithSuggestion(fmt.Errorf("invalid priority: %s", s), "Priority must be 1/high, 2/medium or 3/low")
	}
	if err := utils.ValidatePriority(n); err != nil {
		return 0, err
	}
	return backend.Priority(n), nil
}

func getStatusIcon(status backend.TaskStatus) string {
	switch status {
	case backend.StatusCompleted:
		return "[x]"
	case backend.StatusOverdue:
		return "[!]"
	default:
		return "[ ]"
	}
}

func formatDue(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func printTaskLine(w io.Writer, t backend.Task) {
	_, _ = fmt.Fprintf(w, "%s %-40s %-6s due %s  (%s)\n", getStatusIcon(t.Status), t.Title, t.Priority, formatDue(t.DueDate), t.ID)
}

func printTasks(w io.Writer, tasks []backend.Task) {
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(w, "No tasks found")
		return
	}
	for _, t := range tasks {
		printTaskLine(w, t)
	}
}

func printTaskDetail(w io.Writer, t backend.Task) {
	_, _ = fmt.Fprintf(w, "%s %s\n", getStatusIcon(t.Status), t.Title)
	_, _ = fmt.Fprintf(w, "  ID:       %s\n", t.ID)
	_, _ = fmt.Fprintf(w, "  Status:   %s\n", t.Status)
	_, _ = fmt.Fprintf(w, "  Priority: %s\n", t.Priority)
	_, _ = fmt.Fprintf(w, "  Due:      %s\n", formatDue(t.DueDate))
	if t.Description != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", t.Description)
	}
}

// printCalendar groups events under their due date
func printCalendar(w io.Writer, events []backend.Task) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, "No scheduled tasks")
		return
	}
	current := ""
	for _, t := range events {
		day := formatDue(t.DueDate)
		if day != current {
			_, _ = fmt.Fprintln(w, day)
			current = day
		}
		_, _ = fmt.Fprintf(w, "  %s %s (%s)\n", getStatusIcon(t.Status), t.Title, t.ID)
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"taskdash/backend"
	"taskdash/internal/session"
)

// newTodosCmd creates the 'todos' command and its subcommands
func newTodosCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	todosCmd := &cobra.Command{
		Use:   "todos",
		Short: "List and manage simple todos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				todos, err := fresh(ctx, a, a.sess.Todos)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(todos)
				}
				if len(todos) == 0 {
					_, _ = fmt.Fprintln(a.stdout, "No todos")
					return nil
				}
				for _, t := range todos {
					printTodo(a.stdout, t)
				}
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	todosCmd.AddCommand(&cobra.Command{
		Use:   "add <title>",
		Short: "Create a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := backend.TodoInput{Title: args[0]}
			if err := input.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				todo, err := a.sess.CreateTodo(ctx, input)
				if err != nil {
					return err
				}
				return a.printTodoAction("create", todo)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := session.ParseTodoID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				current, err := a.sess.Todo(ctx, id)
				if err != nil {
					return err
				}
				input := backend.TodoInput{Title: current.Title, Completed: current.Completed}
				if cmd.Flags().Changed("title") {
					input.Title, _ = cmd.Flags().GetString("title")
				}
				if cmd.Flags().Changed("completed") {
					input.Completed, _ = cmd.Flags().GetBool("completed")
				}
				todo, err := a.sess.UpdateTodo(ctx, id, input)
				if err != nil {
					return err
				}
				return a.printTodoAction("update", todo)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	updateCmd.Flags().String("title", "", "New title")
	updateCmd.Flags().Bool("completed", false, "Mark completed (--completed=false to reopen)")
	todosCmd.AddCommand(updateCmd)

	todosCmd.AddCommand(&cobra.Command{
		Use:   "done <id>",
		Short: "Mark a todo completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := session.ParseTodoID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				current, err := a.sess.Todo(ctx, id)
				if err != nil {
					return err
				}
				todo, err := a.sess.UpdateTodo(ctx, id, backend.TodoInput{Title: current.Title, Completed: true})
				if err != nil {
					return err
				}
				return a.printTodoAction("complete", todo)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	todosCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := session.ParseTodoID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				if err := a.sess.DeleteTodo(ctx, id); err != nil {
					return err
				}
				if a.json {
					return a.outputAction("delete", map[string]int64{"id": id})
				}
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return todosCmd
}

func (a *app) printTodoAction(action string, todo backend.Todo) error {
	if a.json {
		return a.outputAction(action, todo)
	}
	printTodo(a.stdout, todo)
	return nil
}

func printTodo(w io.Writer, t backend.Todo) {
	icon := "[ ]"
	if t.Completed {
		icon = "[x]"
	}
	_, _ = fmt.Fprintf(w, "%s %d %s\n", icon, t.ID, t.Title)
}

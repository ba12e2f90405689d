package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/todo"
)

func todoIDs(e *env) []string {
	todos := e.todos.Get().Todos
	ids := make([]string, len(todos))
	for i, t := range todos {
		ids[i] = t.ID
	}
	return ids
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var (
		description string
		startDate   string
		endDate     string
		priority    string
	)

	cmd := &cobra.Command{
		Use:   "add <title>...",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			params := todo.AddParams{Title: strings.Join(args, " ")}
			if description != "" {
				params.Description = &description
			}
			for _, d := range []struct {
				name  string
				value string
				dst   **string
			}{
				{"start", startDate, &params.StartDate},
				{"end", endDate, &params.EndDate},
			} {
				if d.value == "" {
					continue
				}
				if !model.ValidDate(d.value) {
					return fmt.Errorf("--%s must be %s", d.name, model.DateLayout)
				}
				v := d.value
				*d.dst = &v
			}
			if priority != "" {
				p := model.Priority(priority)
				if !p.IsValid() {
					return fmt.Errorf("--priority must be high, medium or low")
				}
				params.Priority = &p
			}

			id, err := e.todos.Add(cmd.Context(), params)
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("title is empty")
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("added")+" "+idStyle.Render(shortID(id)))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "todo description")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority: high, medium or low")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List todos with the saved sort and filter",
		Args:    cobra.NoArgs,
		RunE: withEnv(opts, func(cmd *cobra.Command, _ []string, e *env) error {
			fmt.Fprint(cmd.OutOrStdout(), renderList(e.todos.Get(), e.gate.Bypass()))
			return nil
		}),
	}
}

func newToggleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>...",
		Short: "Toggle completion of one or more todos",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			for _, arg := range args {
				id, err := resolveID(arg, todoIDs(e))
				if err != nil {
					return err
				}
				if err := e.todos.Toggle(cmd.Context(), id); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), renderList(e.todos.Get(), e.gate.Bypass()))
			return nil
		}),
	}
}

func newRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete one or more todos",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			for _, arg := range args {
				id, err := resolveID(arg, todoIDs(e))
				if err != nil {
					return err
				}
				if err := e.todos.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted "+idStyle.Render(shortID(id)))
			}
			return nil
		}),
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every completed todo",
		Args:  cobra.NoArgs,
		RunE: withEnv(opts, func(cmd *cobra.Command, _ []string, e *env) error {
			completed, _ := todo.Stats(e.todos.Get().Todos)
			if err := e.todos.ClearCompleted(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d completed\n", completed)
			return nil
		}),
	}
}

func newSortCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sort <created|priority|startDate|endDate> [asc|desc]",
		Short: "Set the sort key, or toggle its order when no order is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			key := todo.SortType(args[0])
			if !key.IsValid() {
				return fmt.Errorf("unknown sort key %q", args[0])
			}
			if len(args) == 1 {
				e.todos.ToggleSort(key)
			} else {
				order := todo.SortOrder(args[1])
				if !order.IsValid() {
					return fmt.Errorf("unknown sort order %q", args[1])
				}
				e.todos.SetSortType(key)
				e.todos.SetSortOrder(order)
			}
			st := e.todos.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "sort %s %s\n", st.SortType, st.SortOrder)
			return nil
		}),
	}
}

func newFilterCmd(opts *rootOptions) *cobra.Command {
	var hideCompleted bool

	cmd := &cobra.Command{
		Use:   "filter [all|incomplete|completed]",
		Short: "Set the list filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			if len(args) == 1 {
				mode := todo.FilterMode(args[0])
				if !mode.IsValid() {
					return fmt.Errorf("unknown filter %q", args[0])
				}
				e.todos.SetFilterMode(mode)
			}
			if cmd.Flags().Changed("hide-completed") {
				e.todos.SetHideCompleted(hideCompleted)
			}
			st := e.todos.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "filter %s, hide completed %t\n", st.FilterMode, st.HideCompleted)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&hideCompleted, "hide-completed", false, "hide completed todos in the calendar")
	return cmd
}

func newPresetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage todo presets",
	}

	add := &cobra.Command{
		Use:   "add <title>...",
		Short: "Add a preset",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			id, err := e.presets.AddPreset(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("title is empty")
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("added")+" "+idStyle.Render(shortID(id)))
			return nil
		}),
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List presets",
		Args:  cobra.NoArgs,
		RunE: withEnv(opts, func(cmd *cobra.Command, _ []string, e *env) error {
			fmt.Fprint(cmd.OutOrStdout(), renderPresets(e.presets.Get().Presets))
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(cmd *cobra.Command, args []string, e *env) error {
			presets := e.presets.Get().Presets
			ids := make([]string, len(presets))
			for i, p := range presets {
				ids[i] = p.ID
			}
			id, err := resolveID(args[0], ids)
			if err != nil {
				return err
			}
			if err := e.presets.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted "+idStyle.Render(shortID(id)))
			return nil
		}),
	}

	cmd.AddCommand(add, ls, rm)
	return cmd
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/todo"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <name>...",
	GroupID: "items",
	Short:   "Add an item",
	Long: `Add an item to the list. In offline mode it is saved locally and queued
for the next sync.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		done, _ := cmd.Flags().GetBool("done")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item := &todo.Item{Name: strings.Join(args, " "), Done: done}
		if err := a.manager.Save(cmd.Context(), item); err != nil {
			return fmt.Errorf("failed to add item: %w", err)
		}
		return emit(cmd.OutOrStdout(), item, func(u *ui.Renderer) string {
			return u.Success("Added " + label(item))
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "items",
	Short:   "Change an item's name or state",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		done, _ := cmd.Flags().GetBool("done")
		undone, _ := cmd.Flags().GetBool("undone")
		if done && undone {
			return fmt.Errorf("--done and --undone are mutually exclusive")
		}
		if name == "" && !done && !undone {
			return fmt.Errorf("nothing to change (use --name, --done or --undone)")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.findItem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if name != "" {
			item.Name = name
		}
		switch {
		case done:
			item.Done = true
		case undone:
			item.Done = false
		}
		if err := a.manager.Save(cmd.Context(), item); err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		return emit(cmd.OutOrStdout(), item, func(u *ui.Renderer) string {
			return u.Success("Updated " + label(item))
		})
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "items",
	Short:   "Mark an item done",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.findItem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := a.manager.Complete(cmd.Context(), item); err != nil {
			return fmt.Errorf("failed to complete item: %w", err)
		}
		return emit(cmd.OutOrStdout(), item, func(u *ui.Renderer) string {
			return u.Success("Completed " + label(item))
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	GroupID: "items",
	Short:   "Delete an item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.findItem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := a.manager.Remove(cmd.Context(), item); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		return emit(cmd.OutOrStdout(), item, func(u *ui.Renderer) string {
			return u.Success("Deleted " + label(item))
		})
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "items",
	Short:   "Show one item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.findItem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), item, func(u *ui.Renderer) string {
			return u.Item(item)
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "items",
	Short:   "List items",
	Long: `List open items, oldest change first.

Examples:
  todosync list                          # open items
  todosync list --sync                   # sync first, then list
  todosync list --all --search milk      # include done items
  todosync list --changed-since yesterday`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		syncFirst, _ := cmd.Flags().GetBool("sync")
		search, _ := cmd.Flags().GetString("search")
		since, _ := cmd.Flags().GetString("changed-since")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var items []*todo.Item
		if !all && search == "" && since == "" {
			items, err = a.manager.Items(cmd.Context(), syncFirst)
		} else {
			filter, order := todo.PendingItems()
			if all {
				filter.Done = nil
			}
			filter.NameContains = search
			if since != "" {
				if filter.UpdatedAfter, err = parseSince(since, time.Now()); err != nil {
					return err
				}
			}
			if syncFirst {
				if _, serr := a.manager.Sync(cmd.Context()); serr != nil {
					fmt.Fprint(cmd.ErrOrStderr(), ui.NewRenderer(cmd.ErrOrStderr()).Warn("sync failed, showing local copy: "+serr.Error()))
				}
			}
			items, err = a.manager.List(cmd.Context(), filter, order)
		}
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}

		if items == nil {
			items = []*todo.Item{}
		}
		return emit(cmd.OutOrStdout(), items, func(u *ui.Renderer) string {
			return u.Items(items)
		})
	},
}

// parseSince accepts RFC 3339, a plain date or natural language such as
// "yesterday" or "3 days ago".
func parseSince(s string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot understand time %q", s)
	}
	return r.Time, nil
}

func init() {
	addCmd.Flags().Bool("done", false, "add the item already completed")

	editCmd.Flags().String("name", "", "new name")
	editCmd.Flags().Bool("done", false, "mark done")
	editCmd.Flags().Bool("undone", false, "mark not done")

	listCmd.Flags().BoolP("all", "a", false, "include done items")
	listCmd.Flags().Bool("sync", false, "sync before listing")
	listCmd.Flags().StringP("search", "s", "", "only items whose name contains this text")
	listCmd.Flags().String("changed-since", "", `only items changed after this time ("yesterday", "2026-01-02")`)

	rootCmd.AddCommand(addCmd, editCmd, doneCmd, rmCmd, showCmd, listCmd)
}

// label names an item in confirmations: its name and short reference.
func label(item *todo.Item) string {
	ref := item.ID
	if ref == "" {
		ref = item.LocalID
	}
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return fmt.Sprintf("%q (%s)", item.Name, ref)
}

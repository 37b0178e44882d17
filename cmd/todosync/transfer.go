package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/transfer"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Write all items as JSONL",
	Long: `Write every item, done or not, as one JSON object per line. Without a
file the items go to stdout; a file is replaced atomically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 || args[0] == "-" {
			_, err := transfer.Export(cmd.Context(), a.manager.Table(), cmd.OutOrStdout())
			return err
		}

		result, err := transfer.ExportFile(cmd.Context(), a.manager.Table(), args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), result, func(u *ui.Renderer) string {
			return u.Success(fmt.Sprintf("Exported %d item(s) (%d done) to %s", result.Items, result.Done, args[0]))
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Add items from a JSONL file",
	Long: `Add every item in a JSONL file as a new item. Lines may carry comments
and trailing commas. Bad lines are reported and skipped.

In offline mode the imported items are queued and reach the remote on the
next sync.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		skipExisting, _ := cmd.Flags().GetBool("skip-existing")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := transfer.ImportFile(cmd.Context(), a.manager.Table(), args[0], transfer.ImportOptions{
			DryRun:       dryRun,
			SkipExisting: skipExisting,
		})
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), result, func(u *ui.Renderer) string {
			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			out := u.Success(fmt.Sprintf("%s %d item(s), skipped %d", verb, result.Imported, result.Skipped))
			for _, e := range result.Errors {
				out += u.Warn(e)
			}
			return out
		})
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "check the file without saving")
	importCmd.Flags().Bool("skip-existing", false, "skip lines whose id is already known")

	rootCmd.AddCommand(exportCmd, importCmd)
}

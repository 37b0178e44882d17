package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default todosync.toml",
	Long: `Write the built-in defaults to a config file. Without a path the file is
created in the first search directory (usually ~/.config/todosync).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := configFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			path = filepath.Join(config.SearchPaths()[0], config.FileName+".toml")
		}

		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.NewRenderer(cmd.OutOrStdout()).Success("Wrote "+path))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after applying the config file, TODOSYNC_*
environment variables and flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if done, err := output(cmd.OutOrStdout(), cfg); done || err != nil {
			return err
		}

		if f := loader.File(); f != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", f)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# no config file found, using defaults")
		}
		data, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

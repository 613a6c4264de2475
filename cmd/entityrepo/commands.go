/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/suparena/entityrepo"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/storagemodels"
)

type globalFlags struct {
	configPath    string
	configuration string
	part          string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "entityrepo",
		Short: "Inspect and maintain entityrepo collections",
		Long: `entityrepo works on the DynamoDB tables behind entityrepo collections.
Collections are named as in code; the configuration file decides the table.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "entityrepo.yaml", "configuration file")
	root.PersistentFlags().StringVar(&flags.configuration, "configuration", "", "configuration name (default from the file)")
	root.PersistentFlags().StringVar(&flags.part, "part", "", "database partition")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		newVersionCmd(),
		newCountCmd(flags),
		newIndexesCmd(flags),
		newDropCmd(flags),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(entityrepo.GetVersionInfo())
		},
	}
}

func newCountCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection>",
		Short: "Count the documents of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, settings, err := flags.bind(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			n, err := driver.Count(cmd.Context(), settings.Table(), storagemodels.Filter{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", settings.Table(), n)
			return nil
		},
	}
}

func newIndexesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, settings, err := flags.bind(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			specs, err := driver.ListIndexes(cmd.Context(), settings.Table())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range specs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.PartitionKey, s.KeyType, s.SortKey, s.SortKeyType)
			}
			return nil
		},
	}
}

func newDropCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop <collection>",
		Short: "Drop the table of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, settings, err := flags.bind(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to drop %s without --yes", settings.Table())
			}
			if err := driver.DropCollection(cmd.Context(), settings.Table()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", settings.Table())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")
	return cmd
}

// bind loads the configuration and returns the driver and settings of a collection.
func (f *globalFlags) bind(ctx context.Context, collectionName string) (datastore.Driver, config.Settings, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, config.Settings{}, err
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rt, err := entityrepo.NewRuntime(cfg, entityrepo.WithLogger(logger))
	if err != nil {
		return nil, config.Settings{}, err
	}
	settings, err := cfg.Resolve(storagemodels.DatabaseContext{
		ConfigurationName: f.configuration,
		CollectionName:    collectionName,
		DatabasePart:      f.part,
	}, "")
	if err != nil {
		return nil, config.Settings{}, err
	}
	driver, err := rt.Driver(ctx, settings.Configuration)
	if err != nil {
		return nil, config.Settings{}, err
	}
	return driver, settings, nil
}

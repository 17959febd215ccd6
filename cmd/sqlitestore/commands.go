// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mdhender/sqlitestore"
	"github.com/spf13/cobra"
)

// options holds the persistent flags.
type options struct {
	configFile string
	path       string
	key        string
	dir        string
	table      string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "sqlitestore",
		Short: "Manage SQLite stores and their migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.path, "db", "", "store path (default "+sqlitestore.DefaultPath+")")
	cmd.PersistentFlags().StringVar(&opts.key, "key", "", "encryption key")
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory")
	cmd.PersistentFlags().StringVar(&opts.table, "table", "", "bookkeeping table (default "+sqlitestore.DefaultMigrationsTable+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text, json")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, reverse or inspect migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			db, err := sqlitestore.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: migrations applied\n", db.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Reverse the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			reverted, err := sqlitestore.MigrateDown(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if reverted == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to reverse")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reversed %d %s\n", reverted.Sequence, reverted.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			status, err := sqlitestore.Status(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	})

	return cmd
}

func newQueryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run a query and print each row as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			cfg.Migrate = nil
			db, err := sqlitestore.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			params := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				params = append(params, a)
			}
			rows, err := db.Query(cmd.Context(), args[0], params...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a store and its WAL files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			if cfg.Path == "" {
				cfg.Path = sqlitestore.DefaultPath
			}
			if !confirm {
				return fmt.Errorf("refusing to delete %s without --yes", cfg.Path)
			}
			if err := sqlitestore.Delete(cfg.Path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", cfg.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the delete")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), sqlitestore.Version())
		},
	}
}

// config builds a store configuration from the config file and flags.
// Flags win over the file. Migrate is always set so every subcommand sees
// the same source and table; ReapplyLast is never honoured from the shell.
func (o *options) config(cmd *cobra.Command) (sqlitestore.Config, error) {
	var cfg sqlitestore.Config
	if o.configFile != "" {
		var err error
		if cfg, err = sqlitestore.LoadConfig(o.configFile); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Path = o.path
	}
	if flags.Changed("key") {
		cfg.EncryptionKey = o.key
	}

	mc := &sqlitestore.MigrateConfig{}
	if cfg.Migrate != nil {
		*mc = *cfg.Migrate
	}
	if flags.Changed("dir") {
		*mc = sqlitestore.MigrateConfig{MigrationsPath: o.dir, Table: mc.Table}
	}
	if flags.Changed("table") {
		mc.Table = o.table
	}
	mc.ReapplyLast = false
	cfg.Migrate = mc

	logger, err := newLogger(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
	if err != nil {
		return cfg, err
	}
	cfg.Logger = logger

	return cfg, cfg.Validate()
}

// newLogger creates a slog.Logger writing to w.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func printStatus(w io.Writer, status *sqlitestore.MigrationStatus) {
	if !status.Initialized {
		fmt.Fprintln(w, "store is not initialized")
	}
	for _, a := range status.Applied {
		fmt.Fprintf(w, "applied  %4d  %-30s  %s\n", a.Sequence, a.Name, a.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, p := range status.Pending {
		fmt.Fprintf(w, "pending  %4d  %s\n", p.Sequence, p.Name)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chat-analytics/internal/agent"
	"github.com/capitalize-ai/chat-analytics/internal/app"
	"github.com/capitalize-ai/chat-analytics/internal/config"
	"github.com/capitalize-ai/chat-analytics/internal/executor"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/internal/sales"
	"github.com/capitalize-ai/chat-analytics/internal/sqlguard"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "analyticsctl",
		Short: "Ask the analytics agent questions from a terminal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				return config.LoadEnvFile(opts.envFile)
			}
			return config.LoadEnvFile()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default ./.env)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newAskCommand(opts),
		newSchemaCommand(),
		newValidateCommand(),
	)
	return root
}

func (o *rootOptions) logger() (*logger.Logger, error) {
	if !o.verbose {
		return logger.NewNop(), nil
	}
	return logger.NewDevelopment()
}

// newAskCommand runs one headless question: audit records are written, turns are not.
func newAskCommand(opts *rootOptions) *cobra.Command {
	var (
		stream  bool
		showSQL bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question against the replica",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := opts.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			application, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer application.Close()

			req := agent.Request{Question: strings.Join(args, " ")}
			var result agent.Result
			if stream {
				printer := &streamPrinter{out: cmd.OutOrStdout(), status: cmd.ErrOrStderr(), showSQL: showSQL}
				result = application.Agent.Stream(cmd.Context(), req, printer)
			} else {
				result = application.Agent.Run(cmd.Context(), req)
				if showSQL && result.SQL != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "SQL:", result.SQL)
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			}

			if !result.Success() {
				return fmt.Errorf("question not answered: %s", result.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print the executed SQL to stderr")
	return cmd
}

// streamPrinter writes answer chunks to out and progress to status.
type streamPrinter struct {
	out     io.Writer
	status  io.Writer
	showSQL bool
}

func (p *streamPrinter) Emit(event model.StreamEvent) error {
	switch event.Type {
	case model.EventStatus:
		fmt.Fprintln(p.status, event.Message)
	case model.EventSQL:
		if p.showSQL {
			fmt.Fprintln(p.status, "SQL:", event.Query)
		}
	case model.EventChunk:
		_, err := io.WriteString(p.out, event.Content)
		return err
	case model.EventDone:
		fmt.Fprintln(p.out)
	case model.EventError:
		fmt.Fprintln(p.out, event.Message)
	}
	return nil
}

func newSchemaCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description the agent sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := app.SchemaBuilder().Build()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if !check {
				return nil
			}
			return checkTables(cmd.Context(), cmd.OutOrStdout(), config.Load())
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "count the rows of each described table on the replica")
	return cmd
}

// checkTables runs a count against every sales table through the read-only executor.
func checkTables(ctx context.Context, out io.Writer, cfg *config.Config) error {
	driver, dsn := cfg.ReplicaSettings()
	db, dialect, err := executor.OpenReplica(ctx, executor.ReplicaConfig{Driver: driver, DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	exec := executor.New(db, executor.Options{Dialect: dialect, MaxRows: 1, Logger: logger.NewNop()})
	var failed []string
	for _, m := range sales.Models() {
		table := m.(interface{ TableName() string }).TableName()
		res := exec.Execute(ctx, "SELECT COUNT(*) AS n FROM "+table)
		if res.Failed() {
			fmt.Fprintf(out, "%-20s error: %v\n", table, res.Err)
			failed = append(failed, table)
			continue
		}
		fmt.Fprintf(out, "%-20s %v rows\n", table, res.Rows[0]["n"])
	}
	if len(failed) > 0 {
		return fmt.Errorf("tables not readable: %s", strings.Join(failed, ", "))
	}
	return nil
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [sql]",
		Short: "Check a statement and print it as it would run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator := sqlguard.New(config.Load().QueryMaxRows)
			result := validator.Validate(strings.Join(args, " "))
			if !result.Valid() {
				return errors.New("rejected: " + result.Reason)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.SQL)
			return nil
		},
	}
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pairtext/pairtext/internal/config"
	"github.com/pairtext/pairtext/internal/driver"
	"github.com/pairtext/pairtext/internal/executor"
	"github.com/pairtext/pairtext/internal/history"
	"github.com/pairtext/pairtext/internal/mapper"
	"github.com/pairtext/pairtext/internal/notebook"
	"github.com/pairtext/pairtext/internal/render"
	"github.com/pairtext/pairtext/internal/syncer"
	"github.com/pairtext/pairtext/internal/toolchain"
	"github.com/pairtext/pairtext/internal/watch"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	jsonOutput bool
	verbose    bool
	configPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "pairtext",
		Short: "Paired text/notebook example documents, kept in sync and executable",
		Long: `Pairtext maintains example documents in two representations: a
human-edited script (the source of truth) and a derived notebook that
carries execution outputs. It reconciles the pair, re-executes the
notebooks against their runtime, and drives the surrounding project
workflow (build, lint, test, format).`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("pairtext %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(collaboratorCmd(ctx, "build", "Build the distribution artifact",
		func(cfg config.Config) string { return cfg.Commands.Build }))
	rootCmd.AddCommand(collaboratorCmd(ctx, "setup-dev", "Install development dependencies",
		func(cfg config.Config) string { return cfg.Commands.Setup }))
	rootCmd.AddCommand(collaboratorCmd(ctx, "format", "Auto-format the source tree",
		func(cfg config.Config) string { return cfg.Commands.Format }))

	rootCmd.AddCommand(syncDocsCmd(ctx))
	rootCmd.AddCommand(lintCmd(ctx))
	rootCmd.AddCommand(testCmd(ctx))
	rootCmd.AddCommand(historyCmd(ctx))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// collaboratorCmd wraps one opaque workflow command: run it, relay its
// output, mirror its exit status.
func collaboratorCmd(ctx context.Context, name, short string, command func(config.Config) string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK       bool   `json:"ok"`
				Command  string `json:"command"`
				ExitCode int    `json:"exit_code"`
				Message  string `json:"message,omitempty"`
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				fatal(err.Error())
			}

			res, err := toolchain.Run(ctx, ".", command(cfg))
			if err != nil {
				fatal(err.Error())
			}

			os.Stdout.Write(res.Stdout)
			os.Stderr.Write(res.Stderr)

			result := Result{OK: res.OK(), Command: res.Command, ExitCode: res.ExitCode}
			if jsonOutput {
				printJSON(result)
			}
			if !result.OK {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error: %q exited with status %d\n", res.Command, res.ExitCode)
				}
				os.Exit(1)
			}
		},
	}
}

func syncDocsCmd(ctx context.Context) *cobra.Command {
	var (
		execute   bool
		renderOut bool
		watchMode bool
	)

	cmd := &cobra.Command{
		Use:   "sync-docs [documents...]",
		Short: "Reconcile example documents with their notebooks",
		Long: `Reconcile the text and notebook representation of each example
document. With --execute, re-run every notebook's code cells and
persist the captured outputs. Without arguments, all documents in the
configured directory are processed.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath)
			if err != nil {
				fatal(err.Error())
			}
			logger := newLogger()
			defer logger.Sync()

			d, db := newDriver(cfg, logger)
			if db != nil {
				defer db.Close()
			}

			if watchMode {
				runWatch(ctx, cfg, logger, d, execute)
				return
			}

			summary, err := d.Run(ctx, args, execute)
			if err != nil {
				fatal(err.Error())
			}
			reportSummary(summary)

			if renderOut && summary.Passed() {
				if err := renderPreviews(cfg, summary); err != nil {
					fatal(err.Error())
				}
			}
			if !summary.Passed() {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "Re-execute notebooks after syncing")
	cmd.Flags().BoolVar(&renderOut, "render", false, "Write HTML previews to the configured render dir")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "Keep running, re-syncing documents as they change")
	return cmd
}

func lintCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run static checks and narrative lint over the documents",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK       bool     `json:"ok"`
				ExitCode int      `json:"exit_code"`
				Issues   []string `json:"issues,omitempty"`
				Message  string   `json:"message,omitempty"`
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				fatal(err.Error())
			}

			res, err := toolchain.Run(ctx, ".", cfg.Commands.Lint)
			if err != nil {
				fatal(err.Error())
			}
			os.Stdout.Write(res.Stdout)
			os.Stderr.Write(res.Stderr)

			issues, err := lintDocuments(cfg)
			if err != nil {
				fatal(err.Error())
			}

			result := Result{OK: res.OK() && len(issues) == 0, ExitCode: res.ExitCode, Issues: issues}
			if jsonOutput {
				printJSON(result)
			} else {
				for _, issue := range issues {
					fmt.Fprintln(os.Stderr, issue)
				}
			}
			if !result.OK {
				os.Exit(1)
			}
		},
	}
}

func testCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests, then re-execute every example document",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath)
			if err != nil {
				fatal(err.Error())
			}
			logger := newLogger()
			defer logger.Sync()

			res, err := toolchain.Run(ctx, ".", cfg.Commands.Test)
			if err != nil {
				fatal(err.Error())
			}
			os.Stdout.Write(res.Stdout)
			os.Stderr.Write(res.Stderr)
			if !res.OK() {
				fmt.Fprintf(os.Stderr, "Error: unit tests exited with status %d\n", res.ExitCode)
				os.Exit(1)
			}

			d, db := newDriver(cfg, logger)
			if db != nil {
				defer db.Close()
			}
			summary, err := d.Run(ctx, nil, true)
			if err != nil {
				fatal(err.Error())
			}
			reportSummary(summary)
			if !summary.Passed() {
				os.Exit(1)
			}
		},
	}
}

func historyCmd(ctx context.Context) *cobra.Command {
	var (
		doc   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(configPath)
			if err != nil {
				fatal(err.Error())
			}
			if cfg.HistoryDB == "" {
				fatal("history recording is disabled (history_db is empty)")
			}

			db, err := history.Open(cfg.HistoryDB)
			if err != nil {
				fatal(err.Error())
			}
			defer db.Close()

			if doc != "" {
				records, err := history.DocumentHistory(ctx, db, doc, limit)
				if err != nil {
					fatal(err.Error())
				}
				if jsonOutput {
					printJSON(records)
					return
				}
				for _, rec := range records {
					fmt.Printf("%-12s sync=%-9s exec=%-9s ok=%d failed=%d skipped=%d (%s)\n",
						rec.Doc, rec.SyncResult, orDash(rec.ExecStatus),
						rec.CellsOK, rec.CellsFailed, rec.CellsSkipped, rec.Duration)
				}
				return
			}

			runs, err := history.RecentRuns(ctx, db, limit)
			if err != nil {
				fatal(err.Error())
			}
			if jsonOutput {
				printJSON(runs)
				return
			}
			for _, run := range runs {
				fmt.Printf("%s  %s  %-7s docs=%d failed=%d executed=%v\n",
					run.StartedAt.Format("2006-01-02 15:04:05"), run.ID[:8],
					run.Status, run.DocsTotal, run.DocsFailed, run.Executed)
			}
		},
	}

	cmd.Flags().StringVar(&doc, "doc", "", "Show history for one document")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}

func newDriver(cfg config.Config, logger *zap.Logger) (*driver.Driver, *sql.DB) {
	m := mapper.New(cfg.Runtime)
	s := syncer.New(cfg.DocsDir, m, logger)
	e := executor.New(cfg.PerCellTimeout(), logger)

	var db *sql.DB
	if cfg.HistoryDB != "" {
		opened, err := history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			db = opened
		}
	}
	return driver.New(s, e, db, cfg.Workers, logger), db
}

func runWatch(ctx context.Context, cfg config.Config, logger *zap.Logger, d *driver.Driver, execute bool) {
	w := watch.New(cfg.DocsDir, func(name string) {
		summary, err := d.Run(ctx, []string{name}, execute)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		reportSummary(summary)
	}, logger)

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		fatal(err.Error())
	}
}

func lintDocuments(cfg config.Config) ([]string, error) {
	m := mapper.New(cfg.Runtime)
	s := syncer.New(cfg.DocsDir, m, nil)
	r := render.New()

	names, err := s.Discover()
	if err != nil {
		return nil, err
	}

	var issues []string
	for _, name := range names {
		outcome, err := s.Reconcile(name)
		if err != nil {
			issues = append(issues, err.Error())
			continue
		}
		if outcome.Result == syncer.ResultConflict {
			issues = append(issues, fmt.Sprintf("%s: representations diverged, resolve before linting", name))
			continue
		}
		for _, issue := range r.Lint(outcome.Notebook) {
			issues = append(issues, issue.String())
		}
	}
	return issues, nil
}

func renderPreviews(cfg config.Config, summary *driver.Summary) error {
	if cfg.RenderDir == "" {
		return fmt.Errorf("render_dir is not configured")
	}
	if err := os.MkdirAll(cfg.RenderDir, 0o755); err != nil {
		return fmt.Errorf("create render dir: %w", err)
	}

	r := render.New()
	for _, res := range summary.Results {
		nbPath := filepath.Join(cfg.DocsDir, res.Name+syncer.NotebookExt)
		data, err := os.ReadFile(nbPath)
		if err != nil {
			return err
		}
		nb, err := notebook.Decode(res.Name, data)
		if err != nil {
			return err
		}
		html, err := r.HTML(nb)
		if err != nil {
			return err
		}
		outPath := filepath.Join(cfg.RenderDir, res.Name+".html")
		if err := os.WriteFile(outPath, html, 0o644); err != nil {
			return fmt.Errorf("write preview: %w", err)
		}
	}
	return nil
}

// reportSummary prints the per-document outcomes and failure detail.
func reportSummary(summary *driver.Summary) {
	if jsonOutput {
		type DocJSON struct {
			Name       string `json:"name"`
			SyncResult string `json:"sync_result"`
			ExecStatus string `json:"exec_status,omitempty"`
			Error      string `json:"error,omitempty"`
			Passed     bool   `json:"passed"`
		}
		type Result struct {
			OK        bool      `json:"ok"`
			RunID     string    `json:"run_id"`
			Documents []DocJSON `json:"documents"`
		}

		result := Result{OK: summary.Passed(), RunID: summary.RunID}
		for _, res := range summary.Results {
			doc := DocJSON{
				Name:       res.Name,
				SyncResult: string(res.Sync),
				ExecStatus: res.ExecStatus(),
				Passed:     res.Passed(),
			}
			if res.Err != nil {
				doc.Error = res.Err.Error()
			}
			result.Documents = append(result.Documents, doc)
		}
		printJSON(result)
		return
	}

	for _, res := range summary.Results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", res.Name, res.Err)
		case res.Sync == syncer.ResultConflict:
			fmt.Fprintf(os.Stderr, "✗ %s: conflict between script and notebook\n", res.Name)
			if res.Diff != "" {
				fmt.Fprintln(os.Stderr, res.Diff)
			}
		case res.Report != nil && !res.Passed():
			ok, failed, skipped := res.Report.Counts()
			fmt.Fprintf(os.Stderr, "✗ %s: execution %s at cell %d (ok=%d failed=%d skipped=%d)\n",
				res.Name, res.ExecStatus(), res.Report.StoppedAt, ok, failed, skipped)
			for _, cell := range res.Report.Results {
				if cell.Outcome == executor.OutcomeFailed {
					fmt.Fprintf(os.Stderr, "    cell %d [%s]: %s\n", cell.Index, cell.ErrorKind, cell.Message)
				}
			}
		default:
			status := string(res.Sync)
			if exec := res.ExecStatus(); exec != "" {
				status += ", executed"
			}
			fmt.Printf("✓ %s (%s)\n", res.Name, status)
		}
	}

	if failing := summary.Failing(); len(failing) > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d documents failed\n", len(failing), len(summary.Results))
	}
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func fatal(message string) {
	if jsonOutput {
		printJSON(map[string]any{"ok": false, "message": message})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
	os.Exit(1)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Package main provides the semreq binary entry point.
// Semreq classifies the data requirements of regulatory use cases and runs
// the governance workflow for newly proposed lexicon terms and model
// attributes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/semreq/config"
	"github.com/c360studio/semreq/events"
	"github.com/c360studio/semreq/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semreq"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
	jsonOut    bool
}

func (g *globals) load() (*config.Config, *slog.Logger, error) {
	logger := newLogger(g.logLevel)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Requirement classification and governance workflow engine",
		Long: `Semreq turns the data requirements of regulatory use cases into a
governed set of data-model mappings.

It provides:
- Classification of requirements against the lexicon and data model
- Coverage statistics per use case, domain and entity
- Approval workflows for new lexicon terms and model attributes
- Shared-term impact analysis across use cases
- Data-quality thresholds, optionally suggested by an LLM`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "Print JSON instead of tables")

	cmd.AddCommand(
		serveCmd(g),
		validateCmd(g),
		statsCmd(g),
		sharedTermsCmd(g),
		governanceCmd(g),
		auditCmd(g),
		initCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func serveCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := NewApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Error("Failed to close event sinks", "error", err)
				}
			}()

			logger.Info("Semreq ready",
				"version", Version,
				"corpus", cfg.Corpus.Dir,
				"use_cases", len(app.Engine().UseCases()))
			if err := app.Serve(ctx); err != nil {
				return err
			}
			logger.Info("Semreq shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func validateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the corpus files against the use case schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			app, err := NewApp(cmd.Context(), offline(cfg), logger)
			if err != nil {
				return err
			}
			defer app.Close()

			ucs := app.Engine().UseCases()
			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), ucs)
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "NAME", "REQUIREMENTS", "FILE")
			for _, uc := range ucs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", uc.ID, uc.Name, len(uc.Requirements), uc.Path)
			}
			return tw.Flush()
		},
	}
}

func statsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [use-case-id]",
		Short: "Print coverage statistics, or the portfolio without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := g.offlineApp(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			e := app.Engine()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				for _, uc := range e.UseCases() {
					if _, err := e.LoadUseCase(uc.ID); err != nil {
						return err
					}
				}
				p := e.Portfolio()
				if g.jsonOut {
					return writeJSON(out, p)
				}
				tw := newTable(out, "USE CASE", "REQUIREMENTS", "COVERAGE", "NEW", "NEW CDES", "OPEN ITEMS", "STAGE")
				for _, s := range p.UseCases {
					fmt.Fprintf(tw, "%s\t%d\t%d%%\t%d\t%d\t%d\t%s\n",
						s.UseCaseID, s.Requirements, s.Coverage, s.New, s.NewCDEs, s.OpenItems, s.Progress.Current)
				}
				fmt.Fprintf(tw, "TOTAL\t%d\t%d%%\t%d\t\t%d\t\n", p.TotalRequirements, p.AverageCoverage, p.TotalNew, p.OpenItems)
				return tw.Flush()
			}

			if _, err := e.LoadUseCase(args[0]); err != nil {
				return err
			}
			s, err := e.ComputeStats(args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(out, s)
			}
			tw := newTable(out, "DOMAIN", "TOTAL", "EXACT", "REVIEW", "NEW", "CDES", "COVERAGE")
			for _, d := range s.Domains {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d%%\n", d.Domain, d.Total, d.Exact, d.Review, d.New, d.CDEs, d.Coverage)
			}
			fmt.Fprintf(tw, "ALL\t%d\t%d\t%d\t%d\t%d\t%d%%\n", s.Total, s.Exact, s.Review, s.New, s.CDEs, s.Coverage)
			return tw.Flush()
		},
	}
}

func sharedTermsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "shared-terms <use-case-id>",
		Short: "List the terms a use case shares with others",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := g.offlineApp(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			terms, err := app.Engine().ComputeSharedTerms(args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), terms)
			}
			tw := newTable(cmd.OutOrStdout(), "TERM", "USE CASES", "IMPACT", "SHARED WITH")
			for _, t := range terms {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%v\n", t.TermLabel, t.Count, t.Impact, t.SharedWith)
			}
			return tw.Flush()
		},
	}
}

func governanceCmd(g *globals) *cobra.Command {
	var register string
	cmd := &cobra.Command{
		Use:   "governance <use-case-id>",
		Short: "List the governance items a use case opens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := g.offlineApp(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			e := app.Engine()

			if _, err := e.LoadUseCase(args[0]); err != nil {
				return err
			}
			items, err := e.GovernanceItems(workflow.Register(register), args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "TERM", "DOMAIN", "ENTITY", "CDE", "STATUS")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", it.RequirementID, it.TermLabel, it.Domain, it.Entity, it.IsCDE, it.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&register, "register", string(workflow.RegisterLexicon), "Register (lexicon or model)")
	return cmd
}

func auditCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit [use-case-id]",
		Short: "Print governance transitions recorded in the SQLite journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			useCaseID := ""
			if len(args) == 1 {
				useCaseID = args[0]
			}

			j, err := events.OpenJournal(cmd.Context(), resolvePath(cfg.Corpus.Dir, cfg.Events.JournalPath))
			if err != nil {
				return err
			}
			defer j.Close()

			evs, err := j.List(cmd.Context(), useCaseID, limit)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), evs)
			}
			tw := newTable(cmd.OutOrStdout(), "TIME", "USE CASE", "REQ", "REGISTER", "ACTION", "FROM", "TO", "ACTOR", "REASON")
			for _, e := range evs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.UseCaseID, e.RequirementID, e.Register,
					e.Action, e.From, e.To, e.ActorRole, e.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the N most recent events (0 for all)")
	return cmd
}

func initCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the user config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(g.logLevel)
			return config.NewLoader(logger).EnsureUserConfig()
		},
	}
}

// offlineApp builds an app for one-shot commands: no network oracle and
// no event sinks.
func (g *globals) offlineApp(ctx context.Context) (*App, func(), error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	app, err := NewApp(ctx, offline(cfg), logger)
	if err != nil {
		return nil, nil, err
	}
	return app, func() { _ = app.Close() }, nil
}

func offline(cfg *config.Config) *config.Config {
	c := *cfg
	c.Oracle.Provider = config.OracleTable
	c.Events.Sinks = nil
	return &c
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)
	return tw
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ari/agent-index/internal/config"
	"github.com/ari/agent-index/internal/index"
	"github.com/ari/agent-index/internal/store"
	"github.com/ari/agent-index/internal/timeline"
	"github.com/ari/agent-index/internal/ui"
)

var (
	cfgPath string
	cfg     *config.Config

	scopeProjects []string
	scopeFrom     string
	scopeTo       string
	scopeDate     string
)

var rootCmd = &cobra.Command{
	Use:   "agent-index",
	Short: "Index AI coding agent transcripts",
	Long:  `A CLI tool that indexes AI coding agent transcript logs (Claude, Codex, Gemini) into a local cache for fast querying.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help command
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// flagScope builds the scope from the shared --project/--from/--to/--date
// flags. --date is shorthand for --from X --to X.
func flagScope() (store.Scope, error) {
	sc := store.Scope{Projects: scopeProjects, From: scopeFrom, To: scopeTo}
	if scopeDate != "" {
		if sc.From != "" || sc.To != "" {
			return store.Scope{}, fmt.Errorf("--date cannot be combined with --from/--to")
		}
		sc.From = scopeDate
		sc.To = scopeDate
	}
	for _, d := range []string{sc.From, sc.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return store.Scope{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
		}
	}
	return sc, nil
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&scopeProjects, "project", "p", nil, "Limit to the named project(s)")
	cmd.Flags().StringVar(&scopeFrom, "from", "", "Inclusive start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&scopeTo, "to", "", "Inclusive end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&scopeDate, "date", "", "Single date, shorthand for --from X --to X")
}

// openStore opens the cache database, creating its directory if needed.
func openStore() (*store.Store, error) {
	dbPath := cfg.GetDatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return store.Open(dbPath)
}

func newPipeline(st *store.Store) *index.Pipeline {
	return index.NewPipeline(st, cfg.RootMap(), cfg.Include, cfg.Exclude, cfg.Workers)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show loaded configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Config loaded:\n")
		fmt.Printf("  Database: %s\n", cfg.GetDatabasePath())
		for kind, roots := range cfg.RootMap() {
			for _, root := range roots {
				fmt.Printf("  Root (%s): %s\n", kind, root)
			}
		}
		fmt.Printf("  Workers: %d\n", cfg.Workers)
		fmt.Printf("  Watch debounce: %s (cap %s)\n", cfg.WatchDebounce(), cfg.WatchMaxDelay())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the index from the transcript directories",
	Long:  "Scan the configured transcript roots, reparse changed files and update the cache. With no flags the whole corpus is refreshed; --project or --date narrow the pass.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := flagScope()
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		start := time.Now()
		agg, err := newPipeline(st).Run(cmd.Context(), sc)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		if err := st.SetMeta(cmd.Context(), "last_sync", fmt.Sprint(time.Now().Unix())); err != nil {
			return err
		}

		fmt.Printf("Sync complete in %s\n", time.Since(start).Round(time.Millisecond))
		ui.DisplayTotals(sc, agg)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate totals for a scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := flagScope()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		agg, err := st.FetchTotals(cmd.Context(), sc)
		if err != nil {
			return err
		}
		ui.DisplayTotals(sc, agg)
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show totals broken down by tool family",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := flagScope()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		breakdown, err := st.FetchSourceBreakdown(cmd.Context(), sc)
		if err != nil {
			return err
		}
		ui.DisplaySources(sc, breakdown)
		return nil
	},
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Show totals broken down by day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := flagScope()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		days, err := st.FetchDailyBreakdown(cmd.Context(), sc)
		if err != nil {
			return err
		}
		ui.DisplayDaily(sc, days)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed sessions in a scope, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := flagScope()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		records, err := st.FetchScope(cmd.Context(), sc)
		if err != nil {
			return err
		}
		ui.DisplaySessions(sc, records)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the full timeline of a session",
	Long:  "Load and display the complete turn-by-turn timeline of an indexed session. Cached previews are shown first when available; the full parse follows.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		records, err := st.FetchRecords(cmd.Context(), args[0:1])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("session %s not found; run sync first", args[0])
		}
		r := records[0]
		if r.ParseError != "" {
			return fmt.Errorf("session %s is unreadable: %s", r.SessionID, r.ParseError)
		}

		loader := timeline.NewLoader(st)
		if previews, err := loader.Previews(cmd.Context(), r.SessionID, r.FilePath); err == nil && len(previews) > 0 {
			ui.DisplayPreviews(&r, previews)
		}

		turns, err := loader.Load(cmd.Context(), r.SessionID, r.Source, r.FilePath)
		if err != nil {
			return fmt.Errorf("failed to load timeline: %w", err)
		}
		ui.DisplayTimeline(&r, turns)
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <session-id> <text>",
	Short: "Attach a comment to a session",
	Long:  "Store a free-form comment on an indexed session. Comments survive reindexing; an empty text clears the comment.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		if err := st.SetComment(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Comment set on %s\n", args[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the transcript directories and keep the index fresh",
	Long:  "Run an initial full refresh, then watch the transcript roots for changes and refresh the affected scopes in the background. Stops on SIGINT/SIGTERM.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		pipe := newPipeline(st)
		sched := index.NewScheduler(ctx, pipe.Run,
			func(sc store.Scope, agg *store.Aggregate) {
				fmt.Printf("[%s] refreshed %s: %d sessions, %s tokens\n",
					time.Now().Format("15:04:05"), sc.Key(), agg.Sessions, ui.FormatTokens(agg.TotalTokens))
			},
			cfg.RefreshDebounce(), cfg.RefreshGrace())

		watcher, err := index.NewWatcher(st, sched, cfg.RootMap(), cfg.WatchDebounce(), cfg.WatchMaxDelay())
		if err != nil {
			return err
		}
		defer watcher.Close()

		if err := watcher.Start(ctx); err != nil {
			return err
		}

		fmt.Println("Watching transcript directories (Ctrl-C to stop)")
		sched.Request(store.All, true)

		<-ctx.Done()
		sched.Wait()
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (default: ~/.agent-index/config.toml)")
	for _, c := range []*cobra.Command{syncCmd, statsCmd, sourcesCmd, dailyCmd, listCmd} {
		addScopeFlags(c)
	}
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(watchCmd)
}

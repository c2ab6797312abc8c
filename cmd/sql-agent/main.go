// cmd/sql-agent/main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nlquery/internal/bootstrap"
	"nlquery/internal/common/config"
	"nlquery/internal/common/database"
	"nlquery/internal/common/logger"
	"nlquery/internal/nlq/pipeline"
)

var (
	configPath string
	question   string
	nickname   string
)

var rootCmd = &cobra.Command{
	Use:   "sql-agent",
	Short: "Ask questions across the indexed relational databases",
	Long: `sql-agent answers natural-language questions by searching the schema catalog,
generating one SQL statement per relevant database, running them and summarizing the rows.

Run "sql-agent index" first to populate the catalog.`,
	SilenceUsage: true,
	RunE:         runAsk,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Start the interactive prompt, or answer --question once",
	RunE:  runAsk,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed every table of the configured databases into the catalog",
	RunE:  runIndex,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: configs/ discovery)")
	for _, cmd := range []*cobra.Command{rootCmd, askCmd} {
		cmd.Flags().StringVarP(&question, "question", "q", "", "answer a single question and exit")
		cmd.Flags().StringVar(&nickname, "nickname", "", "record answers in the history under this name")
	}
	rootCmd.AddCommand(askCmd, indexCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadApp(ctx context.Context) (*bootstrap.App, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if app.SQLPipeline == nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("database.elasticsearch is not configured; the schema catalog is required")
	}
	return app, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	agent := &agent{asker: app.SQLPipeline, nickname: nickname, out: cmd.OutOrStdout()}
	if question != "" {
		return agent.answer(ctx, question)
	}
	return agent.repl(ctx, cmd.InOrStdin())
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	urls := app.Config.Relational.DatabaseURLs
	if len(urls) == 0 {
		return fmt.Errorf("relational.database_urls is empty")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexing %d database(s)...\n", len(urls))
	report, err := app.Indexer.Run(ctx, urls)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %d table(s) from %d database(s).\n", report.Tables, report.Databases)
	for _, skipped := range report.Skipped {
		fmt.Fprintf(out, "Skipped %s (see log for the reason)\n", skipped)
	}
	return nil
}

// ==========================
// Interactive agent
// ==========================

type asker interface {
	Ask(ctx context.Context, question, nickname string) (*pipeline.SQLAnswer, error)
}

type agent struct {
	asker    asker
	nickname string
	out      io.Writer
}

func isExit(line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit", "q":
		return true
	}
	return false
}

// repl reads questions until an exit word or end of input. A failed question is reported and
// the prompt continues.
func (a *agent) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(a.out, "Ask a question about your databases. Type 'exit' to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(a.out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isExit(line) {
			fmt.Fprintln(a.out, "Goodbye.")
			return nil
		}

		if err := a.answer(ctx, line); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (a *agent) answer(ctx context.Context, q string) error {
	ans, err := a.asker.Ask(ctx, q, a.nickname)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "\nRelevant tables:")
	if len(ans.RelevantTables) == 0 {
		fmt.Fprintln(a.out, "  (none)")
	}
	for _, t := range ans.RelevantTables {
		fmt.Fprintf(a.out, "  - %s (%s) in %s\n", t.UnitName, strings.Join(t.Columns, ", "), database.RedactURL(t.StoreID))
	}

	if len(ans.Queries) > 0 {
		queries, err := json.MarshalIndent(ans.Queries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "\nGenerated queries:\n%s\n", queries)

		fmt.Fprintln(a.out, "\nResults:")
		for _, r := range ans.Results {
			fmt.Fprintf(a.out, "  [%s] %s\n", database.RedactURL(r.DBURL), r.Result)
		}
	}

	fmt.Fprintf(a.out, "\nAnswer:\n%s\n", ans.Response)
	return nil
}

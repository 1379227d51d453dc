package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/lsmcp/lsmcp/helpers"
	"github.com/lsmcp/lsmcp/index"
	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/pool"
	"github.com/lsmcp/lsmcp/release"
	"github.com/lsmcp/lsmcp/report"
	"github.com/lsmcp/lsmcp/tools"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	protocol "go.lsp.dev/protocol"
)

func newLogger(cmd *cobra.Command) *log.Logger {
	var writer io.Writer = io.Discard
	if isVerbose, _ := cmd.Flags().GetBool("verbose"); isVerbose {
		// stdout carries the tool protocol; logs always go to stderr
		writer = os.Stderr
	}
	return log.New(writer, "lsmcp> ", 0)
}

func newWorkspace(cmd *cobra.Command) *pool.Workspace {
	logger := newLogger(cmd)
	return pool.NewWorkspace(pool.New(logger), logger)
}

var rootCmd = &cobra.Command{
	Use:           "lsmcp",
	Version:       release.Version(),
	Short:         "lsmcp is a code-intelligence broker bridging assistants to language servers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if dataDir, _ := cmd.Flags().GetString("data-dir"); len(dataDir) != 0 {
			helpers.SetDataDirPath(dataDir)
		}
		if language, _ := cmd.Flags().GetString("language"); len(language) != 0 {
			os.Setenv("LSMCP_FORCE_LANGUAGE", language)
		}
		if serverCmd, _ := cmd.Flags().GetString("server-command"); len(serverCmd) != 0 {
			lsp.SetCommandOverride(serverCmd)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the tool protocol over stdio for an assistant to drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := newWorkspace(cmd)
		server := tools.NewServer(ws, release.Version(), newLogger(cmd))
		return server.ServeStdio()
	},
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics [files...]",
	Short: "Reports diagnostics for files or a glob pattern; exits 1 on any error",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")

		relPaths := append([]string{}, args...)
		if pattern, _ := cmd.Flags().GetString("pattern"); len(pattern) != 0 {
			expanded, err := tools.ExpandPattern(root, pattern)
			if err != nil {
				return err
			}
			relPaths = append(relPaths, expanded...)
		}
		if len(relPaths) == 0 {
			return fmt.Errorf("you must specify files or a --pattern")
		}

		ws := newWorkspace(cmd)
		defer ws.Pool().ShutdownAll()

		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			fmt.Printf("lsmcp> checking %d file/s...\n", len(relPaths))
		}

		results, err := tools.CollectDiagnostics(cmd.Context(), ws, root, relPaths)
		if err != nil {
			return err
		}

		output := tools.FormatDiagnostics(root, results)
		fmt.Println(output)

		errorCount := 0
		for _, diagnostics := range results {
			for _, diag := range diagnostics {
				if diag.Severity == protocol.DiagnosticSeverityError {
					errorCount++
				}
			}
		}

		if archive, _ := cmd.Flags().GetBool("archive"); archive {
			if err := archiveDiagnostics(root, results, output); err != nil {
				newLogger(cmd).Printf("failed to archive report: %s\n", err.Error())
			}
		}

		if errorCount > 0 {
			// the surrounding main exits 1
			return fmt.Errorf("%d error/s found", errorCount)
		}
		return nil
	},
}

func archiveDiagnostics(root string, results map[string][]protocol.Diagnostic, output string) error {
	store, err := report.NewStore()
	if err != nil {
		return err
	}
	defer store.Close()

	errorCount, warningCount := 0, 0
	for _, diagnostics := range results {
		for _, diag := range diagnostics {
			switch diag.Severity {
			case protocol.DiagnosticSeverityError:
				errorCount++
			case protocol.DiagnosticSeverityWarning:
				warningCount++
			}
		}
	}

	return store.Save(report.Report{
		Root:     root,
		Tool:     "diagnostics",
		Errors:   errorCount,
		Warnings: warningCount,
		Content:  output,
	})
}

func openIndex(cmd *cobra.Command, root string) (*index.Index, *pool.Workspace, error) {
	canonRoot, err := helpers.CanonicalRoot(root)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cmd)
	ws := pool.NewWorkspace(pool.New(logger), logger)

	opts := []index.Option{index.WithLogger(logger)}
	if cache, err := index.OpenCache(canonRoot); err == nil {
		opts = append(opts, index.WithCache(cache))
	}

	return index.New(canonRoot, index.NewLspSource(ws), opts...), ws, nil
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Builds (or refreshes) the project symbol index",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")

		idx, ws, err := openIndex(cmd, root)
		if err != nil {
			return err
		}
		defer ws.Pool().ShutdownAll()

		tools.ScanProject(cmd.Context(), ws, idx)

		stats := idx.Stats()
		fmt.Printf("indexed %d symbol/s in %d file/s\n", stats.Symbols, stats.Files)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Searches the project symbol index by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")

		idx, ws, err := openIndex(cmd, root)
		if err != nil {
			return err
		}
		defer ws.Pool().ShutdownAll()

		tools.ScanProject(cmd.Context(), ws, idx)

		query := index.Query{Name: args[0], IncludeChildren: true}
		if kinds, _ := cmd.Flags().GetString("kind"); len(kinds) != 0 {
			for _, name := range strings.Split(kinds, ",") {
				kind, ok := index.ParseKind(strings.TrimSpace(name))
				if !ok {
					return fmt.Errorf("unknown symbol kind %q", strings.TrimSpace(name))
				}
				query.Kinds = append(query.Kinds, kind)
			}
		}

		fmt.Println(tools.FormatSearchResults(idx.Root(), idx.Search(query)))
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Manages the archived diagnostics reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists archived reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := report.NewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		iter, err := store.List(report.Filter{})
		if err != nil {
			return err
		}

		reports, err := iter.List()
		if err != nil {
			return err
		}

		if len(reports) == 0 {
			fmt.Println("no archived reports")
			return nil
		}

		for _, r := range reports {
			createdAt := ""
			if r.CreatedAt != nil && !r.CreatedAt.IsZero() {
				createdAt = r.CreatedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("#%d %s %s %s (%d error/s, %d warning/s)\n",
				r.Id, createdAt, r.Tool, r.Root, r.Errors, r.Warnings)
		}
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Prints one archived report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid report id %q", args[0])
		}

		store, err := report.NewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		r, err := store.Get(id)
		if err != nil {
			return err
		}

		fmt.Println(r.Content)
		return nil
	},
}

var reportExportCmd = &cobra.Command{
	Use:   "export <path.xlsx>",
	Short: "Exports archived reports to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := report.NewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		count, err := store.ExportXlsx(args[0], report.Filter{})
		if err != nil {
			return err
		}

		fmt.Printf("exported %d report/s to %s\n", count, args[0])
		return nil
	},
}

var reportResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Deletes every archived report of the current archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := report.NewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return store.Reset()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "log to stderr")
	rootCmd.PersistentFlags().String("data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().String("language", "", "force a language id regardless of file extension")
	rootCmd.PersistentFlags().String("server-command", "", "override the language server command")

	diagnosticsCmd.Flags().String("root", ".", "project root")
	diagnosticsCmd.Flags().String("pattern", "", "glob pattern relative to root, e.g. 'src/**/*.ts'")
	diagnosticsCmd.Flags().Bool("archive", false, "save the report to the archive")
	indexCmd.Flags().String("root", ".", "project root")
	searchCmd.Flags().String("root", ".", "project root")
	searchCmd.Flags().String("kind", "", "comma-separated kind filter, e.g. Class,Function")

	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportExportCmd)
	reportCmd.AddCommand(reportResetCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalln(err)
	}
}

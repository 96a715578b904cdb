package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"kb/internal/domain"
	"kb/internal/tui"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// buildReport is the printable form of domain.BuildResult with the elapsed
// time in seconds.
type buildReport struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Stats       *domain.IndexStats `json:"stats,omitempty"`
	TimeElapsed float64            `json:"time_elapsed"`
}

func newBuildCommand(opts *globalOptions) *cobra.Command {
	var rebuild, asJSON bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the knowledge base from the upload directory, or reuse the saved one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.kb.Build(cmd.Context(), rebuild)
			report := buildReport{Success: res.Success, Message: res.Message, Stats: res.Stats, TimeElapsed: res.Elapsed.Seconds()}
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				printBuild(out, report)
			}
			if !res.Success {
				return fmt.Errorf("build failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Ignore the saved index and rebuild from documents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printBuild(w io.Writer, r buildReport) {
	status := okStyle.Render("✓ " + r.Message)
	if !r.Success {
		status = errStyle.Render("✗ " + r.Message)
	}
	fmt.Fprintln(w, status)
	if r.Stats != nil {
		fmt.Fprintf(w, "  passages: %d  dimension: %d  backend: %s\n", r.Stats.TotalVectors, r.Stats.Dimension, r.Stats.Backend)
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  elapsed: %.2fs", r.TimeElapsed)))
}

func newSearchCommand(opts *globalOptions) *cobra.Command {
	var k int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			query := strings.Join(args, " ")
			results := a.kb.Search(cmd.Context(), query, k)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}
			printResults(out, query, results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func printResults(w io.Writer, query string, results []domain.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No results for %q\n", query)
		return
	}
	for _, r := range results {
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("#%d  score=%.4f  %s", r.Rank, r.Score, r.Metadata.String(domain.MetaSource))))
		text := r.Metadata.String(domain.MetaText)
		if text == "" {
			text = r.Metadata.String(domain.MetaSummary)
		}
		fmt.Fprintln(w, text)
		fmt.Fprintln(w)
	}
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			stats := a.kb.Stats(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stats)
			}
			fmt.Fprintln(out, titleStyle.Render("Knowledge base"))
			fmt.Fprintf(out, "  status:    %s\n", stats.Status)
			if stats.Status == domain.StatusReady {
				fmt.Fprintf(out, "  vectors:   %d\n  metadata:  %d\n  dimension: %d\n  backend:   %s\n",
					stats.TotalVectors, stats.MetadataCount, stats.Dimension, stats.Backend)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

func newUploadCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Copy documents into the upload directory under unique names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				if err := uploadFile(a, path, out); err != nil {
					fmt.Fprintln(out, errStyle.Render("✗ "+err.Error()))
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func uploadFile(a *app, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	u, err := a.uploads.Save(filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render("✓ uploaded "+u.Name))
	return nil
}

func newUploadsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage the upload directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every file from the upload directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.uploads.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files from %s\n", n, a.uploads.Dir())
			return nil
		},
	})
	return cmd
}

func newTUICommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Search the knowledge base interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			// keep log lines from tearing the alternate screen
			a.log.SetOutput(io.Discard)
			stats := a.kb.Stats(cmd.Context())
			m := tui.New(a.kb, stats, a.cfg.Index.SearchK)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

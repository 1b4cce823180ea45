package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alias1177/Correlator/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate, show and prune reports",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a report",
	Long: `Generate builds a report, writes it to REPORT_DIR as markdown and HTML and
records it in the database.

Examples:
  correlator report generate --type daily_summary
  correlator report generate --type correlation --notify`,
	RunE: runReportGenerate,
}

var reportShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Render a stored report in the terminal",
	Long:  "Show renders a report by id, or lists recent reports when no id is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReportShow,
}

var reportCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete reports older than the retention period",
	RunE:  runReportCleanup,
}

var (
	reportType      string
	reportNotify    bool
	reportWidth     int
	reportRetention int
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportGenerateCmd, reportShowCmd, reportCleanupCmd)

	reportGenerateCmd.Flags().StringVar(&reportType, "type", report.DailySummary, "daily_summary, weekly_summary, correlation, risk or system_status")
	reportGenerateCmd.Flags().BoolVar(&reportNotify, "notify", false, "Send the summary to the configured chats")
	reportShowCmd.Flags().IntVar(&reportWidth, "width", 100, "Word wrap width")
	reportCleanupCmd.Flags().IntVar(&reportRetention, "days", 0, "Retention in days (default REPORT_RETENTION_DAYS)")
}

func runReportGenerate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.reports.Generate(cmd.Context(), report.Request{Type: reportType, Notify: reportNotify})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n%s\n", res.Report.ID, res.Summary)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func runReportShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		reports, err := a.reports.List(ctx, 20)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tCREATED\tTITLE")
		for _, r := range reports {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Type, r.CreatedAt.Format(time.DateTime), r.Title)
		}
		return tw.Flush()
	}

	_, md, err := a.reports.Markdown(ctx, args[0])
	if err != nil {
		return err
	}
	rendered, err := report.Terminal(md, reportWidth)
	if err != nil {
		return err
	}
	fmt.Fprint(out, rendered)
	return nil
}

func runReportCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.reports.Cleanup(cmd.Context(), reportRetention)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

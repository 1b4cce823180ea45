package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs from JOBS_FILE",
	RunE:  runJobsList,
}

var jobsJSON bool

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "Print JSON instead of a table")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.Load(); err != nil {
		return err
	}
	jobs := a.scheduler.List()
	if jobsJSON {
		return printJSON(cmd, jobs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCHEDULE\tAGENT\tTASK\tENABLED\tNEXT RUN\tRUNS\tFAILS")
	for _, j := range jobs {
		next := "-"
		if !j.NextRun.IsZero() {
			next = j.NextRun.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
			j.Name, j.Schedule, j.Agent, j.TaskType, j.Enabled, next, j.RunCount, j.FailCount)
	}
	return tw.Flush()
}

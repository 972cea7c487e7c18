package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"rpscrape/internal/race"
	"rpscrape/internal/retry"
)

var (
	retryLog    string
	retryRegion string
	retryType   string
	retryJobs   int
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-scrape the dates listed in a failure log",
	Long: `Backs up the failure log to <log>.bak, truncates it, then re-scrapes every
date it names so only new failures remain in the log.`,
	Example: `  rpscrape retry --log data/dates/gb/all/failed.log
  rpscrape retry --log failed.log --region ire --jobs 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		discipline, err := race.ParseDiscipline(retryType)
		if err != nil {
			return err
		}
		opts := retry.Options{
			LogPath:    retryLog,
			Region:     retryRegion,
			Discipline: discipline,
			Workers:    retryJobs,
		}
		if _, err := retry.Resolve(opts); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sess, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.Close(); cerr != nil {
				sess.logger().Warn("shutdown", "error", cerr)
			}
		}()

		driver := retry.NewDriver(sess.engine, sess.engine.Metrics(), sess.logger())
		report, err := driver.Retry(cmd.Context(), opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(report.Dates) == 0 {
			fmt.Fprintln(out, "No dates found in log; nothing to retry.")
			return nil
		}
		fmt.Fprintf(out, "Backed up log to %s\n", report.BackupPath)
		for _, d := range report.Dates {
			if ferr, ok := report.Failed[d]; ok {
				fmt.Fprintf(out, "  ! retry failed for %s: %v\n", d, ferr)
			}
		}
		fmt.Fprintf(out, "Retry complete (%d/%d dates). Remaining failures, if any, are in %s\n",
			report.Retried(), len(report.Dates), report.LogPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.Flags().StringVar(&retryLog, "log", "", "Failure log to replay")
	retryCmd.Flags().StringVarP(&retryRegion, "region", "r", "", "Region code (default inferred from the log path)")
	retryCmd.Flags().StringVarP(&retryType, "type", "t", "", "Race type: flat or jumps (default inferred from the log path)")
	retryCmd.Flags().IntVarP(&retryJobs, "jobs", "j", 6, "Concurrent workers (1-10)")
	_ = retryCmd.MarkFlagRequired("log")
}

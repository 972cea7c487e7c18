package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rpscrape/internal/config"
	"rpscrape/internal/crawler"
	"rpscrape/internal/race"
)

var (
	scrapeDate   string
	scrapeRegion string
	scrapeCourse string
	scrapeYear   string
	scrapeType   string
	scrapeJobs   int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape results by date and region, or by course and year",
	Example: `  rpscrape scrape --date 2024/05/01 --region gb
  rpscrape scrape --date 2024/05/01-2024/05/03 --region ire --type jumps --jobs 8
  rpscrape scrape --course 2 --year 2023 --type flat
  rpscrape scrape --region gb --year 2020-2023 --type jumps`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		discipline, err := race.ParseDiscipline(scrapeType)
		if err != nil {
			return err
		}
		if scrapeDate == "" && scrapeYear == "" {
			return errors.New("one of --date or --year is required")
		}
		if scrapeDate != "" && (scrapeYear != "" || scrapeCourse != "") {
			return errors.New("--date cannot be combined with --year or --course")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		workers := cfg.Worker.Concurrency
		if cmd.Flags().Changed("jobs") {
			workers = scrapeJobs
		}

		var dateQuery *crawler.DateQuery
		var courseQuery *crawler.CourseQuery
		if scrapeDate != "" {
			q, err := buildDateQuery(cfg, scrapeDate, scrapeRegion, discipline)
			if err != nil {
				return err
			}
			q.Workers = workers
			dateQuery = &q
		} else {
			q, err := buildCourseQuery(cfg, scrapeCourse, scrapeRegion, scrapeYear, discipline, time.Now())
			if err != nil {
				return err
			}
			q.Workers = workers
			courseQuery = &q
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

		out := cmd.OutOrStdout()
		if dateQuery != nil {
			summaries, err := sess.engine.ScrapeDates(cmd.Context(), *dateQuery)
			for _, s := range summaries {
				printSummary(out, s)
			}
			return err
		}
		summary, err := sess.engine.ScrapeCourses(cmd.Context(), *courseQuery)
		if err != nil {
			return err
		}
		printSummary(out, summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().StringVarP(&scrapeDate, "date", "d", "", "Date or date range, YYYY/MM/DD[-YYYY/MM/DD]")
	scrapeCmd.Flags().StringVarP(&scrapeRegion, "region", "r", "", "Region code, e.g. gb or ire")
	scrapeCmd.Flags().StringVarP(&scrapeCourse, "course", "c", "", "Course id")
	scrapeCmd.Flags().StringVarP(&scrapeYear, "year", "y", "", "Year or year range, YYYY[-YYYY]")
	scrapeCmd.Flags().StringVarP(&scrapeType, "type", "t", "", "Race type: flat or jumps (default all, date mode only)")
	scrapeCmd.Flags().IntVarP(&scrapeJobs, "jobs", "j", 6, "Concurrent workers (1-10)")
}

func buildDateQuery(cfg config.Config, dateArg, region string, d race.Discipline) (crawler.DateQuery, error) {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		return crawler.DateQuery{}, errors.New("--region is required with --date")
	}
	if len(cfg.CoursesFor(region)) == 0 {
		return crawler.DateQuery{}, fmt.Errorf("unknown region %q", region)
	}
	dates, err := parseDates(dateArg)
	if err != nil {
		return crawler.DateQuery{}, err
	}
	return crawler.DateQuery{Dates: dates, Region: region, Discipline: d}, nil
}

func buildCourseQuery(cfg config.Config, courseID, region, yearArg string, d race.Discipline, now time.Time) (crawler.CourseQuery, error) {
	if d == race.DisciplineAll {
		return crawler.CourseQuery{}, errors.New("--type flat or --type jumps is required with --year")
	}
	years, err := parseYears(yearArg, now)
	if err != nil {
		return crawler.CourseQuery{}, err
	}
	q := crawler.CourseQuery{Years: years, Discipline: d, FileName: strings.TrimSpace(yearArg)}

	courseID = strings.TrimSpace(courseID)
	region = strings.ToLower(strings.TrimSpace(region))
	switch {
	case courseID != "" && region != "":
		return crawler.CourseQuery{}, errors.New("use either --course or --region with --year, not both")
	case courseID != "":
		course, ok := cfg.Course(courseID)
		if !ok {
			return crawler.CourseQuery{}, fmt.Errorf("unknown course id %q", courseID)
		}
		q.Courses = []config.Course{course}
		q.Folder = course.Name
	case region != "":
		q.Courses = cfg.CoursesFor(region)
		if len(q.Courses) == 0 {
			return crawler.CourseQuery{}, fmt.Errorf("unknown region %q", region)
		}
		q.Folder = region
	default:
		return crawler.CourseQuery{}, errors.New("--course or --region is required with --year")
	}
	return q, nil
}

func printSummary(w io.Writer, s crawler.Summary) {
	if s.OutputPath == "" {
		fmt.Fprintln(w, "No races found to scrape.")
		return
	}
	fmt.Fprintf(w, "Finished scraping %d races (%d rows, %d failed).\nData path: %s\n", s.Jobs, s.Rows, s.Failed(), s.OutputPath)
	if s.BetfairPath != "" {
		fmt.Fprintf(w, "Betfair data: %s\n", s.BetfairPath)
	}
	if s.FailureLog != "" {
		fmt.Fprintf(w, "Failed races logged to %s; rerun with: rpscrape retry --log %s\n", s.FailureLog, s.FailureLog)
	}
}

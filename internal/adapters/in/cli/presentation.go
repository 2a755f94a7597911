package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bnema/snapkeep/internal/domain"
)

func cliWriteLine(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format+"\n", args...)
	return err
}

// table writes tab-separated rows aligned in columns.
type table struct {
	w   *tabwriter.Writer
	err error
}

func newTable(w io.Writer, headers ...string) *table {
	t := &table{w: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	t.row(headers...)
	return t
}

func (t *table) row(cols ...string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintln(t.w, strings.Join(cols, "\t"))
}

func (t *table) flush() error {
	if t.err != nil {
		return t.err
	}
	return t.w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printSchedules(cmd *cobra.Command, schedules []domain.BackupSchedule) error {
	w := cmd.OutOrStdout()
	if len(schedules) == 0 {
		return cliWriteLine(w, "No schedules found")
	}
	t := newTable(w, "ID", "NAME", "TYPE", "FORMAT", "CRON", "ENABLED", "RETENTION", "LAST_RUN", "LAST_STATUS", "NEXT_RUN")
	for _, sc := range schedules {
		next := "-"
		if sc.Enabled {
			next = formatTime(&sc.NextRun)
		}
		cron := sc.Cron
		if sc.Timezone != "" {
			cron += " (" + sc.Timezone + ")"
		}
		t.row(sc.ID, sc.Name, string(sc.Type), string(sc.Format), cron,
			fmt.Sprintf("%t", sc.Enabled), fmt.Sprintf("%dd", sc.RetentionDays),
			formatTime(sc.LastRun), orDash(string(sc.LastStatus)), next)
	}
	return t.flush()
}

func printJob(cmd *cobra.Command, job *domain.BackupJob) error {
	if job == nil {
		return nil
	}
	t := newTable(cmd.OutOrStdout(), "JOB", "KIND", "TRIGGER", "STATUS", "FILE", "SIZE", "ERROR")
	t.row(job.ID, string(job.Kind), string(job.Trigger), string(job.Status),
		orDash(job.Filename), formatSize(job.Size), orDash(job.Error))
	return t.flush()
}

type jobQuery struct {
	scheduleID string
	status     string
	kind       string
	limit      int
}

func printJobs(cmd *cobra.Command, local Local, q jobQuery) error {
	jobs, err := local.Backup().ListJobs(cmd.Context(), domain.JobFilter{
		ScheduleID: q.scheduleID,
		Status:     domain.BackupJobStatus(q.status),
		Kind:       domain.JobKind(q.kind),
		Limit:      q.limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(jobs) == 0 {
		return cliWriteLine(w, "No jobs found")
	}
	t := newTable(w, "JOB", "SCHEDULE", "KIND", "TRIGGER", "STATUS", "STARTED_AT", "FILE", "SIZE", "ERROR")
	for _, job := range jobs {
		t.row(job.ID, orDash(job.ScheduleID), string(job.Kind), string(job.Trigger), string(job.Status),
			formatTime(job.StartedAt), orDash(job.Filename), formatSize(job.Size), orDash(job.ErrorKind))
	}
	return t.flush()
}

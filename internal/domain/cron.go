package domain

import "time"

// BackupSchedule is a named, cron-driven recurring backup configuration.
type BackupSchedule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          BackupType      `json:"type"`
	Format        BackupFormat    `json:"format"`
	Cron          string          `json:"cron"`
	Timezone      string          `json:"timezone,omitempty"`
	Enabled       bool            `json:"enabled"`
	RetentionDays int             `json:"retentionDays"`
	LastRun       *time.Time      `json:"lastRun,omitempty"`
	NextRun       time.Time       `json:"nextRun"`
	LastStatus    BackupJobStatus `json:"lastStatus,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Due reports whether the scheduler should fire the schedule at now.
func (s BackupSchedule) Due(now time.Time) bool {
	return s.Enabled && !now.Before(s.NextRun)
}

// RetentionWindow returns the age after which artifacts become eligible for deletion.
func (s BackupSchedule) RetentionWindow() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// ScheduleOutcome is applied to the owning schedule when a job completes.
type ScheduleOutcome struct {
	LastRun    *time.Time
	LastStatus BackupJobStatus
	// NextRun is only applied while the schedule is still enabled.
	NextRun *time.Time
}

package domain

import "io"

// Command is the closed set of operations accepted by the backup service.
type Command interface {
	// Action returns the wire name of the command.
	Action() string
	isCommand()
}

// Command actions as sent by clients.
const (
	ActionCreateSchedule = "create-schedule"
	ActionToggleSchedule = "toggle-schedule"
	ActionRunSchedule    = "run-schedule"
	ActionDeleteSchedule = "delete-schedule"
	ActionRunBackup      = "run-backup"
	ActionRestore        = "restore"
)

// CreateSchedule registers a new recurring backup.
type CreateSchedule struct {
	Name          string       `json:"name" validate:"required,max=120"`
	Type          BackupType   `json:"type" validate:"required,oneof=database files full"`
	Format        BackupFormat `json:"format" validate:"required,oneof=sql json"`
	Cron          string       `json:"cron" validate:"required"`
	Timezone      string       `json:"timezone" validate:"omitempty,timezone"`
	RetentionDays int          `json:"retentionDays" validate:"required,min=1,max=36500"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled"`
}

// ToggleSchedule enables or disables a schedule. A nil Enabled flips the state.
type ToggleSchedule struct {
	ID      string `json:"id" validate:"required"`
	Enabled *bool  `json:"enabled"`
}

// RunSchedule starts a schedule immediately, through the same guard as the scheduler.
type RunSchedule struct {
	ID string `json:"id" validate:"required"`
}

// DeleteSchedule removes a schedule; its artifacts become manual backups.
type DeleteSchedule struct {
	ID string `json:"id" validate:"required"`
}

// RunBackup starts an ad-hoc backup without schedule lineage.
type RunBackup struct {
	Type   BackupType   `json:"type" validate:"required,oneof=database files full"`
	Format BackupFormat `json:"format" validate:"required,oneof=sql json"`
	// Zip packages the artifact as a zip with a manifest even when it
	// would otherwise be a bare SQL file.
	Zip bool `json:"zip"`
}

// Restore replays an uploaded SQL snapshot. Without a Snapshot, Filename
// names a stored .sql artifact to restore from.
type Restore struct {
	Snapshot io.Reader `json:"-" validate:"required_without=Filename"`
	Filename string    `json:"filename" validate:"required_without=Snapshot"`
}

func (CreateSchedule) Action() string { return ActionCreateSchedule }
func (ToggleSchedule) Action() string { return ActionToggleSchedule }
func (RunSchedule) Action() string    { return ActionRunSchedule }
func (DeleteSchedule) Action() string { return ActionDeleteSchedule }
func (RunBackup) Action() string      { return ActionRunBackup }
func (Restore) Action() string        { return ActionRestore }

func (CreateSchedule) isCommand() {}
func (ToggleSchedule) isCommand() {}
func (RunSchedule) isCommand()    {}
func (DeleteSchedule) isCommand() {}
func (RunBackup) isCommand()      {}
func (Restore) isCommand()        {}

// CommandResult carries whatever the executed command produced.
type CommandResult struct {
	Action   string          `json:"action"`
	Schedule *BackupSchedule `json:"schedule,omitempty"`
	Job      *BackupJob      `json:"job,omitempty"`
	Report   *RestoreReport  `json:"report,omitempty"`
}

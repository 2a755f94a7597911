// Package backup implements the HTTP adapter for the backup engine.
package backup

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/boundaries/in"
	"github.com/bnema/snapkeep/internal/domain"
)

// maxCommandSize is the maximum allowed size for schedule command bodies.
const maxCommandSize = 1 << 20 // 1MB

// DefaultMaxUploadSize bounds restore uploads when no limit is configured.
const DefaultMaxUploadSize = 512 * humanize.MByte

// maxJobsLimit caps GET /backup/jobs?limit=.
const maxJobsLimit = 1000

// Handler serves the backup API.
type Handler struct {
	svc       in.BackupService
	maxUpload int64
	log       zerolog.Logger
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Statement *int   `json:"statement,omitempty"`
}

// NewHandler creates a backup HTTP handler. maxUpload <= 0 selects DefaultMaxUploadSize.
func NewHandler(svc in.BackupService, maxUpload int64, log zerolog.Logger) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadSize
	}
	return &Handler{
		svc:       svc,
		maxUpload: maxUpload,
		log:       log.With().Str("component", "http").Str("handler", "backup").Logger(),
	}
}

// Register mounts the backup routes on e.
func (h *Handler) Register(e *echo.Echo) {
	g := e.Group("/backup")
	g.GET("", h.handleBackups)
	g.GET("/files/:filename", h.handleDownload)
	g.POST("/schedule", h.handleCommand)
	g.GET("/schedules", h.handleSchedules)
	g.GET("/jobs", h.handleJobs)

	e.POST("/restore", h.handleRestore)
}

// handleBackups lists artifacts, or streams the newest one when ?format= is set.
func (h *Handler) handleBackups(c echo.Context) error {
	ctx := c.Request().Context()

	if format := c.QueryParam("format"); format != "" {
		f := domain.BackupFormat(format)
		if !f.Valid() {
			return h.sendError(c, fmt.Errorf("%w: unknown format %q", domain.ErrInvalidCommand, format))
		}
		rc, file, err := h.svc.LatestBackup(ctx, f)
		if err != nil {
			return h.sendError(c, err)
		}
		return h.stream(c, rc, file)
	}

	files, err := h.svc.ListBackups(ctx)
	if err != nil {
		return h.sendError(c, err)
	}
	if files == nil {
		files = []domain.BackupFile{}
	}
	return h.sendJSON(c, http.StatusOK, files)
}

func (h *Handler) handleDownload(c echo.Context) error {
	rc, file, err := h.svc.OpenBackup(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return h.sendError(c, err)
	}
	return h.stream(c, rc, file)
}

func (h *Handler) stream(c echo.Context, rc io.ReadCloser, file domain.BackupFile) error {
	defer rc.Close()

	contentType := "application/sql"
	if strings.HasSuffix(file.Filename, ".zip") {
		contentType = "application/zip"
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename))
	if file.Size > 0 {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(file.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

// handleCommand dispatches {action, ...fields} to the matching command.
func (h *Handler) handleCommand(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCommandSize+1))
	if err != nil {
		return h.sendError(c, fmt.Errorf("%w: read body: %w", domain.ErrInvalidCommand, err))
	}
	if len(body) > maxCommandSize {
		return h.sendError(c, fmt.Errorf("%w: body exceeds %s", domain.ErrInvalidCommand, humanize.Bytes(maxCommandSize)))
	}

	cmd, err := decodeCommand(body)
	if err != nil {
		return h.sendError(c, err)
	}

	h.log.Debug().Str("action", cmd.Action()).Msg("command received")
	result, err := h.svc.Execute(c.Request().Context(), cmd)
	if err != nil {
		return h.sendError(c, err)
	}

	status := http.StatusOK
	if cmd.Action() == domain.ActionCreateSchedule {
		status = http.StatusCreated
	}
	return h.sendJSON(c, status, result)
}

func decodeCommand(body []byte) (domain.Command, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %w", domain.ErrInvalidCommand, err)
	}

	var cmd domain.Command
	switch envelope.Action {
	case domain.ActionCreateSchedule:
		var v domain.CreateSchedule
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
		}
		cmd = v
	case domain.ActionToggleSchedule:
		var v domain.ToggleSchedule
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
		}
		cmd = v
	case domain.ActionRunSchedule:
		var v domain.RunSchedule
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
		}
		cmd = v
	case domain.ActionDeleteSchedule:
		var v domain.DeleteSchedule
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
		}
		cmd = v
	case domain.ActionRunBackup:
		var v domain.RunBackup
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
		}
		cmd = v
	case "":
		return nil, fmt.Errorf("%w: missing action", domain.ErrInvalidCommand)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidCommand, envelope.Action)
	}
	return cmd, nil
}

func (h *Handler) handleSchedules(c echo.Context) error {
	schedules, err := h.svc.ListSchedules(c.Request().Context())
	if err != nil {
		return h.sendError(c, err)
	}
	if schedules == nil {
		schedules = []domain.BackupSchedule{}
	}
	return h.sendJSON(c, http.StatusOK, schedules)
}

func (h *Handler) handleJobs(c echo.Context) error {
	filter := domain.JobFilter{
		ScheduleID: c.QueryParam("scheduleId"),
		Status:     domain.BackupJobStatus(c.QueryParam("status")),
		Kind:       domain.JobKind(c.QueryParam("kind")),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxJobsLimit {
			return h.sendError(c, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidCommand, maxJobsLimit))
		}
		filter.Limit = limit
	}

	jobs, err := h.svc.ListJobs(c.Request().Context(), filter)
	if err != nil {
		return h.sendError(c, err)
	}
	if jobs == nil {
		jobs = []domain.BackupJob{}
	}
	return h.sendJSON(c, http.StatusOK, jobs)
}

// handleRestore replays the multipart field "file" against the live database.
func (h *Handler) handleRestore(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxUpload)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return h.sendError(c, fmt.Errorf("%w: upload exceeds %s", domain.ErrInvalidSnapshotFormat, humanize.Bytes(uint64(h.maxUpload))))
		}
		return h.sendError(c, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidCommand))
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".sql") {
		return h.sendError(c, fmt.Errorf("%w: only .sql files can be restored", domain.ErrInvalidSnapshotFormat))
	}

	src, err := fh.Open()
	if err != nil {
		return h.sendError(c, fmt.Errorf("%w: open upload: %w", domain.ErrInvalidCommand, err))
	}
	defer src.Close()

	result, err := h.svc.Execute(req.Context(), domain.Restore{Snapshot: src, Filename: filepath.Base(fh.Filename)})
	if err != nil {
		return h.sendError(c, err)
	}
	return h.sendJSON(c, http.StatusOK, result)
}

// sendJSON sends a JSON response.
func (h *Handler) sendJSON(c echo.Context, status int, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.JSONBlob(status, body)
}

// sendError maps err to a status code and an ErrorResponse.
func (h *Handler) sendError(c echo.Context, err error) error {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: domain.ErrorKind(err)}

	var stmtErr *domain.StatementError
	if errors.As(err, &stmtErr) {
		idx := stmtErr.Index
		resp.Statement = &idx
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	} else {
		h.log.Debug().Err(err).Str("path", c.Path()).Int("status", status).Msg("request rejected")
	}
	return h.sendJSON(c, status, resp)
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCommand),
		errors.Is(err, domain.ErrInvalidScheduleExpression),
		errors.Is(err, domain.ErrInvalidSnapshotFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrScheduleNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRestoreFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Package app provides the application initialization and wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	backuphttp "github.com/bnema/snapkeep/internal/adapters/in/http/backup"
	"github.com/bnema/snapkeep/internal/adapters/out/filesystem"
	"github.com/bnema/snapkeep/internal/adapters/out/sqldump"
	"github.com/bnema/snapkeep/internal/adapters/out/sqlitestore"
	"github.com/bnema/snapkeep/internal/adapters/out/telemetry"
	"github.com/bnema/snapkeep/internal/logging"
	"github.com/bnema/snapkeep/internal/supervisor"
	"github.com/bnema/snapkeep/internal/usecase/backup"
	"github.com/bnema/snapkeep/internal/usecase/cron"
)

const readHeaderTimeout = 10 * time.Second

// services holds every wired component.
type services struct {
	settings  settings
	log       zerolog.Logger
	liveDB    *sql.DB
	store     *sqlitestore.Store
	storage   *filesystem.BackupStorage
	backupSvc *backup.Service
	retention *backup.RetentionManager
	scheduler *cron.Scheduler
	registry  *prometheus.Registry
	handler   *backuphttp.Handler
	closers   []func() error
}

// Close releases resources in reverse creation order.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// initLogger builds the root logger. The returned closer flushes the log file.
func initLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	logCfg := cfg.Logging
	if logCfg.File.Enabled && logCfg.File.Path == "" {
		// Default to {data_dir}/logs/snapkeep.log
		logCfg.File.Path = filepath.Join(expandHome(orDefault(cfg.Server.DataDir, DefaultDataDir())), "logs", "snapkeep.log")
	}
	log, closer, err := logging.Setup(logCfg, os.Stderr)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, closer, nil
}

// openLiveDB opens the database that backups are taken from.
func openLiveDB(ctx context.Context, path, params string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if params != "" {
		dsn += "&" + params
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}
	return db, nil
}

// createServices wires storage, the job executor, the scheduler and the
// retention sweep. Nothing is started.
func createServices(ctx context.Context, cfg Config, log zerolog.Logger) (*services, error) {
	st, err := resolveSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	svc := &services{settings: st, log: log}
	fail := func(err error) (*services, error) {
		_ = svc.Close()
		return nil, err
	}

	svc.liveDB, err = openLiveDB(ctx, st.livePath, st.liveDSNParams)
	if err != nil {
		return fail(err)
	}
	svc.closers = append(svc.closers, svc.liveDB.Close)

	svc.store, err = sqlitestore.Open(ctx, st.storePath, log)
	if err != nil {
		return fail(err)
	}
	svc.closers = append(svc.closers, svc.store.Close)

	svc.storage, err = filesystem.NewBackupStorage(st.backup.StorageDir, log)
	if err != nil {
		return fail(fmt.Errorf("failed to create backup storage: %w", err))
	}

	files := filesystem.NewFileTree(st.backup.FilesRoot, log,
		svc.storage.Root(), st.storePath, st.storePath+"-wal", st.storePath+"-shm")

	svc.registry = prometheus.NewRegistry()
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.NewMetrics(svc.registry)
	if err != nil {
		return fail(fmt.Errorf("failed to register metrics: %w", err))
	}

	svc.backupSvc = backup.NewService(
		svc.store,
		svc.storage,
		sqldump.NewDumper(svc.liveDB, log),
		sqldump.NewRestorer(svc.liveDB, st.maxRestoreSize, log),
		files,
		st.backup,
		log,
		backup.WithMetrics(metrics),
	)
	svc.retention = backup.NewRetentionManager(svc.store, svc.storage, st.backup.Retention, log,
		backup.WithRetentionMetrics(metrics))
	svc.scheduler = cron.NewScheduler(svc.store, svc.backupSvc, log,
		cron.WithTickInterval(st.tickInterval),
		cron.WithLocation(st.backup.Location))
	svc.handler = backuphttp.NewHandler(svc.backupSvc, st.maxRestoreSize, log)

	return svc, nil
}

// Run loads configuration, starts the supervised services and blocks until
// ctx is cancelled.
func Run(ctx context.Context, configPath string) error {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}

	log, logCloser, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	svc, err := createServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close resources")
		}
	}()

	dataDir := expandHome(orDefault(cfg.Server.DataDir, DefaultDataDir()))
	if pidFile := createPidFile(dataDir, log); pidFile != "" {
		defer removePidFile(pidFile, log)
	}

	if n, err := svc.storage.CleanupTemp(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clean up temp files")
	} else if n > 0 {
		log.Info().Int("removed", n).Msg("removed leftover temp files")
	}

	e := backuphttp.NewServer(svc.handler, svc.registry, log)
	tree := supervisor.NewTree(log, supervisor.TreeConfig{ShutdownTimeout: svc.settings.shutdownTimeout})
	tree.AddWorker(svc.scheduler)
	tree.AddWorker(svc.retention)
	tree.AddAPIService(supervisor.NewHTTPService(newHTTPServer(svc.settings.addr, e), svc.settings.shutdownTimeout))

	log.Info().
		Str("addr", svc.settings.addr).
		Str("database", svc.settings.livePath).
		Str("backups", svc.storage.Root()).
		Str("timezone", svc.settings.backup.Location.String()).
		Msg("snapkeep started")

	err = tree.Serve(ctx)

	// Late cleanups from timed-out jobs must finish before the store closes.
	svc.scheduler.Wait()
	svc.backupSvc.Wait()

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn().Int("count", len(report)).Msg("services did not stop within the shutdown timeout")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	log.Info().Msg("snapkeep stopped")
	return nil
}

func newHTTPServer(addr string, e *echo.Echo) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// createPidFile writes {data_dir}/snapkeep.pid. An empty return means no
// file was written.
func createPidFile(dataDir string, log zerolog.Logger) string {
	pid := os.Getpid()
	location := PidFilePath(dataDir)
	if err := os.MkdirAll(filepath.Dir(location), 0o700); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("failed to create PID file directory")
		return ""
	}
	if err := os.WriteFile(location, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("failed to create PID file")
		return ""
	}
	log.Debug().Str("pid_file", location).Int("pid", pid).Msg("created PID file")
	return location
}

// removePidFile removes the PID file.
func removePidFile(pidFile string, log zerolog.Logger) {
	if err := os.Remove(pidFile); err != nil {
		log.Warn().Err(err).Str("pid_file", pidFile).Msg("failed to remove PID file")
	} else {
		log.Debug().Str("pid_file", pidFile).Msg("removed PID file")
	}
}

// PidFilePath returns where a running server records its PID.
func PidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "snapkeep.pid")
}

// ReadPid returns the PID recorded in dataDir, or an error when no server
// has written one.
func ReadPid(dataDir string) (int, error) {
	raw, err := os.ReadFile(PidFilePath(dataDir))
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID: %w", err)
	}
	return pid, nil
}

// RunningPid reports the PID of a live server using the data dir resolved
// from configPath.
func RunningPid(configPath string) (int, bool) {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return 0, false
	}
	pid, err := ReadPid(expandHome(orDefault(cfg.Server.DataDir, DefaultDataDir())))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

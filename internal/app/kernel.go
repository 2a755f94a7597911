package app

import (
	"context"
	"errors"
	"io"

	"github.com/bnema/snapkeep/internal/boundaries/in"
)

// Kernel provides in-process service access for local CLI execution.
//
// It does not start the scheduler, the retention loop or the HTTP server.
type Kernel struct {
	svc       *services
	logCloser io.Closer
}

// NewKernel initializes local services without starting any listener.
func NewKernel(configPath string) (*Kernel, error) {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, logCloser, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := createServices(context.Background(), cfg, log)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	return &Kernel{svc: svc, logCloser: logCloser}, nil
}

// Backup returns the backup service.
func (k *Kernel) Backup() in.BackupService {
	return k.svc.backupSvc
}

// Sweep runs one retention pass.
func (k *Kernel) Sweep(ctx context.Context) (int, error) {
	return k.svc.retention.Sweep(ctx)
}

// BackupDir returns the resolved backup storage directory.
func (k *Kernel) BackupDir() string {
	return k.svc.storage.Root()
}

// Close waits for in-flight cleanups and releases resources.
func (k *Kernel) Close() error {
	k.svc.backupSvc.Wait()
	return errors.Join(k.svc.Close(), k.logCloser.Close())
}

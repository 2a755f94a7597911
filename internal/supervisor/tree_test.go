package supervisor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	name   string
	starts atomic.Int32
	fail   atomic.Bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.fail.Load() {
		return errors.New("crashed")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTreeRunsServicesUntilCancelled(t *testing.T) {
	tree := NewTree(zerolog.Nop(), TreeConfig{})
	worker := &countingService{name: "scheduler"}
	api := &countingService{name: "api"}
	tree.AddWorker(worker)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return worker.starts.Load() == 1 && api.starts.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	report, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestTreeRestartsFailingWorkerAndLogs(t *testing.T) {
	var out syncBuffer
	log := zerolog.New(&out)
	tree := NewTree(log, TreeConfig{FailureBackoff: 10 * time.Millisecond, FailureThreshold: 100})

	flaky := &countingService{name: "retention"}
	flaky.fail.Store(true)
	tree.AddWorker(flaky)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return flaky.starts.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	flaky.fail.Store(false)

	cancel()
	<-done
	assert.Contains(t, out.String(), "retention")
	assert.Contains(t, out.String(), `"component":"supervisor"`)
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 30.0, cfg.FailureDecay)
	assert.Equal(t, 15*time.Second, cfg.FailureBackoff)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	tree := NewTree(zerolog.Nop(), TreeConfig{FailureBackoff: time.Second})
	assert.Equal(t, time.Second, tree.config.FailureBackoff)
	assert.Equal(t, 5.0, tree.config.FailureThreshold)
}

type fakeHTTPServer struct {
	listenErr error
	shutErr   error
	stop      chan struct{}
	shutdowns atomic.Int32
	once      sync.Once
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{stop: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.once.Do(func() { close(f.stop) })
	return f.shutErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPService(srv, 0)
	assert.Equal(t, "http-server", svc.String())
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdowns.Load())
}

func TestHTTPServiceListenFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listenErr = errors.New("address already in use")
	svc := NewHTTPService(srv, time.Second)

	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.Zero(t, srv.shutdowns.Load())
}

func TestHTTPServiceShutdownFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.shutErr = errors.New("connections still open")
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Serve(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown failed")
}

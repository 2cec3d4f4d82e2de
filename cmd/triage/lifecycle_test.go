package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// logCapture collects JSON slog records.
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *logCapture) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err == nil {
		c.entries = append(c.entries, entry)
	}
	return len(p), nil
}

// find returns the first record with msg whose attrs contain all of want.
func (c *logCapture) find(msg string, want map[string]string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e["msg"] != msg {
			continue
		}
		ok := true
		for k, v := range want {
			if e[k] != v {
				ok = false
				break
			}
		}
		if ok {
			return e
		}
	}
	return nil
}

func captureDefaultLogger(t *testing.T) *logCapture {
	t.Helper()
	capture := &logCapture{}
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(capture, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return capture
}

func TestStartWorker_TracksCompletion(t *testing.T) {
	capture := captureDefaultLogger(t)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	var cleanedUp atomic.Bool
	startWorker(ctx, &wg, "suggestion-expiry", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		cleanedUp.Store(true)
	})

	cancel()
	wg.Wait()

	if !cleanedUp.Load() {
		t.Error("wg.Wait() returned before the worker finished")
	}
	for _, msg := range []string{"worker started", "worker stopped"} {
		if capture.find(msg, map[string]string{"worker": "suggestion-expiry"}) == nil {
			t.Errorf("missing %q log with worker=suggestion-expiry", msg)
		}
	}
}

func TestNewApp_LogsClassifier(t *testing.T) {
	capture := captureDefaultLogger(t)
	newTestApp(t, nil)

	if capture.find("classifier initialized", map[string]string{"model": "rules-v1"}) == nil {
		t.Error("expected 'classifier initialized' with model=rules-v1")
	}
}

func TestAppWorkers_StopOnCancel(t *testing.T) {
	capture := captureDefaultLogger(t)
	a, _ := newTestApp(t, map[string]string{
		"TRIAGE_EXPIRY_INTERVAL":   "10ms",
		"TRIAGE_LEARNING_INTERVAL": "10ms",
	})

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	for name, fn := range a.workers {
		startWorker(ctx, &wg, name, fn)
	}

	// Let each worker tick at least once
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancellation")
	}

	for name := range a.workers {
		if capture.find("worker stopped", map[string]string{"worker": name}) == nil {
			t.Errorf("missing 'worker stopped' for %s", name)
		}
	}
}

// TestRun_ServerFailureShutsDown occupies the configured port so the server
// fails to listen; run must then walk the shutdown sequence and return.
func TestRun_ServerFailureShutsDown(t *testing.T) {
	dbPath := useTempDatabase(t)
	t.Setenv("TRIAGE_DEV_MODE", "true")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TRIAGE_NATS_URL", "")
	t.Setenv("TRIAGE_SHUTDOWN_TIMEOUT", "1s")

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	t.Setenv("TRIAGE_PORT", fmt.Sprintf("%d", l.Addr().(*net.TCPAddr).Port))

	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	errCh := make(chan error, 1)
	go func() { errCh <- run(serveCmd, nil) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v, want nil after graceful shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not shut down after the listener failed")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

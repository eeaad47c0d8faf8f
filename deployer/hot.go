package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/kernel"
)

// Static errors for hot deployment
var (
	ErrHotDeployerStarted = errors.New("hot deployer already started")
	ErrNoDirectory        = errors.New("hot deployer has no directory")
)

// DefaultSchedule is the rescan schedule used when none is set.
const DefaultSchedule = "@every 5s"

// HotDeployer keeps the files of one directory deployed through a
// MainDeployer. Each scan deploys new files, redeploys files whose
// modification time changed and undeploys files that disappeared. Scans run
// on a cron schedule and, when watching is enabled, on filesystem events.
type HotDeployer struct {
	main   *MainDeployer
	logger kernel.Logger

	directory string
	schedule  string
	watch     bool

	scanMu sync.Mutex
	known  map[string]time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHotDeployer creates a hot deployer feeding main.
func NewHotDeployer(main *MainDeployer) *HotDeployer {
	return &HotDeployer{
		main:     main,
		logger:   main.logger,
		schedule: DefaultSchedule,
		known:    make(map[string]time.Time),
	}
}

// SetDirectory sets the scanned directory.
func (h *HotDeployer) SetDirectory(dir string) {
	h.directory = dir
}

// SetSchedule sets the cron schedule of rescans.
func (h *HotDeployer) SetSchedule(schedule string) {
	h.schedule = schedule
}

// SetWatch enables rescans on filesystem notifications.
func (h *HotDeployer) SetWatch(watch bool) {
	h.watch = watch
}

// Directory returns the scanned directory.
func (h *HotDeployer) Directory() string {
	return h.directory
}

// Start begins an initial scan and schedules the following ones. Failures of
// individual files are logged; a failed file is retried once it changes.
func (h *HotDeployer) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cron != nil {
		return ErrHotDeployerStarted
	}
	if h.directory == "" {
		return ErrNoDirectory
	}
	if err := os.MkdirAll(h.directory, 0o755); err != nil {
		return fmt.Errorf("failed to create deploy directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New()
	if _, err := c.AddFunc(h.schedule, func() { h.scanAndLog(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid scan schedule %q: %w", h.schedule, err)
	}

	if h.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := w.Add(h.directory); err != nil {
			cancel()
			_ = w.Close()
			return fmt.Errorf("failed to watch %s: %w", h.directory, err)
		}
		h.watcher = w
		h.wg.Add(1)
		go h.watchLoop(runCtx, w)
	}

	// Start may run inside a bean activation holding a construction slot,
	// so the first scan must not block it.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.scanAndLog(runCtx)
	}()
	c.Start()
	h.cron = c
	h.cancel = cancel
	h.logger.Info("Hot deployer started", "directory", h.directory, "schedule", h.schedule, "watch", h.watch)
	return nil
}

// Stop ends scanning. Deployed files stay deployed.
func (h *HotDeployer) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cron == nil {
		return nil
	}

	h.cancel()
	cronCtx := h.cron.Stop()
	if h.watcher != nil {
		_ = h.watcher.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("Hot deployer shutdown timed out")
		return fmt.Errorf("hot deployer stop: %w", ctx.Err())
	}

	h.cron = nil
	h.watcher = nil
	h.logger.Info("Hot deployer stopped", "directory", h.directory)
	return nil
}

func (h *HotDeployer) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				h.scanAndLog(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Warn("Watcher error", "directory", h.directory, "error", err)
		}
	}
}

func (h *HotDeployer) scanAndLog(ctx context.Context) {
	if err := h.Scan(ctx); err != nil {
		h.logger.Error("Hot deployment scan failed", "directory", h.directory, "error", err)
	}
}

// Scan synchronises the directory once. Errors of all files are joined.
func (h *HotDeployer) Scan(ctx context.Context) error {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	current, err := h.list()
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range sortedKeys(h.known) {
		if _, ok := current[path]; ok {
			continue
		}
		delete(h.known, path)
		if err := h.main.Undeploy(ctx, path); err != nil && !errors.Is(err, ErrNotDeployed) {
			errs = append(errs, err)
		}
	}

	for _, path := range sortedKeys(current) {
		mod := current[path]
		prev, seen := h.known[path]
		switch {
		case !seen:
			h.known[path] = mod
			if err := h.main.Deploy(ctx, path); err != nil {
				errs = append(errs, err)
			}
		case !mod.Equal(prev):
			h.known[path] = mod
			if err := h.main.Redeploy(ctx, path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// list returns the deployable files of the directory with their
// modification times.
func (h *HotDeployer) list() (map[string]time.Time, error) {
	entries, err := os.ReadDir(h.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read deploy directory: %w", err)
	}
	out := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(h.directory, e.Name())
		if !h.main.accepts(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[path] = info.ModTime()
	}
	return out, nil
}

func sortedKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Package capture spawns and supervises the external capture subprocess.
//
// The capture tool contract: it receives the channel login, quality ladder,
// codec list, optional proxy and authorization header, and writes MPEG-TS to
// stdout, which the runner redirects into the output path. Exit code 0 means
// clean termination.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/observability"
)

// ErrSlotOccupied is returned when a recording already has a live subprocess.
var ErrSlotOccupied = errors.New("capture: recording already has a subprocess")

// StartSpec describes one capture subprocess invocation.
type StartSpec struct {
	RecordingID models.ULID
	Login       string
	OutputPath  string
	Quality     string
	Codecs      string
	ProxyURL    string
	AuthHeader  string
	// LogPath receives the tool's stderr. Empty disables the log file.
	LogPath string
}

// Stats is a point-in-time resource sample of a capture subprocess.
type Stats struct {
	PID            int32   `json:"pid"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
}

// Handle tracks one live capture subprocess.
type Handle struct {
	RecordingID models.ULID
	PID         int
	StartedAt   time.Time

	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

// Done returns a channel closed when the subprocess exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the subprocess is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the subprocess exit error, nil for a clean exit.
// Only meaningful after Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stats samples the subprocess's resource usage. Returns an error once the
// process has exited.
func (h *Handle) Stats() (*Stats, error) {
	proc, err := process.NewProcess(int32(h.PID))
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", h.PID, err)
	}

	s := &Stats{PID: int32(h.PID)}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		s.MemoryRSSBytes = mem.RSS
	}
	return s, nil
}

// Runner spawns capture subprocesses and tracks one live handle per
// recording. The handle map slot is always vacated on terminate, even when
// cleanup fails, so a new subprocess can always be registered.
type Runner struct {
	cfg    config.CaptureConfig
	logger *slog.Logger

	mu      sync.Mutex
	handles map[models.ULID]*Handle
}

// NewRunner creates a capture Runner.
func NewRunner(cfg config.CaptureConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "capture"),
		handles: make(map[models.ULID]*Handle),
	}
}

// buildArgs assembles the capture tool argv for a spec.
func (r *Runner) buildArgs(spec StartSpec) []string {
	args := []string{
		"--login", spec.Login,
		"--quality", spec.Quality,
	}
	if spec.Codecs != "" {
		args = append(args, "--codecs", spec.Codecs)
	}
	if spec.ProxyURL != "" {
		args = append(args, "--proxy", spec.ProxyURL)
	}
	if spec.AuthHeader != "" {
		args = append(args, "--http-header", spec.AuthHeader)
	}
	args = append(args, r.cfg.ExtraArgs...)
	return args
}

// Start spawns a capture subprocess writing to spec.OutputPath and registers
// its handle. Fails if the recording already has a live subprocess.
func (r *Runner) Start(ctx context.Context, spec StartSpec) (*Handle, error) {
	r.mu.Lock()
	if existing, ok := r.handles[spec.RecordingID]; ok && (existing == nil || existing.Alive()) {
		r.mu.Unlock()
		return nil, ErrSlotOccupied
	}
	// Reserve the slot before the (slow) spawn.
	r.handles[spec.RecordingID] = nil
	r.mu.Unlock()

	handle, err := r.spawn(ctx, spec)
	r.mu.Lock()
	if err != nil {
		delete(r.handles, spec.RecordingID)
		r.mu.Unlock()
		return nil, err
	}
	r.handles[spec.RecordingID] = handle
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "capture started",
		slog.String("recording_id", spec.RecordingID.String()),
		slog.String("login", spec.Login),
		slog.Int("pid", handle.PID),
		slog.String("output", spec.OutputPath),
	)
	return handle, nil
}

func (r *Runner) spawn(ctx context.Context, spec StartSpec) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	outFile, err := os.OpenFile(spec.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}

	var logFile *os.File
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err == nil {
			logFile, _ = os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		}
	}

	cmd := exec.Command(r.cfg.BinaryPath, r.buildArgs(spec)...)
	cmd.Stdout = outFile
	if logFile != nil {
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		outFile.Close()
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("starting capture tool: %w", err)
	}

	handle := &Handle{
		RecordingID: spec.RecordingID,
		PID:         cmd.Process.Pid,
		StartedAt:   time.Now(),
		cmd:         cmd,
		done:        make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		outFile.Close()
		if logFile != nil {
			logFile.Close()
		}
		handle.mu.Lock()
		handle.exitErr = err
		handle.mu.Unlock()
		close(handle.done)
	}()

	return handle, nil
}

// Get returns the live handle for a recording, or nil.
func (r *Runner) Get(recordingID models.ULID) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[recordingID]
}

// Handles returns a snapshot of all registered handles.
func (r *Runner) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// release vacates the handle map slot for a recording.
func (r *Runner) release(recordingID models.ULID) {
	r.mu.Lock()
	delete(r.handles, recordingID)
	r.mu.Unlock()
}

// Terminate asks the subprocess to shut down gracefully and waits up to
// grace before force-killing it. A subprocess that already exited is a
// no-op success. The handle slot is always released.
func (r *Runner) Terminate(ctx context.Context, h *Handle, grace time.Duration) error {
	if h == nil {
		return nil
	}
	defer r.release(h.RecordingID)

	if !h.Alive() {
		r.logger.DebugContext(ctx, "process already terminated",
			slog.String("recording_id", h.RecordingID.String()),
			slog.Int("pid", h.PID),
		)
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Exited between the liveness check and the signal.
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signaling capture process: %w", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	r.logger.WarnContext(ctx, "capture process did not exit within grace, killing",
		slog.String("recording_id", h.RecordingID.String()),
		slog.Int("pid", h.PID),
		slog.Duration("grace", grace),
	)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing capture process: %w", err)
	}

	<-h.done
	return nil
}

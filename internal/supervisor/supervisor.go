// Package supervisor owns the lifecycle state machine of each instance's
// server process: provisioning, starting, readiness detection, stopping,
// crash detection, and deletion. It is the only writer of instance status.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	osexec "os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quatrix/fleet/internal/logging"
	"github.com/quatrix/fleet/internal/provision"
	"github.com/quatrix/fleet/internal/rcon"
	"github.com/quatrix/fleet/internal/slogger"
	"github.com/quatrix/fleet/internal/store"
)

// Defaults for the lifecycle timings and launch configuration.
const (
	DefaultGameBinary     = "game/bin/linuxsteamrt64/cs2"
	DefaultRconHost       = "127.0.0.1"
	DefaultMap            = "de_dust2"
	DefaultStartupTimeout = 90 * time.Second
	DefaultStopGrace      = 10 * time.Second

	readinessInterval = 2 * time.Second
	statusWriteBudget = 5 * time.Second
)

// ErrAlreadyInProgress indicates a concurrent lifecycle operation is already
// running for the instance. The caller may retry later.
var ErrAlreadyInProgress = errors.New("operation already in progress")

// ErrInvalidState indicates a lifecycle operation attempted from a
// disallowed state.
var ErrInvalidState = errors.New("invalid instance state")

// InvalidStateError reports which operation was refused and the state the
// instance was in.
type InvalidStateError struct {
	Op     string
	Status store.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s instance in state %s", e.Op, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// RecordStore is the slice of the record store the supervisor needs.
type RecordStore interface {
	GetInstance(ctx context.Context, id string) (*store.Instance, error)
	SetInstanceStatus(ctx context.Context, id string, status store.Status) error
	SetInstanceMap(ctx context.Context, id, mapName string) error
	RemoveInstance(ctx context.Context, id string) error
	AddBan(ctx context.Context, ban *store.BanRecord) error
}

// Commander issues RCON commands to a running instance.
type Commander interface {
	Exec(ctx context.Context, instanceID, addr, command string) (string, error)
	Players(ctx context.Context, instanceID, addr string) ([]rcon.Player, error)
	Invalidate(instanceID string)
}

// Provisioner installs or validates server files.
type Provisioner interface {
	EnsureInstalled(ctx context.Context, dir string, progress provision.ProgressFunc) error
}

// WorkshopRegistrar records workshop maps as they are used.
type WorkshopRegistrar interface {
	Resolve(ctx context.Context, workshopID string) (*store.WorkshopMap, error)
}

// InstancePaths provides the on-disk locations owned by an instance.
type InstancePaths interface {
	InstanceRoot(instanceID string) string
	RemoveInstance(instanceID string) error
}

// Config tunes how the supervisor launches and terminates processes.
type Config struct {
	GameBinary     string        // Server executable, relative to the instance root unless absolute
	RconHost       string        // Host the RCON client dials (the game port is per instance)
	RconPassword   string        // Passed to the server on launch
	DefaultMap     string        // Map used when the instance record has none
	StartupTimeout time.Duration // Bound on STARTING before the process is given up on
	StopGrace      time.Duration // Grace period between quit and SIGKILL
	ReadyInterval  time.Duration // Spacing of readiness probes while STARTING
	ExtraArgs      []string      // Appended to the launch command line
}

func (c Config) withDefaults() Config {
	if c.GameBinary == "" {
		c.GameBinary = DefaultGameBinary
	}
	if c.RconHost == "" {
		c.RconHost = DefaultRconHost
	}
	if c.DefaultMap == "" {
		c.DefaultMap = DefaultMap
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = readinessInterval
	}
	return c
}

// proc is a live process handle. Owned exclusively by the Manager; destroyed
// when the process exits.
type proc struct {
	cmd           *osexec.Cmd
	console       *logging.TeeWriter
	done          chan struct{}
	stopRequested atomic.Bool
}

// Manager supervises the pool of instances. Operations on different
// instances run fully in parallel; install/start/stop/delete on the same
// instance are mutually exclusive.
type Manager struct {
	cfg      Config
	store    RecordStore
	paths    InstancePaths
	rcon     Commander
	prov     Provisioner
	workshop WorkshopRegistrar
	logs     *logging.PathManager

	mu    sync.Mutex
	busy  map[string]bool
	procs map[string]*proc

	// launch builds the command for a start. Swapped in tests.
	launch func(bin string, args []string, dir string) *osexec.Cmd
}

// New creates a Manager.
func New(cfg Config, st RecordStore, paths InstancePaths, commander Commander, prov Provisioner, workshop WorkshopRegistrar, logs *logging.PathManager) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		store:    st,
		paths:    paths,
		rcon:     commander,
		prov:     prov,
		workshop: workshop,
		logs:     logs,
		busy:     make(map[string]bool),
		procs:    make(map[string]*proc),
		launch: func(bin string, args []string, dir string) *osexec.Cmd {
			cmd := osexec.Command(bin, args...) //nolint:gosec // Launching the configured server binary is the point
			cmd.Dir = dir
			return cmd
		},
	}
}

// Install provisions or validates the instance's server files. Only one
// install may run per instance at a time; the instance always returns to
// OFFLINE afterward regardless of outcome.
func (m *Manager) Install(ctx context.Context, id string, progress provision.ProgressFunc) error {
	if err := m.tryAcquire(id); err != nil {
		return err
	}
	defer m.release(id)

	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != store.StatusOffline {
		return &InvalidStateError{Op: "install", Status: inst.Status}
	}

	if err := m.store.SetInstanceStatus(ctx, id, store.StatusInstalling); err != nil {
		return err
	}
	defer m.settleOffline(slogger.L(ctx), id)

	if err := m.prov.EnsureInstalled(ctx, m.paths.InstanceRoot(id), progress); err != nil {
		return fmt.Errorf("provision instance %s: %w", id, err)
	}
	return nil
}

// Start spawns the instance process. It returns once the process is running
// and STARTING is recorded; a background watcher promotes the instance to
// ONLINE on the first successful RCON round trip, or settles it OFFLINE if
// the process exits or never becomes ready.
func (m *Manager) Start(ctx context.Context, id string) error {
	if err := m.tryAcquire(id); err != nil {
		return err
	}
	defer m.release(id)

	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != store.StatusOffline {
		return &InvalidStateError{Op: "start", Status: inst.Status}
	}

	logPath, err := m.logs.EnsureConsoleLog(id)
	if err != nil {
		return err
	}
	console, err := logging.NewTeeWriterAppend(nil, logPath)
	if err != nil {
		return err
	}

	root := m.paths.InstanceRoot(id)
	bin := m.cfg.GameBinary
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(root, bin)
	}

	cmd := m.launch(bin, m.startArgs(inst), root)
	cmd.Stdout = console
	cmd.Stderr = console

	if err := cmd.Start(); err != nil {
		_ = console.Close() //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("start instance %s: %w", id, err)
	}

	if err := m.store.SetInstanceStatus(ctx, id, store.StatusStarting); err != nil {
		_ = cmd.Process.Kill() //nolint:errcheck // Best effort cleanup
		_ = console.Close()    //nolint:errcheck // Best effort cleanup
		return err
	}

	p := &proc{cmd: cmd, console: console, done: make(chan struct{})}
	m.mu.Lock()
	m.procs[id] = p
	m.mu.Unlock()

	logger := slogger.L(ctx)
	go m.watch(logger, id, p)
	go m.awaitReady(logger, id, m.addr(inst), p)

	return nil
}

// Stop terminates the instance process: a graceful RCON quit, a bounded
// grace period, then a kill. Always settles in OFFLINE.
func (m *Manager) Stop(ctx context.Context, id string) error {
	if err := m.tryAcquire(id); err != nil {
		return err
	}
	defer m.release(id)

	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != store.StatusOnline && inst.Status != store.StatusStarting {
		return &InvalidStateError{Op: "stop", Status: inst.Status}
	}

	m.mu.Lock()
	p := m.procs[id]
	m.mu.Unlock()

	if p == nil {
		// Stale record, e.g. the supervisor restarted while the instance
		// record still said ONLINE.
		m.rcon.Invalidate(id)
		return m.store.SetInstanceStatus(ctx, id, store.StatusOffline)
	}

	p.stopRequested.Store(true)

	quitCtx, cancel := context.WithTimeout(ctx, statusWriteBudget)
	if _, err := m.rcon.Exec(quitCtx, id, m.addr(inst), "quit"); err != nil {
		slogger.L(ctx).Debug("graceful quit failed, falling back to signal", "instance", id, "error", err)
	}
	cancel()

	select {
	case <-p.done:
	case <-time.After(m.cfg.StopGrace):
		_ = p.cmd.Process.Kill() //nolint:errcheck // Process may already be gone
		<-p.done
	}

	m.rcon.Invalidate(id)
	return m.store.SetInstanceStatus(ctx, id, store.StatusOffline)
}

// Delete removes the instance's file tree, logs, and record. Refused unless
// the instance is OFFLINE with no live process handle.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.tryAcquire(id); err != nil {
		return err
	}
	defer m.release(id)

	inst, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	live := m.procs[id] != nil
	m.mu.Unlock()

	if inst.Status != store.StatusOffline || live {
		return &InvalidStateError{Op: "delete", Status: inst.Status}
	}

	if err := m.paths.RemoveInstance(id); err != nil {
		return err
	}
	if err := m.logs.RemoveInstanceLogs(id); err != nil {
		return err
	}
	return m.store.RemoveInstance(ctx, id)
}

func (m *Manager) startArgs(inst *store.Instance) []string {
	mapName := inst.Map
	if mapName == "" {
		mapName = m.cfg.DefaultMap
	}

	args := []string{
		"-dedicated",
		"-console",
		"-usercon",
		"-port", strconv.Itoa(inst.Port),
		"+map", mapName,
	}
	if m.cfg.RconPassword != "" {
		args = append(args, "+rcon_password", m.cfg.RconPassword)
	}
	return append(args, m.cfg.ExtraArgs...)
}

func (m *Manager) addr(inst *store.Instance) string {
	return net.JoinHostPort(m.cfg.RconHost, strconv.Itoa(inst.Port))
}

// watch waits for process exit and settles the instance OFFLINE. Crash
// detection is this exit notification, not polling.
func (m *Manager) watch(logger *slog.Logger, id string, p *proc) {
	err := p.cmd.Wait()
	close(p.done)
	_ = p.console.Close() //nolint:errcheck // Best effort cleanup

	m.mu.Lock()
	if m.procs[id] == p {
		delete(m.procs, id)
	}
	m.mu.Unlock()

	if !p.stopRequested.Load() {
		logger.Warn("instance process exited unexpectedly", "instance", id, "error", err)
	}

	m.rcon.Invalidate(id)
	m.settleOffline(logger, id)
}

// awaitReady polls the RCON endpoint until the engine answers, then promotes
// the instance to ONLINE. A process that exists but never answers is not
// ready; the engine has its own startup latency.
func (m *Manager) awaitReady(logger *slog.Logger, id, addr string, p *proc) {
	deadline := time.After(m.cfg.StartupTimeout)
	ticker := time.NewTicker(m.cfg.ReadyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-deadline:
			logger.Warn("instance never became ready, killing it", "instance", id, "timeout", m.cfg.StartupTimeout)
			p.stopRequested.Store(true)
			_ = p.cmd.Process.Kill() //nolint:errcheck // Process may already be gone
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReadyInterval)
		_, err := m.rcon.Exec(ctx, id, addr, "status")
		cancel()
		if err != nil {
			continue
		}

		select {
		case <-p.done:
			// Exited between the handshake and now; watch owns the status.
			return
		default:
		}

		if err := m.setStatus(id, store.StatusOnline); err != nil {
			logger.Error("failed to record instance as online", "instance", id, "error", err)
		}
		logger.Info("instance is online", "instance", id)
		return
	}
}

func (m *Manager) settleOffline(logger *slog.Logger, id string) {
	if err := m.setStatus(id, store.StatusOffline); err != nil {
		logger.Error("failed to settle instance offline", "instance", id, "error", err)
	}
}

func (m *Manager) setStatus(id string, status store.Status) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteBudget)
	defer cancel()
	return m.store.SetInstanceStatus(ctx, id, status)
}

func (m *Manager) tryAcquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy[id] {
		return fmt.Errorf("%w: instance %s", ErrAlreadyInProgress, id)
	}
	m.busy[id] = true
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}

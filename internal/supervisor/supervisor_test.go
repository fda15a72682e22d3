package supervisor

import (
	"context"
	"errors"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quatrix/fleet/internal/logging"
	"github.com/quatrix/fleet/internal/provision"
	"github.com/quatrix/fleet/internal/rcon"
	"github.com/quatrix/fleet/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	instances map[string]store.Instance
	bans      []store.BanRecord
}

func newFakeStore(instances ...store.Instance) *fakeStore {
	fs := &fakeStore{instances: make(map[string]store.Instance)}
	for _, inst := range instances {
		fs.instances[inst.ID] = inst
	}
	return fs
}

func (f *fakeStore) GetInstance(_ context.Context, id string) (*store.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inst, nil
}

func (f *fakeStore) SetInstanceStatus(_ context.Context, id string, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instances[id]
	inst.Status = status
	f.instances[id] = inst
	return nil
}

func (f *fakeStore) SetInstanceMap(_ context.Context, id, mapName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instances[id]
	inst.Map = mapName
	f.instances[id] = inst
	return nil
}

func (f *fakeStore) RemoveInstance(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
	return nil
}

func (f *fakeStore) AddBan(_ context.Context, ban *store.BanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans = append(f.bans, *ban)
	return nil
}

func (f *fakeStore) status(id string) store.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id].Status
}

func (f *fakeStore) mapName(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id].Map
}

type fakeCommander struct {
	mu          sync.Mutex
	commands    []string
	invalidated int
	execFn      func(command string) (string, error)
	players     []rcon.Player
}

func (f *fakeCommander) Exec(_ context.Context, _ string, _ string, command string) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	fn := f.execFn
	f.mu.Unlock()
	if fn != nil {
		return fn(command)
	}
	return "", nil
}

func (f *fakeCommander) Players(context.Context, string, string) ([]rcon.Player, error) {
	return f.players, nil
}

func (f *fakeCommander) Invalidate(string) {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

func (f *fakeCommander) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type fakeProvisioner struct {
	mu      sync.Mutex
	dirs    []string
	err     error
	block   chan struct{}
	observe func()
}

func (f *fakeProvisioner) EnsureInstalled(_ context.Context, dir string, progress provision.ProgressFunc) error {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	if f.observe != nil {
		f.observe()
	}
	if progress != nil {
		progress(provision.Progress{Line: "validating", Percent: 50})
	}
	if f.block != nil {
		<-f.block
	}
	return f.err
}

type fakeWorkshop struct {
	resolved []string
	mapFile  string
	err      error
}

func (f *fakeWorkshop) Resolve(_ context.Context, workshopID string) (*store.WorkshopMap, error) {
	f.resolved = append(f.resolved, workshopID)
	if f.err != nil {
		return nil, f.err
	}
	return &store.WorkshopMap{WorkshopID: workshopID, MapFile: f.mapFile}, nil
}

type fakePaths struct {
	root string
}

func (f *fakePaths) InstanceRoot(instanceID string) string {
	return filepath.Join(f.root, instanceID)
}

func (f *fakePaths) RemoveInstance(instanceID string) error {
	return os.RemoveAll(f.InstanceRoot(instanceID))
}

type fixture struct {
	manager  *Manager
	store    *fakeStore
	rcon     *fakeCommander
	prov     *fakeProvisioner
	workshop *fakeWorkshop
	paths    *fakePaths
	logs     *logging.PathManager
}

func newFixture(t *testing.T, instances ...store.Instance) *fixture {
	t.Helper()

	f := &fixture{
		store:    newFakeStore(instances...),
		rcon:     &fakeCommander{},
		prov:     &fakeProvisioner{},
		workshop: &fakeWorkshop{},
		paths:    &fakePaths{root: t.TempDir()},
		logs:     logging.NewPathManager(t.TempDir()),
	}

	cfg := Config{
		StartupTimeout: 2 * time.Second,
		StopGrace:      200 * time.Millisecond,
		ReadyInterval:  20 * time.Millisecond,
	}
	f.manager = New(cfg, f.store, f.paths, f.rcon, f.prov, f.workshop, f.logs)

	// Lifecycle tests drive a stub process instead of a game server.
	f.manager.launch = func(_ string, _ []string, _ string) *osexec.Cmd {
		return osexec.Command("sleep", "60")
	}

	return f
}

func offlineInstance(id string, port int) store.Instance {
	return store.Instance{ID: id, Name: id, Port: port, Status: store.StatusOffline}
}

func TestManager_Install(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions the instance root and settles offline", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))

		var during store.Status
		f.prov.observe = func() { during = f.store.status("srv-1") }

		var lines []string
		err := f.manager.Install(ctx, "srv-1", func(p provision.Progress) {
			lines = append(lines, p.Line)
		})
		require.NoError(t, err)

		assert.Equal(t, store.StatusInstalling, during)
		assert.Equal(t, store.StatusOffline, f.store.status("srv-1"))
		assert.Equal(t, []string{f.paths.InstanceRoot("srv-1")}, f.prov.dirs)
		assert.Equal(t, []string{"validating"}, lines)
	})

	t.Run("settles offline even when provisioning fails", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))
		f.prov.err = errors.New("disk full")

		err := f.manager.Install(ctx, "srv-1", nil)
		require.Error(t, err)
		assert.Equal(t, store.StatusOffline, f.store.status("srv-1"))
	})

	t.Run("second concurrent install is refused", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))
		f.prov.block = make(chan struct{})

		started := make(chan struct{})
		f.prov.observe = func() { close(started) }

		done := make(chan error, 1)
		go func() { done <- f.manager.Install(ctx, "srv-1", nil) }()
		<-started

		err := f.manager.Install(ctx, "srv-1", nil)
		assert.ErrorIs(t, err, ErrAlreadyInProgress)

		close(f.prov.block)
		require.NoError(t, <-done)
	})

	t.Run("rejected unless offline", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

		err := f.manager.Install(ctx, "srv-1", nil)

		var stateErr *InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, store.StatusOnline, stateErr.Status)
	})
}

func TestManager_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes to online once rcon answers", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))

		require.NoError(t, f.manager.Start(ctx, "srv-1"))
		assert.Equal(t, store.StatusStarting, f.store.status("srv-1"))

		require.Eventually(t, func() bool {
			return f.store.status("srv-1") == store.StatusOnline
		}, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, f.manager.Stop(ctx, "srv-1"))
	})

	t.Run("rejected unless offline", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusStarting})

		err := f.manager.Start(ctx, "srv-1")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("a crashed process settles offline", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))
		f.rcon.execFn = func(string) (string, error) { return "", rcon.ErrUnreachable }
		f.manager.launch = func(_ string, _ []string, _ string) *osexec.Cmd {
			return osexec.Command("true")
		}

		require.NoError(t, f.manager.Start(ctx, "srv-1"))

		require.Eventually(t, func() bool {
			return f.store.status("srv-1") == store.StatusOffline
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("a process that never becomes ready is killed", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))
		f.rcon.execFn = func(string) (string, error) { return "", rcon.ErrUnreachable }
		f.manager.cfg.StartupTimeout = 150 * time.Millisecond

		require.NoError(t, f.manager.Start(ctx, "srv-1"))

		require.Eventually(t, func() bool {
			return f.store.status("srv-1") == store.StatusOffline
		}, 3*time.Second, 10*time.Millisecond)
	})

	t.Run("captures process output in the console log", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))
		f.rcon.execFn = func(string) (string, error) { return "", rcon.ErrUnreachable }
		f.manager.launch = func(_ string, _ []string, _ string) *osexec.Cmd {
			return osexec.Command("echo", "engine booted")
		}

		require.NoError(t, f.manager.Start(ctx, "srv-1"))

		require.Eventually(t, func() bool {
			lines, err := f.logs.ReadLastN("srv-1", 10)
			return err == nil && len(lines) == 1 && lines[0] == "engine booted"
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestManager_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("kills after the grace period when quit is unreachable", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))
		f.rcon.execFn = func(string) (string, error) { return "", rcon.ErrUnreachable }

		require.NoError(t, f.manager.Start(ctx, "srv-1"))
		require.NoError(t, f.manager.Stop(ctx, "srv-1"))

		assert.Equal(t, store.StatusOffline, f.store.status("srv-1"))
		assert.Contains(t, f.rcon.sent(), "quit")
	})

	t.Run("rejected unless online or starting", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))

		err := f.manager.Stop(ctx, "srv-1")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("settles a stale online record with no live process", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

		require.NoError(t, f.manager.Stop(ctx, "srv-1"))
		assert.Equal(t, store.StatusOffline, f.store.status("srv-1"))
	})
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes tree, logs, and record", func(t *testing.T) {
		f := newFixture(t, offlineInstance("srv-1", 27015))

		root := f.paths.InstanceRoot("srv-1")
		require.NoError(t, os.MkdirAll(filepath.Join(root, "game", "csgo"), 0o750))
		logPath, err := f.logs.EnsureConsoleLog("srv-1")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(logPath, []byte("old\n"), 0o644))

		require.NoError(t, f.manager.Delete(ctx, "srv-1"))

		assert.NoDirExists(t, root)
		assert.False(t, f.logs.LogExists("srv-1"))
		_, err = f.store.GetInstance(ctx, "srv-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("rejected unless offline", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

		err := f.manager.Delete(ctx, "srv-1")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestManager_Ban(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every enforcement layer in order", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

		ban, err := f.manager.Ban(ctx, "srv-1", BanRequest{
			UserID:          3,
			PlayerName:      "griefer",
			SteamID:         "76561198000000001",
			Reason:          "cheating",
			DurationMinutes: 60,
			BannedBy:        "admin",
		})
		require.NoError(t, err)

		assert.Equal(t, []string{
			`css_ban #3 60 "cheating"`,
			`css_addban 76561198000000001 60 "cheating"`,
			"kickid 3",
			"css_reload_admins",
		}, f.rcon.sent())

		require.NotNil(t, ban.ExpiresAt)
		assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *ban.ExpiresAt, 5*time.Second)
		require.Len(t, f.store.bans, 1)
		assert.Equal(t, "griefer", f.store.bans[0].PlayerName)
	})

	t.Run("a failed layer does not stop the rest", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})
		f.rcon.execFn = func(command string) (string, error) {
			if command == "kickid 7" {
				return "", rcon.ErrTimeout
			}
			return "", nil
		}

		_, err := f.manager.Ban(ctx, "srv-1", BanRequest{UserID: 7, SteamID: "765", Reason: "afk"})
		require.NoError(t, err)

		assert.Len(t, f.rcon.sent(), 4)
		assert.Len(t, f.store.bans, 1)
	})

	t.Run("permanent ban has no expiry", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

		ban, err := f.manager.Ban(ctx, "srv-1", BanRequest{SteamID: "765", Reason: "perm"})
		require.NoError(t, err)
		assert.Nil(t, ban.ExpiresAt)

		// No session id, so no session-scoped layers.
		assert.Equal(t, []string{`css_addban 765 0 "perm"`, "css_reload_admins"}, f.rcon.sent())
	})
}

func TestManager_Kick(t *testing.T) {
	f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

	require.NoError(t, f.manager.Kick(context.Background(), "srv-1", 5, "be nice"))
	assert.Equal(t, []string{`kickid 5 "be nice"`}, f.rcon.sent())
}

func TestManager_ChangeMap(t *testing.T) {
	ctx := context.Background()

	t.Run("stock map uses changelevel and records the map", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})

		require.NoError(t, f.manager.ChangeMap(ctx, "srv-1", "de_inferno"))
		assert.Equal(t, []string{"changelevel de_inferno"}, f.rcon.sent())
		assert.Equal(t, "de_inferno", f.store.mapName("srv-1"))
	})

	t.Run("workshop id uses host_workshop_map and registers the item", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})
		f.workshop.mapFile = "de_grail"

		require.NoError(t, f.manager.ChangeMap(ctx, "srv-1", "3070923343"))
		assert.Equal(t, []string{"host_workshop_map 3070923343"}, f.rcon.sent())
		assert.Equal(t, []string{"3070923343"}, f.workshop.resolved)
		assert.Equal(t, "de_grail", f.store.mapName("srv-1"))
	})

	t.Run("workshop registration failure is not fatal", func(t *testing.T) {
		f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})
		f.workshop.err = errors.New("steam down")

		require.NoError(t, f.manager.ChangeMap(ctx, "srv-1", "3070923343"))
		assert.Empty(t, f.store.mapName("srv-1"))
	})
}

func TestManager_Players(t *testing.T) {
	f := newFixture(t, store.Instance{ID: "srv-1", Port: 27015, Status: store.StatusOnline})
	f.rcon.players = []rcon.Player{{UserID: 2, Name: "alice"}}

	players, err := f.manager.Players(context.Background(), "srv-1")
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "alice", players[0].Name)
}

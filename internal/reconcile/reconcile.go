// Package reconcile runs the background loop that compares each running
// instance's recorded state against the live process over RCON and
// republishes drift to subscribers.
package reconcile

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quatrix/fleet/internal/rcon"
	"github.com/quatrix/fleet/internal/slogger"
	"github.com/quatrix/fleet/internal/store"
)

// Defaults for the poll loop.
const (
	DefaultInterval     = 30 * time.Second
	DefaultQueryTimeout = 5 * time.Second

	updateBuffer = 16
)

// Update is one observed-state change for an instance.
type Update struct {
	InstanceID  string
	Map         string
	PlayerCount int
}

// instanceLister is the slice of the record store the poller reads and
// writes.
type instanceLister interface {
	ListInstances(ctx context.Context, status store.Status) ([]store.Instance, error)
	SetInstanceMap(ctx context.Context, id, mapName string) error
	SetInstancePlayerCount(ctx context.Context, id string, count int) error
}

// statusQuerier asks a live instance for ground truth.
type statusQuerier interface {
	CurrentMap(ctx context.Context, instanceID, addr string) (string, error)
	Players(ctx context.Context, instanceID, addr string) ([]rcon.Player, error)
}

// Config tunes the poller.
type Config struct {
	Interval     time.Duration // Spacing between sweeps
	QueryTimeout time.Duration // Bound on one instance's query
	RconHost     string        // Host the RCON client dials
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.RconHost == "" {
		c.RconHost = "127.0.0.1"
	}
	return c
}

// Poller sweeps ONLINE instances on a fixed interval. It skips sweeps
// entirely while nobody is subscribed, to avoid needless RCON traffic on an
// idle panel.
type Poller struct {
	cfg   Config
	store instanceLister
	rcon  statusQuerier

	mu      sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// New creates a Poller.
func New(cfg Config, st instanceLister, querier statusQuerier) *Poller {
	return &Poller{
		cfg:   cfg.withDefaults(),
		store: st,
		rcon:  querier,
		subs:  make(map[int]chan Update),
	}
}

// Subscribe registers an observer. The returned cancel function must be
// called to release it. Slow observers miss updates rather than stalling the
// sweep.
func (p *Poller) Subscribe() (<-chan Update, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Update, updateBuffer)
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
}

// Observers returns the current subscriber count.
func (p *Poller) Observers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Run executes the poll loop until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if p.Observers() == 0 {
			continue
		}
		p.Sweep(ctx)
	}
}

// Sweep reconciles every ONLINE instance once. Per-instance queries run
// concurrently, each bounded by its own timeout; one unreachable instance
// cannot stall or abort the rest.
func (p *Poller) Sweep(ctx context.Context) {
	logger := slogger.L(ctx)

	instances, err := p.store.ListInstances(ctx, store.StatusOnline)
	if err != nil {
		logger.Error("failed to list instances for sweep", "error", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		g.Go(func() error {
			queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
			defer cancel()

			if err := p.reconcile(queryCtx, inst); err != nil {
				logger.Warn("failed to reconcile instance", "instance", inst.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Goroutines never return an error
}

func (p *Poller) reconcile(ctx context.Context, inst store.Instance) error {
	addr := net.JoinHostPort(p.cfg.RconHost, strconv.Itoa(inst.Port))

	currentMap, err := p.rcon.CurrentMap(ctx, inst.ID, addr)
	if err != nil {
		return err
	}

	players, err := p.rcon.Players(ctx, inst.ID, addr)
	if err != nil {
		return err
	}

	changed := false
	if currentMap != "" && currentMap != inst.Map {
		if err := p.store.SetInstanceMap(ctx, inst.ID, currentMap); err != nil {
			return err
		}
		inst.Map = currentMap
		changed = true
	}
	if len(players) != inst.PlayerCount {
		if err := p.store.SetInstancePlayerCount(ctx, inst.ID, len(players)); err != nil {
			return err
		}
		inst.PlayerCount = len(players)
		changed = true
	}

	if changed {
		p.publish(Update{InstanceID: inst.ID, Map: inst.Map, PlayerCount: inst.PlayerCount})
	}
	return nil
}

func (p *Poller) publish(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

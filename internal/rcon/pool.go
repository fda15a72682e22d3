package rcon

import (
	"context"
	"sync"
	"time"
)

// Default timeouts for the control channel.
const (
	DefaultDialTimeout = 3 * time.Second
	DefaultExecTimeout = 5 * time.Second
)

// Config holds shared connection settings for the pool.
type Config struct {
	Password    string        // RCON password shared by all managed instances
	DialTimeout time.Duration // Bound on dial + auth (default DefaultDialTimeout)
	ExecTimeout time.Duration // Bound on a command round trip (default DefaultExecTimeout)
}

// Pool owns at most one RCON connection per instance. Operations on
// different instances run fully in parallel; commands to the same instance
// queue on its connection.
type Pool struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewPool creates a connection pool with the given settings.
func NewPool(cfg Config) *Pool {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	return &Pool{
		cfg:   cfg,
		conns: make(map[string]*Conn),
	}
}

// Exec sends a command to the instance listening on addr and returns the
// raw response text.
func (p *Pool) Exec(ctx context.Context, instanceID, addr, command string) (string, error) {
	return p.conn(instanceID, addr).Exec(ctx, command)
}

// Invalidate drops an instance's connection. Used when the process is
// stopped or has exited; the next command redials.
func (p *Pool) Invalidate(instanceID string) {
	p.mu.Lock()
	conn, ok := p.conns[instanceID]
	if ok {
		delete(p.conns, instanceID)
	}
	p.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// CloseAll tears down every connection in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Conn)
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// conn returns the instance's connection, creating the (undailed) session
// on first use. A stale entry for a different address is replaced.
func (p *Pool) conn(instanceID, addr string) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.conns[instanceID]; ok {
		if existing.addr == addr {
			return existing
		}
		existing.Close()
	}

	conn := newConn(addr, p.cfg.Password, p.cfg.DialTimeout, p.cfg.ExecTimeout)
	p.conns[instanceID] = conn
	return conn
}

// CurrentMap queries the instance for the map it is running. Parse
// failures degrade to an empty string; this is best-effort telemetry, not
// a hard error.
func (p *Pool) CurrentMap(ctx context.Context, instanceID, addr string) (string, error) {
	out, err := p.Exec(ctx, instanceID, addr, "status")
	if err != nil {
		return "", err
	}
	return parseCurrentMap(out), nil
}

// Players queries the instance for its connected-player table. Parse
// failures degrade to an empty list.
func (p *Pool) Players(ctx context.Context, instanceID, addr string) ([]Player, error) {
	out, err := p.Exec(ctx, instanceID, addr, "status")
	if err != nil {
		return nil, err
	}
	return parsePlayers(out), nil
}

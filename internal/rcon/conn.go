package rcon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Conn is an authenticated RCON session to one instance's control port.
// The mutex gives one-in-flight FIFO semantics: concurrent callers queue on
// it and are served strictly in lock-acquisition order.
type Conn struct {
	addr     string
	password string

	dialTimeout time.Duration
	execTimeout time.Duration

	mu     sync.Mutex
	tcp    net.Conn
	nextID int32
}

// newConn creates an unconnected session; the dial happens on first Exec.
func newConn(addr, password string, dialTimeout, execTimeout time.Duration) *Conn {
	return &Conn{
		addr:        addr,
		password:    password,
		dialTimeout: dialTimeout,
		execTimeout: execTimeout,
	}
}

// Exec sends a command and returns the raw response payload. It connects
// and authenticates lazily. A timeout or transport error closes the
// underlying connection so the next call redials instead of reusing an
// ambiguous in-flight state.
func (c *Conn) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tcp == nil {
		if err := c.connect(ctx); err != nil {
			return "", err
		}
	}

	resp, err := c.roundTrip(ctx, command)
	if err != nil {
		c.closeLocked()
		return "", err
	}
	return resp, nil
}

// Close tears down the underlying connection if one is open.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.tcp != nil {
		_ = c.tcp.Close() //nolint:errcheck // best-effort teardown
		c.tcp = nil
	}
}

// connect dials the control port and performs the auth handshake.
// Must be called with the mutex held.
func (c *Conn) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	tcp, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnreachable, c.addr, err)
	}

	if err := c.authenticate(tcp); err != nil {
		_ = tcp.Close() //nolint:errcheck // error path
		return err
	}

	c.tcp = tcp
	return nil
}

// authenticate runs the SERVERDATA_AUTH exchange on a fresh connection.
func (c *Conn) authenticate(tcp net.Conn) error {
	if err := tcp.SetDeadline(time.Now().Add(c.dialTimeout)); err != nil {
		return classify(err)
	}

	id := c.claimID()
	if err := writePacket(tcp, packet{id: id, kind: typeAuth, body: c.password}); err != nil {
		return classify(err)
	}

	// The server may send an empty RESPONSE_VALUE before the actual
	// AUTH_RESPONSE; skip anything that is not the auth verdict.
	for {
		p, err := readPacket(tcp)
		if err != nil {
			return classify(err)
		}
		if p.kind != typeAuthResponse {
			continue
		}
		if p.id == authFailedID {
			return fmt.Errorf("%w: authentication rejected", ErrUnreachable)
		}
		return nil
	}
}

// roundTrip issues one command and reads its matching response.
// Must be called with the mutex held and an authenticated connection.
func (c *Conn) roundTrip(ctx context.Context, command string) (string, error) {
	deadline := time.Now().Add(c.execTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.tcp.SetDeadline(deadline); err != nil {
		return "", classify(err)
	}

	id := c.claimID()
	if err := writePacket(c.tcp, packet{id: id, kind: typeExecCommand, body: command}); err != nil {
		return "", classify(err)
	}

	// Responses for earlier commands cannot appear here because the
	// mutex serializes exchanges, but stale auth echoes can; read until
	// the id matches.
	for {
		p, err := readPacket(c.tcp)
		if err != nil {
			return "", classify(err)
		}
		if p.kind == typeResponseValue && p.id == id {
			return p.body, nil
		}
	}
}

// claimID hands out request ids, skipping the auth-failure sentinel.
func (c *Conn) claimID() int32 {
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	return c.nextID
}

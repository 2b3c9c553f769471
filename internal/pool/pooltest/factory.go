// Package pooltest provides an in-memory pool.ConnectionFactory for tests.
package pooltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rayven122/tumiki-sub015/internal/pool"
)

// ErrUnhealthy is returned by Ping on connections marked unhealthy.
var ErrUnhealthy = errors.New("connection unhealthy")

// CallFunc handles a tool call on a fake connection.
type CallFunc func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

// Factory creates fake connections and records what it created.
type Factory struct {
	// Err, when set, fails every Create.
	Err error
	// Gate, when set, blocks Create until it is closed or ctx is done.
	Gate chan struct{}
	// Call handles CallTool; the default echoes the tool name as text.
	Call  CallFunc
	Tools []mcp.Tool

	creates int32

	mu    sync.Mutex
	conns []*Conn
}

// Create implements pool.ConnectionFactory.
func (f *Factory) Create(ctx context.Context, key pool.Key, _ pool.ServerConfig) (pool.Connection, error) {
	atomic.AddInt32(&f.creates, 1)

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	c := &Conn{ID: len(f.conns) + 1, Key: key, factory: f}
	f.conns = append(f.conns, c)
	f.mu.Unlock()

	return c, nil
}

// Creates returns how many times Create was called.
func (f *Factory) Creates() int {
	return int(atomic.LoadInt32(&f.creates))
}

// Conns returns every connection created so far.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*Conn(nil), f.conns...)
}

// Conn is a fake upstream connection.
type Conn struct {
	ID  int
	Key pool.Key

	factory   *Factory
	unhealthy atomic.Bool
	closed    atomic.Bool
	calls     int32
}

// SetUnhealthy makes subsequent pings fail.
func (c *Conn) SetUnhealthy() { c.unhealthy.Store(true) }

// Closed reports whether Close was called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Calls returns how many tool calls were made on the connection.
func (c *Conn) Calls() int { return int(atomic.LoadInt32(&c.calls)) }

func (c *Conn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	atomic.AddInt32(&c.calls, 1)

	if c.closed.Load() {
		return nil, fmt.Errorf("connection %d closed", c.ID)
	}

	if c.factory.Call != nil {
		return c.factory.Call(ctx, name, args)
	}

	return mcp.NewToolResultText("called " + name), nil
}

func (c *Conn) ListTools(context.Context) ([]mcp.Tool, error) {
	return c.factory.Tools, nil
}

func (c *Conn) Ping(context.Context) error {
	if c.closed.Load() || c.unhealthy.Load() {
		return ErrUnhealthy
	}

	return nil
}

func (c *Conn) Close() error {
	c.closed.Store(true)

	return nil
}

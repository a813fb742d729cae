// Package directory tracks where addressable instances (entities, buckets,
// queues) are activated.
//
// Each address has at most one activation. Activations are created on the
// current placement node and are dropped when that node fails.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/actoridx/model"
)

// Activation is one live instance.
type Activation struct {
	Addr  string
	Node  string
	Value any
}

type entry struct {
	node  string
	value any
	ready chan struct{}
	err   error
}

// Directory is an in-process activation table.
type Directory struct {
	mu        sync.Mutex
	placement string
	down      map[string]struct{}
	entries   map[string]*entry
}

// New returns a directory placing new activations on node.
func New(node string) *Directory {
	return &Directory{
		placement: node,
		down:      make(map[string]struct{}),
		entries:   make(map[string]*entry),
	}
}

// SetPlacement changes the node that receives new activations. A node that
// was marked down is brought back up.
func (d *Directory) SetPlacement(node string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.placement = node
	delete(d.down, node)
}

// Placement returns the node that receives new activations.
func (d *Directory) Placement() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.placement
}

// IsDown reports whether node has failed.
func (d *Directory) IsDown(node string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.down[node]
	return ok
}

// Activate returns the activation for addr, creating it with create on the
// placement node if none exists. Concurrent callers for the same address
// share one create call.
func (d *Directory) Activate(ctx context.Context, addr string, create func(ctx context.Context, node string) (any, error)) (any, string, error) {
	return d.activate(ctx, addr, "", create)
}

// ActivateOn is like Activate but places a new activation on node.
func (d *Directory) ActivateOn(ctx context.Context, addr, node string, create func(ctx context.Context, node string) (any, error)) (any, string, error) {
	if node == "" {
		return nil, "", fmt.Errorf("activate %s: empty node", addr)
	}
	return d.activate(ctx, addr, node, create)
}

func (d *Directory) activate(ctx context.Context, addr, node string, create func(ctx context.Context, node string) (any, error)) (any, string, error) {
	d.mu.Lock()
	if e, ok := d.entries[addr]; ok {
		d.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
		if e.err != nil {
			return nil, "", e.err
		}
		return e.value, e.node, nil
	}

	if node == "" {
		node = d.placement
	}
	if _, isDown := d.down[node]; isDown {
		d.mu.Unlock()
		return nil, "", fmt.Errorf("activate %s on %s: %w", addr, node, model.ErrUnreachable)
	}
	e := &entry{node: node, ready: make(chan struct{})}
	d.entries[addr] = e
	d.mu.Unlock()

	value, err := create(ctx, node)

	d.mu.Lock()
	e.value, e.err = value, err
	if err != nil && d.entries[addr] == e {
		delete(d.entries, addr)
	}
	d.mu.Unlock()
	close(e.ready)

	if err != nil {
		return nil, "", err
	}
	return value, node, nil
}

// Activate is the typed form of Directory.Activate.
func Activate[T any](ctx context.Context, d *Directory, addr string, create func(ctx context.Context, node string) (T, error)) (T, error) {
	return typed[T](addr)(d.Activate(ctx, addr, erase(create)))
}

// ActivateOn is the typed form of Directory.ActivateOn.
func ActivateOn[T any](ctx context.Context, d *Directory, addr, node string, create func(ctx context.Context, node string) (T, error)) (T, error) {
	return typed[T](addr)(d.ActivateOn(ctx, addr, node, erase(create)))
}

func erase[T any](create func(ctx context.Context, node string) (T, error)) func(context.Context, string) (any, error) {
	return func(ctx context.Context, node string) (any, error) {
		return create(ctx, node)
	}
}

func typed[T any](addr string) func(any, string, error) (T, error) {
	return func(v any, _ string, err error) (T, error) {
		var zero T
		if err != nil {
			return zero, err
		}
		t, ok := v.(T)
		if !ok {
			return zero, fmt.Errorf("activation %s has type %T", addr, v)
		}
		return t, nil
	}
}

// Lookup returns the completed activation for addr.
func (d *Directory) Lookup(addr string) (Activation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[addr]
	if !ok {
		return Activation{}, false
	}
	select {
	case <-e.ready:
	default:
		return Activation{}, false
	}
	if e.err != nil {
		return Activation{}, false
	}
	return Activation{Addr: addr, Node: e.node, Value: e.value}, true
}

// Remove drops the activation for addr if its value is value. A nil value
// removes unconditionally.
func (d *Directory) Remove(addr string, value any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[addr]
	if !ok {
		return false
	}
	if value != nil && e.value != value {
		return false
	}
	delete(d.entries, addr)
	return true
}

// FailNode marks node down and drops every activation hosted on it. The
// dropped activations are returned in address order.
func (d *Directory) FailNode(node string) []Activation {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.down[node] = struct{}{}

	var dropped []Activation
	for addr, e := range d.entries {
		if e.node != node {
			continue
		}
		delete(d.entries, addr)
		dropped = append(dropped, Activation{Addr: addr, Node: node, Value: e.value})
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Addr < dropped[j].Addr })
	return dropped
}

// Activations returns the completed activations whose address has prefix,
// in address order.
func (d *Directory) Activations(prefix string) []Activation {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Activation
	for addr, e := range d.entries {
		if !strings.HasPrefix(addr, prefix) {
			continue
		}
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.err == nil {
			out = append(out, Activation{Addr: addr, Node: e.node, Value: e.value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Len returns the number of activations.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.entries)
}

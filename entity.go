package actoridx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/actoridx/codec"
	"github.com/hupe1980/actoridx/internal/bucket"
	"github.com/hupe1980/actoridx/internal/directory"
	"github.com/hupe1980/actoridx/internal/indexing"
	"github.com/hupe1980/actoridx/internal/workflow"
	"github.com/hupe1980/actoridx/model"
)

// EntityConfig declares an entity type and its indexes.
type EntityConfig[T any] struct {
	// Name is the entity type name. It prefixes every address of the type.
	Name string

	// FaultTolerant types track their queued workflow records and recover
	// them after failures. Their indexes must all be lazy.
	FaultTolerant bool

	Indexes []IndexConfig[T]
}

// IndexConfig declares one index of an entity type.
type IndexConfig[T any] struct {
	// Interface groups indexes that share a workflow queue.
	Interface string
	// Name identifies the index within the entity type.
	Name string

	Unique     bool
	Eager      bool
	ActiveOnly bool

	// MaxEntriesPerBucket bounds the distinct values per bucket. Zero
	// disables chaining.
	MaxEntriesPerBucket int
	// Partitions spreads the index over this many bucket chains.
	Partitions int

	// Extract returns the indexed value of a state: a string, bool, number,
	// time.Time, []byte or fmt.Stringer. Nil leaves the entity unindexed.
	Extract func(state *T) any
}

// EntityType is a registered entity type.
type EntityType[T any] struct {
	sys     *System
	name    string
	schema  *indexing.Schema[T]
	coord   *indexing.Coordinator[T]
	indexes map[string]*bucket.Index
	logger  *Logger
}

// Register validates cfg and makes its entity type available on sys.
// Configuration problems fail with a *ConfigError.
func Register[T any](sys *System, cfg EntityConfig[T]) (*EntityType[T], error) {
	if err := sys.checkOpen(); err != nil {
		return nil, err
	}
	if err := validName("entity type", cfg.Name); err != nil {
		return nil, err
	}

	defs := make([]indexing.IndexDef[T], len(cfg.Indexes))
	for i, ic := range cfg.Indexes {
		if err := validName("index", ic.Name); err != nil {
			return nil, err
		}
		if err := validName("interface", ic.Interface); err != nil {
			return nil, err
		}
		defs[i] = indexing.IndexDef[T]{
			Interface: ic.Interface,
			Meta: model.IndexMetaData{
				Name:                ic.Name,
				Unique:              ic.Unique,
				Eager:               ic.Eager,
				ActiveOnly:          ic.ActiveOnly,
				MaxEntriesPerBucket: ic.MaxEntriesPerBucket,
				Partitions:          ic.Partitions,
			},
			Extract: ic.Extract,
		}
	}

	schema, err := indexing.NewSchema(cfg.Name, cfg.FaultTolerant, defs)
	if err != nil {
		return nil, err
	}
	var zero T
	if _, err := schema.Extract(&zero); err != nil {
		return nil, fmt.Errorf("entity type %s: %w", cfg.Name, err)
	}

	t := &EntityType[T]{
		sys:     sys,
		name:    cfg.Name,
		schema:  schema,
		indexes: make(map[string]*bucket.Index, len(defs)),
		logger:  sys.logger,
	}

	coordIndexes := make(map[string]indexing.Index, len(defs))
	byIface := make(map[string]map[string]workflow.Index)
	for _, d := range schema.Defs() {
		idx := bucket.NewIndex(qualify(cfg.Name, d.Meta.Name), d.Meta, sys.bucketResolver(d.Meta), func(o *bucket.IndexOptions) {
			o.Logger = sys.logger.Logger
			o.Metrics = sys.metrics
		})
		t.indexes[d.Meta.Name] = idx
		coordIndexes[d.Meta.Name] = idx

		m, ok := byIface[d.Interface]
		if !ok {
			m = make(map[string]workflow.Index)
			byIface[d.Interface] = m
		}
		m[d.Meta.Name] = idx
	}

	t.coord, err = indexing.NewCoordinator(schema, coordIndexes, func(o *indexing.CoordinatorOptions) {
		o.Logger = sys.logger.Logger
		o.Metrics = sys.metrics
	})
	if err != nil {
		return nil, err
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()

	if _, ok := sys.types[cfg.Name]; ok {
		return nil, &ConfigError{Msg: fmt.Sprintf("entity type %q is already registered", cfg.Name)}
	}
	for iface, m := range byIface {
		sys.handlers[qualify(cfg.Name, iface)] = workflow.NewHandler(cfg.FaultTolerant, m, activeSets[T]{t: t}, func(o *workflow.HandlerOptions) {
			o.Logger = sys.logger.WithQueue(qualify(cfg.Name, iface)).Logger
			o.Metrics = sys.metrics
			o.FetchConcurrency = sys.opts.fetchConcurrency
		})
	}
	sys.types[cfg.Name] = t
	return t, nil
}

func validName(kind, name string) error {
	if name == "" {
		return &ConfigError{Msg: kind + " name is empty"}
	}
	if strings.ContainsAny(name, "/.@#") {
		return &ConfigError{Msg: fmt.Sprintf("%s name %q contains one of / . @ #", kind, name)}
	}
	return nil
}

// Name returns the entity type name.
func (t *EntityType[T]) Name() string { return t.name }

// Get returns the activation of the entity with key, activating it on the
// placement node if needed.
func (t *EntityType[T]) Get(ctx context.Context, key string) (*Entity[T], error) {
	if err := t.sys.checkOpen(); err != nil {
		return nil, err
	}
	ref := model.NewEntityRef(t.name, key)
	return directory.Activate(ctx, t.sys.dir, entityAddr(ref), func(ctx context.Context, node string) (*Entity[T], error) {
		return t.activate(ctx, ref, node)
	})
}

func (t *EntityType[T]) faultTolerant() bool { return t.schema.FaultTolerant() }

// reconcile activates key and moves its pending records to live queues.
func (t *EntityType[T]) reconcile(ctx context.Context, key string) error {
	e, err := t.Get(ctx, key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return err
	}
	if len(e.active) == 0 {
		return nil
	}
	return e.recoverLocked(ctx)
}

func entityAddr(ref model.EntityRef) string {
	return "entity/" + ref.String()
}

type entityRecord[T any] struct {
	State  T                 `json:"state"`
	Active []uuid.UUID       `json:"active,omitempty"`
	Queues map[string]string `json:"queues,omitempty"`
}

func (t *EntityType[T]) activate(ctx context.Context, ref model.EntityRef, node string) (_ *Entity[T], err error) {
	e := &Entity[T]{
		typ:    t,
		ref:    ref,
		addr:   entityAddr(ref),
		node:   node,
		logger: t.logger.WithEntity(ref).WithNode(node).Logger,
	}
	defer func() {
		pending := 0
		if err == nil {
			pending = len(e.active)
		}
		t.logger.LogActivation(ctx, ref, node, pending, err)
	}()

	var rec entityRecord[T]
	if _, err := t.sys.store.Load(ctx, e.addr, &rec); err != nil {
		return nil, fmt.Errorf("load entity %s: %w", ref, err)
	}
	e.state = rec.State
	e.active = model.NewIDSet(rec.Active...)
	e.queues = rec.Queues
	if e.queues == nil {
		e.queues = make(map[string]string)
	}
	if e.images, err = t.schema.Extract(&e.state); err != nil {
		return nil, fmt.Errorf("entity %s: %w", ref, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if t.schema.FaultTolerant() && len(e.active) > 0 {
		if err := e.recoverLocked(ctx); err != nil {
			return nil, err
		}
	}

	updates, err := indexing.Generate(t.schema, e.images, &e.state, indexing.OnActivate, true)
	if err != nil {
		return nil, err
	}
	if !updates.Empty() {
		state := e.state
		if err := t.coord.Apply(ctx, entityHost[T]{e: e}, e.images, updates, e.persist(&state)); err != nil {
			return nil, fmt.Errorf("activate %s: %w", ref, err)
		}
	}
	return e, nil
}

// Entity is the activation of one entity. Its methods are serialized: a
// write holds the entity for its whole duration, including index updates,
// enqueues and persistence.
type Entity[T any] struct {
	typ    *EntityType[T]
	ref    model.EntityRef
	addr   string
	node   string
	logger *slog.Logger

	crashed atomic.Bool

	mu          sync.Mutex
	state       T
	images      indexing.Images
	active      model.IDSet
	deactivated bool

	qmu    sync.Mutex // enqueues of one write run concurrently
	queues map[string]string
}

// Ref returns the entity reference.
func (e *Entity[T]) Ref() EntityRef { return e.ref }

// Node returns the node hosting the activation.
func (e *Entity[T]) Node() string { return e.node }

// State returns a shallow copy of the current state.
func (e *Entity[T]) State() T {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Update applies fn to a copy of the state and writes the result together
// with its index updates. When fn fails or the write is rejected, the
// entity keeps its previous state; a uniqueness violation fails with
// ErrUniquenessConstraintViolated.
func (e *Entity[T]) Update(ctx context.Context, fn func(state *T) error) (err error) {
	start := time.Now()
	updates := 0
	defer func() {
		e.typ.sys.metrics.RecordWrite(e.ref.Type, time.Since(start), err)
		e.typ.logger.LogWrite(ctx, e.ref, updates, err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return err
	}

	next, err := e.clone()
	if err != nil {
		return err
	}
	if err := fn(&next); err != nil {
		return err
	}

	if err := e.ensureQueuesLocked(ctx); err != nil {
		return err
	}
	u, err := indexing.Generate(e.typ.schema, e.images, &next, indexing.WriteState, false)
	if err != nil {
		return err
	}
	updates = u.Len()

	if err := e.typ.coord.Apply(ctx, entityHost[T]{e: e}, e.images, u, e.persist(&next)); err != nil {
		return err
	}
	e.state = next
	return nil
}

// Deactivate removes the entity from its ActiveOnly indexes and drops the
// activation. The next Get activates it again.
func (e *Entity[T]) Deactivate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return err
	}

	u, err := indexing.Generate(e.typ.schema, e.images, &e.state, indexing.OnDeactivate, true)
	if err != nil {
		return err
	}
	if !u.Empty() {
		if err := e.ensureQueuesLocked(ctx); err != nil {
			return err
		}
		state := e.state
		if err := e.typ.coord.Apply(ctx, entityHost[T]{e: e}, e.images, u, e.persist(&state)); err != nil {
			return fmt.Errorf("deactivate %s: %w", e.ref, err)
		}
	}

	e.deactivated = true
	e.typ.sys.dir.Remove(e.addr, e)
	e.logger.DebugContext(ctx, "entity deactivated")
	return nil
}

// ActiveWorkflowIDs returns the IDs of the entity's workflow records that
// no handler has confirmed yet.
func (e *Entity[T]) ActiveWorkflowIDs(ctx context.Context) ([]uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return nil, err
	}
	return e.active.Slice(), nil
}

// RemoveFromActiveWorkflowIDs forgets confirmed workflow records and
// persists the smaller set.
func (e *Entity[T]) RemoveFromActiveWorkflowIDs(ctx context.Context, ids []uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return err
	}

	var removed []uuid.UUID
	for _, id := range ids {
		if e.active.Has(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	e.active.Remove(removed...)
	if err := e.saveLocked(ctx, &e.state); err != nil {
		e.active.Add(removed...)
		return err
	}
	return nil
}

func (e *Entity[T]) crash() {
	e.crashed.Store(true)
}

func (e *Entity[T]) checkLocked() error {
	if e.crashed.Load() {
		return fmt.Errorf("entity %s on %s: %w", e.ref, e.node, ErrUnreachable)
	}
	if e.deactivated {
		return fmt.Errorf("entity %s: %w", e.ref, ErrClosed)
	}
	return nil
}

// clone deep-copies the state through the system codec.
func (e *Entity[T]) clone() (T, error) {
	next, err := codec.Clone(e.typ.sys.opts.codec, &e.state)
	if err != nil {
		return next, fmt.Errorf("copy state of %s: %w", e.ref, err)
	}
	return next, nil
}

func (e *Entity[T]) persist(state *T) func(context.Context) error {
	return func(ctx context.Context) error {
		return e.saveLocked(ctx, state)
	}
}

func (e *Entity[T]) saveLocked(ctx context.Context, state *T) error {
	rec := entityRecord[T]{
		State:  *state,
		Active: e.active.Slice(),
		Queues: e.queueIDs(),
	}
	return e.typ.sys.store.Save(ctx, e.addr, &rec)
}

// recoverLocked reconciles the active set with the queues.
func (e *Entity[T]) recoverLocked(ctx context.Context) error {
	rec := indexing.Recover(ctx, e.ref, e.typ.schema.Interfaces(), e.active, e.queueIDs(), locator[T]{e: e}, func(o *indexing.RecoverOptions) {
		o.Logger = e.logger
		o.Metrics = e.typ.sys.metrics
	})
	if !rec.Changed {
		return nil
	}
	e.active = rec.Active
	e.qmu.Lock()
	e.queues = rec.Queues
	e.qmu.Unlock()
	return e.saveLocked(ctx, &e.state)
}

// ensureQueuesLocked recovers a fault-tolerant entity whose cached queue
// sits on a failed node before it enqueues again.
func (e *Entity[T]) ensureQueuesLocked(ctx context.Context) error {
	if !e.typ.schema.FaultTolerant() {
		return nil
	}
	for _, id := range e.queueIDs() {
		addr, err := workflow.ParseID(id)
		if err != nil || !e.typ.sys.dir.IsDown(addr.Node) {
			continue
		}
		return e.recoverLocked(ctx)
	}
	return nil
}

func (e *Entity[T]) queueIDs() map[string]string {
	e.qmu.Lock()
	defer e.qmu.Unlock()

	out := make(map[string]string, len(e.queues))
	for k, v := range e.queues {
		out[k] = v
	}
	return out
}

// queue returns the queue a new record of iface goes to: the cached queue
// while it is reachable, otherwise the current one.
func (e *Entity[T]) queue(ctx context.Context, iface string) (*workflow.Queue, error) {
	sys := e.typ.sys

	e.qmu.Lock()
	id := e.queues[iface]
	e.qmu.Unlock()

	if id != "" {
		q, err := sys.resolveQueue(ctx, id)
		switch {
		case err == nil:
			return q, nil
		case !errors.Is(err, ErrUnreachable):
			return nil, err
		case e.typ.schema.FaultTolerant():
			return nil, fmt.Errorf("pending workflows of %s: %w", e.ref, err)
		}
	}

	q, err := sys.currentQueue(ctx, qualify(e.ref.Type, iface), e.ref)
	if err != nil {
		return nil, err
	}
	e.qmu.Lock()
	e.queues[iface] = q.ID()
	e.qmu.Unlock()
	return q, nil
}

// entityHost exposes a locked entity to the coordinator.
type entityHost[T any] struct {
	e *Entity[T]
}

func (h entityHost[T]) Ref() model.EntityRef { return h.e.ref }

func (h entityHost[T]) Queue(ctx context.Context, iface string) (indexing.Enqueuer, error) {
	q, err := h.e.queue(ctx, iface)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (h entityHost[T]) AddActive(ids ...uuid.UUID) { h.e.active.Add(ids...) }

func (h entityHost[T]) RemoveActive(ids ...uuid.UUID) { h.e.active.Remove(ids...) }

// locator resolves the queues of a recovering entity.
type locator[T any] struct {
	e *Entity[T]
}

func (l locator[T]) Current(ctx context.Context, iface string) (indexing.Queue, error) {
	q, err := l.e.typ.sys.currentQueue(ctx, qualify(l.e.ref.Type, iface), l.e.ref)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (l locator[T]) Resolve(ctx context.Context, id string) (indexing.Queue, error) {
	q, err := l.e.typ.sys.resolveQueue(ctx, id)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (l locator[T]) Reincarnation(ctx context.Context, id string) (indexing.Queue, error) {
	q, err := l.e.typ.sys.reincarnation(ctx, id)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// activeSets answers the active-set requests of fault-tolerant passes.
type activeSets[T any] struct {
	t *EntityType[T]
}

func (a activeSets[T]) entity(ctx context.Context, ref model.EntityRef) (*Entity[T], error) {
	if ref.Type != a.t.name {
		return nil, fmt.Errorf("entity %s is not a %s: %w", ref, a.t.name, ErrNotFound)
	}
	return a.t.Get(ctx, ref.Key)
}

// ActiveWorkflowIDs retries once when the activation it reached was
// deactivated meanwhile.
func (a activeSets[T]) ActiveWorkflowIDs(ctx context.Context, ref model.EntityRef) (model.IDSet, error) {
	for attempt := 0; ; attempt++ {
		e, err := a.entity(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids, err := e.ActiveWorkflowIDs(ctx)
		if errors.Is(err, ErrClosed) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return model.NewIDSet(ids...), nil
	}
}

func (a activeSets[T]) RemoveFromActiveWorkflowIDs(ctx context.Context, ref model.EntityRef, ids []uuid.UUID) error {
	for attempt := 0; ; attempt++ {
		e, err := a.entity(ctx, ref)
		if err != nil {
			return err
		}
		err = e.RemoveFromActiveWorkflowIDs(ctx, ids)
		if errors.Is(err, ErrClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

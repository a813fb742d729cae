package actoridx

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/hupe1980/actoridx/internal/bucket"
	"github.com/hupe1980/actoridx/internal/directory"
	"github.com/hupe1980/actoridx/internal/workflow"
	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
	"github.com/hupe1980/actoridx/resource"
)

// EntityRef identifies an indexed entity.
type EntityRef = model.EntityRef

// registered is the type-erased view of an EntityType.
type registered interface {
	faultTolerant() bool
	reconcile(ctx context.Context, key string) error
}

// crashable is implemented by activations that must learn that their node
// failed.
type crashable interface {
	crash()
}

// System hosts entity types, their index buckets and their workflow queues
// on a simulated set of nodes sharing one blob store.
type System struct {
	opts      options
	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller
	store     *persistence.Store
	dir       *directory.Directory

	mu       sync.Mutex
	closed   bool
	paused   bool
	types    map[string]registered
	handlers map[string]*workflow.PassHandler // by qualified interface
}

// Open returns a system persisting its state in blobs.
//
// Example:
//
//	sys, err := actoridx.Open(ctx, blobstore.NewMemoryStore(),
//	    actoridx.WithLogger(actoridx.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer sys.Close(ctx)
func Open(ctx context.Context, blobs blobstore.BlobStore, optFns ...Option) (*System, error) {
	if blobs == nil {
		return nil, &ConfigError{Msg: "blob store is nil"}
	}
	o := applyOptions(optFns)
	resources := resource.NewController(o.resources)

	s := &System{
		opts:      o,
		logger:    o.logger,
		metrics:   o.metricsCollector,
		resources: resources,
		store: persistence.NewStore(blobs, func(so *persistence.Options) {
			so.Codec = o.codec
			so.Compression = o.compression
			so.Retry = o.retry
			so.Resources = resources
			so.Logger = o.logger.Logger
		}),
		dir:      directory.New(o.nodeID),
		types:    make(map[string]registered),
		handlers: make(map[string]*workflow.PassHandler),
	}
	s.logger.InfoContext(ctx, "system opened", "node", o.nodeID, "queue_shards", o.queueShards)
	return s, nil
}

// Placement returns the node that receives new activations.
func (s *System) Placement() string {
	return s.dir.Placement()
}

// PlaceOn moves new activations to node. Existing activations stay where
// they are. A failed node that is placed on again comes back up.
func (s *System) PlaceOn(node string) {
	s.dir.SetPlacement(node)
}

// CrashNode simulates the failure of node: every activation it hosts is
// dropped without being persisted and its queues stop draining. Addresses
// on the node are unreachable until it is placed on again.
func (s *System) CrashNode(node string) {
	dropped := s.dir.FailNode(node)
	for _, a := range dropped {
		switch v := a.Value.(type) {
		case *workflow.Queue:
			v.Stop()
		case crashable:
			v.crash()
		}
	}
	s.logger.LogNodeCrash(context.Background(), node, len(dropped))
}

// RecoverNode takes over the queues of a failed node. Each persisted queue
// of node is reopened as a passive reincarnation on the placement node and
// every fault-tolerant entity with records in it is activated, which moves
// its pending records to a live queue. Records nobody claimed are run once
// through the queue's handler: confirmed records are applied, abandoned
// unique updates are undone.
func (s *System) RecoverNode(ctx context.Context, node string) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if node == s.dir.Placement() {
		return fmt.Errorf("recover %s: node is the placement node", node)
	}

	var reincarnations []*workflow.Queue
	orphans := 0
	defer func() {
		s.logger.LogNodeRecovery(ctx, node, len(reincarnations), orphans, err)
	}()

	names, err := s.store.List(ctx, "queue/")
	if err != nil {
		return fmt.Errorf("recover %s: %w", node, err)
	}

	refs := make(map[model.EntityRef]struct{})
	for _, name := range names {
		addr, perr := workflow.ParseID(name)
		if perr != nil || addr.Node != node || addr.Reincarnated {
			continue
		}
		q, qerr := s.reincarnation(ctx, name)
		if qerr != nil {
			err = multierr.Append(err, qerr)
			continue
		}
		reincarnations = append(reincarnations, q)
		for _, r := range q.Records() {
			refs[r.Entity] = struct{}{}
		}
	}

	sorted := make([]model.EntityRef, 0, len(refs))
	for ref := range refs {
		sorted = append(sorted, ref)
	}
	slices.SortFunc(sorted, model.CompareRefs)

	for _, ref := range sorted {
		t, ok := s.entityType(ref.Type)
		if !ok {
			s.logger.WarnContext(ctx, "queued records of unregistered entity type", "entity", ref.String())
			continue
		}
		if !t.faultTolerant() {
			continue
		}
		if rerr := t.reconcile(ctx, ref.Key); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("reconcile %s: %w", ref, rerr))
		}
	}

	for _, q := range reincarnations {
		n, derr := s.drainOrphans(ctx, q)
		orphans += n
		err = multierr.Append(err, derr)
	}
	return err
}

// drainOrphans runs the records left in a reincarnation through the handler
// of its interface and removes them.
func (s *System) drainOrphans(ctx context.Context, q *workflow.Queue) (int, error) {
	records := q.Records()
	if len(records) == 0 {
		return 0, nil
	}
	addr, err := workflow.ParseID(q.ID())
	if err != nil {
		return 0, err
	}
	h, ok := s.handler(addr.Interface)
	if !ok {
		return 0, fmt.Errorf("queue %s: interface %s: %w", q.ID(), addr.Interface, ErrNotFound)
	}
	if err := h.Handle(ctx, workflow.Chain(records)); err != nil {
		return 0, fmt.Errorf("drain %s: %w", q.ID(), err)
	}

	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := q.Remove(ctx, ids); err != nil {
		return 0, fmt.Errorf("drain %s: %w", q.ID(), err)
	}
	return len(records), nil
}

// PauseDrains suspends every queue, including queues opened later, after
// their running pass. Writes keep enqueuing.
func (s *System) PauseDrains() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
	for _, q := range s.queues() {
		q.Pause()
	}
}

// ResumeDrains restarts every queue.
func (s *System) ResumeDrains() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = false
	for _, q := range s.queues() {
		q.Resume()
	}
}

// Flush blocks until every live queue is empty and the confirmations of
// finished passes were delivered. With drains paused it blocks until ctx
// ends.
func (s *System) Flush(ctx context.Context) error {
	for {
		idle := true
		for _, q := range s.queues() {
			if q.Len() == 0 {
				continue
			}
			idle = false
			if err := q.WaitIdle(ctx); err != nil {
				return err
			}
		}
		s.waitHandlers()
		if idle {
			return nil
		}
	}
}

// Close stops every queue and writes out pending bucket state. Queued
// records stay persisted and drain when the system is opened again.
func (s *System) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, a := range s.dir.Activations("queue/") {
		if q, ok := a.Value.(*workflow.Queue); ok {
			q.Stop()
		}
	}
	s.waitHandlers()

	var err error
	for _, a := range s.dir.Activations("bucket/") {
		if b, ok := a.Value.(*bucket.Bucket); ok {
			err = multierr.Append(err, b.Flush(ctx))
		}
	}
	s.logger.InfoContext(ctx, "system closed", "error", err)
	return err
}

func (s *System) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("system: %w", ErrClosed)
	}
	return nil
}

func (s *System) entityType(name string) (registered, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.types[name]
	return t, ok
}

func (s *System) handler(qualifiedIface string) (*workflow.PassHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handlers[qualifiedIface]
	return h, ok
}

func (s *System) waitHandlers() {
	s.mu.Lock()
	handlers := make([]*workflow.PassHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h.Wait()
	}
}

// queues returns the live, draining queues.
func (s *System) queues() []*workflow.Queue {
	var out []*workflow.Queue
	for _, a := range s.dir.Activations("queue/") {
		if q, ok := a.Value.(*workflow.Queue); ok && !q.Passive() {
			out = append(out, q)
		}
	}
	return out
}

// bucketResolver activates the buckets of one index.
func (s *System) bucketResolver(meta model.IndexMetaData) bucket.Resolver {
	return func(ctx context.Context, id string) (*bucket.Bucket, error) {
		return directory.Activate(ctx, s.dir, id, func(ctx context.Context, node string) (*bucket.Bucket, error) {
			return bucket.Load(ctx, id, meta, s.store, func(o *bucket.Options) {
				o.Logger = s.logger.WithNode(node).Logger
			})
		})
	}
}

// currentQueue returns the queue serving ref for a qualified interface on
// the placement node.
func (s *System) currentQueue(ctx context.Context, qualifiedIface string, ref model.EntityRef) (*workflow.Queue, error) {
	node := s.dir.Placement()
	id := workflow.ID(qualifiedIface, ref.Shard(s.opts.queueShards), node)
	return s.openQueue(ctx, id, node, false)
}

// resolveQueue returns the activation of queue id on its own node.
func (s *System) resolveQueue(ctx context.Context, id string) (*workflow.Queue, error) {
	addr, err := workflow.ParseID(id)
	if err != nil {
		return nil, err
	}
	if addr.Reincarnated {
		return s.reincarnation(ctx, workflow.StateName(id))
	}
	if s.dir.IsDown(addr.Node) {
		return nil, fmt.Errorf("queue %s: %w", id, ErrUnreachable)
	}
	return s.openQueue(ctx, id, addr.Node, false)
}

// reincarnation returns the passive stand-in of queue id on the placement
// node.
func (s *System) reincarnation(ctx context.Context, id string) (*workflow.Queue, error) {
	return s.openQueue(ctx, workflow.ReincarnationID(id), s.dir.Placement(), true)
}

func (s *System) openQueue(ctx context.Context, id, node string, passive bool) (*workflow.Queue, error) {
	addr, err := workflow.ParseID(id)
	if err != nil {
		return nil, err
	}
	h, ok := s.handler(addr.Interface)
	if !ok && !passive {
		return nil, fmt.Errorf("queue %s: interface %s: %w", id, addr.Interface, ErrNotFound)
	}

	q, err := directory.ActivateOn(ctx, s.dir, id, node, func(ctx context.Context, node string) (*workflow.Queue, error) {
		if err := s.checkOpen(); err != nil {
			return nil, err
		}
		if !passive {
			s.dropReincarnation(ctx, id)
		}

		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()

		var handler workflow.Handler
		if h != nil {
			handler = h
		}
		return workflow.Open(ctx, id, s.store, handler, func(o *workflow.Options) {
			o.Logger = s.logger.WithNode(node).Logger
			o.Metrics = s.metrics
			o.Resources = s.resources
			o.Passive = passive
			o.Paused = paused
		})
	})
	if err != nil {
		return nil, err
	}
	if !passive {
		s.syncPause(q)
	}
	return q, nil
}

// syncPause aligns a new queue with a pause toggled while it opened.
func (s *System) syncPause(q *workflow.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		q.Pause()
	} else {
		q.Resume()
	}
}

// dropReincarnation retires the stand-in of id when the original queue is
// opened again; both share one state blob.
func (s *System) dropReincarnation(ctx context.Context, id string) {
	rid := workflow.ReincarnationID(id)
	a, ok := s.dir.Lookup(rid)
	if !ok || !s.dir.Remove(rid, a.Value) {
		return
	}
	if q, ok := a.Value.(*workflow.Queue); ok {
		q.Stop()
	}
	s.logger.DebugContext(ctx, "reincarnation retired", "queue", rid)
}

func qualify(typ, name string) string {
	return typ + "." + name
}

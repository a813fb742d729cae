package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
	"github.com/hupe1980/actoridx/resource"
)

// Handler processes one pass of records.
type Handler interface {
	Handle(ctx context.Context, head *Node) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, head *Node) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, head *Node) error { return f(ctx, head) }

// State is the persisted content of a queue.
type State struct {
	Records []*model.WorkflowRecord `json:"records"`
}

// Options configures a Queue.
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Collector
	// Resources bounds concurrent passes and paces retries of failed ones.
	Resources *resource.Controller
	// Passive queues serve PendingIn and Remove but never drain.
	Passive bool
	// Paused queues start with draining suspended.
	Paused bool
}

// DefaultOptions contains the default configuration for a Queue.
var DefaultOptions = Options{}

// Queue is the durable record log of one interface shard.
type Queue struct {
	id      string
	name    string
	store   *persistence.Store
	handler Handler
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	records   []*model.WorkflowRecord
	running   model.IDSet // records of the pass in progress
	migrating model.IDSet // records handed out by PendingIn
	paused    bool
	stopped   bool
	changed   chan struct{} // closed and replaced on every state change

	committer *persistence.Committer

	cancel context.CancelFunc
	done   chan struct{}
}

// Open activates queue id, loading its persisted records. Unless passive,
// the drain loop starts immediately.
func Open(ctx context.Context, id string, store *persistence.Store, handler Handler, optFns ...func(o *Options)) (*Queue, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Resources == nil {
		opts.Resources = resource.NewController(resource.DefaultConfig())
	}

	var state State
	name := StateName(id)
	if _, err := store.Load(ctx, name, &state); err != nil {
		return nil, fmt.Errorf("load queue %s: %w", id, err)
	}

	q := &Queue{
		id:        id,
		name:      name,
		store:     store,
		handler:   handler,
		opts:      opts,
		logger:    opts.Logger.With("queue", id),
		records:   state.Records,
		running:   model.NewIDSet(),
		migrating: model.NewIDSet(),
		paused:    opts.Paused,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	q.committer = persistence.NewCommitter(q.write)

	if opts.Passive {
		close(q.done)
		return q, nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	go q.run(loopCtx)
	return q, nil
}

func (q *Queue) write(ctx context.Context) error {
	q.mu.Lock()
	state := State{Records: slices.Clone(q.records)}
	q.mu.Unlock()

	return q.store.Save(ctx, q.name, &state)
}

// notify wakes waiters. Callers hold q.mu.
func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// ID returns the queue address.
func (q *Queue) ID() string { return q.id }

// Passive reports whether the queue never drains.
func (q *Queue) Passive() bool { return q.opts.Passive }

// Enqueue appends record and returns once it is persisted.
func (q *Queue) Enqueue(ctx context.Context, record *model.WorkflowRecord) error {
	return q.EnqueueAll(ctx, []*model.WorkflowRecord{record})
}

// EnqueueAll appends records in order and returns once they are persisted.
// Records already queued are not appended twice.
func (q *Queue) EnqueueAll(ctx context.Context, records []*model.WorkflowRecord) (err error) {
	defer func() { q.opts.Metrics.RecordEnqueue(q.id, len(records), err) }()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue %s: %w", q.id, model.ErrClosed)
	}
	for _, r := range records {
		if !q.holdsLocked(r.ID) {
			q.records = append(q.records, r)
		}
	}
	q.notify()
	q.mu.Unlock()

	return q.committer.Commit(ctx)
}

func (q *Queue) holdsLocked(id uuid.UUID) bool {
	return slices.ContainsFunc(q.records, func(r *model.WorkflowRecord) bool { return r.ID == id })
}

// PendingIn returns the queued records whose IDs are in ids and that are
// not part of the running pass, marking them as migrating so no pass picks
// them up. IDs of ids that the running pass is processing are returned in
// inFlight.
func (q *Queue) PendingIn(ids model.IDSet) (records []*model.WorkflowRecord, inFlight model.IDSet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inFlight = model.NewIDSet()
	for _, r := range q.records {
		if !ids.Has(r.ID) {
			continue
		}
		if q.running.Has(r.ID) {
			inFlight.Add(r.ID)
			continue
		}
		q.migrating.Add(r.ID)
		records = append(records, r)
	}
	return records, inFlight
}

// Remove deletes the records with ids and persists the queue.
func (q *Queue) Remove(ctx context.Context, ids []uuid.UUID) error {
	drop := model.NewIDSet(ids...)

	q.mu.Lock()
	n := len(q.records)
	q.records = slices.DeleteFunc(q.records, func(r *model.WorkflowRecord) bool { return drop.Has(r.ID) })
	q.migrating.Remove(ids...)
	removed := n != len(q.records)
	q.notify()
	q.mu.Unlock()

	if !removed {
		return nil
	}
	return q.committer.Commit(ctx)
}

// Release returns migrating records with ids to the queue.
func (q *Queue) Release(ids []uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.migrating.Remove(ids...)
	q.notify()
}

// Len returns the number of queued records, including the running pass.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.records)
}

// Records returns a copy of the queued records.
func (q *Queue) Records() []*model.WorkflowRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.records)
}

// Pause suspends draining after the running pass.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = true
	q.notify()
}

// Resume restarts draining.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = false
	q.notify()
}

// WaitIdle blocks until the queue holds no records.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.records) == 0 {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop ends the drain loop and waits for it to exit. Queued records stay
// persisted.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.notify()
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	<-q.done
}

// next blocks until a pass can start and returns its records.
func (q *Queue) next(ctx context.Context) ([]*model.WorkflowRecord, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		var batch []*model.WorkflowRecord
		if !q.paused {
			for _, r := range q.records {
				if !q.migrating.Has(r.ID) {
					batch = append(batch, r)
				}
			}
		}
		if len(batch) > 0 {
			for _, r := range batch {
				q.running.Add(r.ID)
			}
			q.mu.Unlock()
			return batch, true
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		batch, ok := q.next(ctx)
		if !ok {
			return
		}
		if err := q.pass(ctx, batch); err != nil {
			q.mu.Lock()
			q.running = model.NewIDSet()
			q.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("workflow pass failed, retrying", "records", len(batch), "error", err)
			if err := q.opts.Resources.WaitRetry(ctx); err != nil {
				return
			}
		}
	}
}

func (q *Queue) pass(ctx context.Context, batch []*model.WorkflowRecord) (err error) {
	start := time.Now()
	defer func() { q.opts.Metrics.RecordPass(q.id, len(batch), time.Since(start), err) }()

	if err := q.opts.Resources.AcquireDrain(ctx); err != nil {
		return err
	}
	defer q.opts.Resources.ReleaseDrain()

	if err := q.handler.Handle(ctx, Chain(batch)); err != nil {
		return err
	}

	ids := make([]uuid.UUID, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}

	q.mu.Lock()
	done := model.NewIDSet(ids...)
	q.records = slices.DeleteFunc(q.records, func(r *model.WorkflowRecord) bool { return done.Has(r.ID) })
	q.running = model.NewIDSet()
	q.notify()
	q.mu.Unlock()

	q.logger.Debug("workflow pass done", "records", len(batch))
	return q.committer.Commit(ctx)
}

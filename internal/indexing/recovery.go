package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
)

// Queue is the part of a workflow queue used to migrate pending records.
type Queue interface {
	ID() string
	PendingIn(ids model.IDSet) (records []*model.WorkflowRecord, inFlight model.IDSet)
	EnqueueAll(ctx context.Context, records []*model.WorkflowRecord) error
	Remove(ctx context.Context, ids []uuid.UUID) error
	Release(ids []uuid.UUID)
}

// Locator resolves the queues of one entity.
type Locator interface {
	// Current returns the queue now serving iface for the entity.
	Current(ctx context.Context, iface string) (Queue, error)
	// Resolve returns queue id, failing with model.ErrUnreachable when its
	// node is down.
	Resolve(ctx context.Context, id string) (Queue, error)
	// Reincarnation returns the passive stand-in of an unreachable queue.
	Reincarnation(ctx context.Context, id string) (Queue, error)
}

// Recovery is the outcome of Recover.
type Recovery struct {
	// Active is the set of IDs still pending in some queue.
	Active model.IDSet
	// Queues maps each interface to the queue now serving it.
	Queues map[string]string
	// Migrated counts the records moved to a new queue.
	Migrated int
	// Changed reports whether Active or Queues differ from the input.
	Changed bool
}

// RecoverOptions configures Recover.
type RecoverOptions struct {
	Logger  *slog.Logger
	Metrics metrics.Collector
}

// Recover reconciles an activating entity's active workflow set with its
// queues. Records still waiting in a queue the entity no longer uses are
// moved to the current queue. The returned set holds exactly the IDs still
// pending. When a queue cannot be examined, the input set is kept so a
// later activation can retry; failures are logged, never returned.
func Recover(ctx context.Context, ref model.EntityRef, interfaces []string, active model.IDSet, queues map[string]string, loc Locator, optFns ...func(o *RecoverOptions)) Recovery {
	opts := RecoverOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	logger := opts.Logger.With("entity", ref.String())

	out := Recovery{Active: model.NewIDSet(), Queues: make(map[string]string, len(interfaces))}
	var failed error
	for _, iface := range interfaces {
		cur, pending, migrated, err := recoverInterface(ctx, iface, active, queues[iface], loc, logger)
		if err != nil {
			logger.Warn("workflow recovery failed", "interface", iface, "error", err)
			failed = errors.Join(failed, err)
			if old, ok := queues[iface]; ok {
				out.Queues[iface] = old
			}
			continue
		}
		out.Queues[iface] = cur
		out.Active.Add(pending.Slice()...)
		out.Migrated += migrated
	}
	opts.Metrics.RecordRecovery(ref.Type, out.Migrated, failed)

	if failed != nil {
		out.Active = active.Clone()
	}
	out.Changed = !out.Active.Equal(active) || !sameQueues(out.Queues, queues)
	if out.Changed {
		logger.Info("workflow recovery done", "records", len(out.Active), "migrated", out.Migrated)
	}
	return out
}

func recoverInterface(ctx context.Context, iface string, active model.IDSet, oldID string, loc Locator, logger *slog.Logger) (string, model.IDSet, int, error) {
	cur, err := loc.Current(ctx, iface)
	if err != nil {
		return "", nil, 0, fmt.Errorf("resolve current queue: %w", err)
	}

	pending := model.NewIDSet()

	// Records that already reached the current queue stay where they are.
	records, inFlight := cur.PendingIn(active)
	ids := recordIDs(records)
	cur.Release(ids)
	pending.Add(ids...)
	pending.Add(inFlight.Slice()...)

	if oldID == "" || oldID == cur.ID() {
		return cur.ID(), pending, 0, nil
	}

	old, err := loc.Resolve(ctx, oldID)
	if errors.Is(err, model.ErrUnreachable) {
		logger.Debug("queue unreachable, using reincarnation", "queue", oldID)
		old, err = loc.Reincarnation(ctx, oldID)
	}
	if err != nil {
		return "", nil, 0, fmt.Errorf("resolve queue %s: %w", oldID, err)
	}

	records, inFlight = old.PendingIn(active)
	pending.Add(inFlight.Slice()...)
	if len(records) == 0 {
		return cur.ID(), pending, 0, nil
	}

	ids = recordIDs(records)
	if err := cur.EnqueueAll(ctx, records); err != nil {
		old.Release(ids)
		return "", nil, 0, fmt.Errorf("migrate %d records to %s: %w", len(records), cur.ID(), err)
	}
	pending.Add(ids...)

	if err := old.Remove(ctx, ids); err != nil {
		// The records now sit in both queues.
		old.Release(ids)
		logger.Warn("failed to remove migrated records", "queue", oldID, "records", len(ids), "error", err)
	}
	return cur.ID(), pending, len(records), nil
}

func recordIDs(records []*model.WorkflowRecord) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func sameQueues(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
